package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/webglpub/internal/middleware"
	"github.com/lgulliver/webglpub/pkg/types"
)

// APIKeyRoutes sets up API key management. The group must already require
// an admin principal.
func APIKeyRoutes(api *gin.RouterGroup, keyService APIKeyServiceInterface) {
	keys := api.Group("/api-keys")
	keys.POST("", handleCreateAPIKey(keyService))
	keys.GET("", handleListAPIKeys(keyService))
	keys.DELETE("/:id", handleRevokeAPIKey(keyService))
}

func handleCreateAPIKey(keyService APIKeyServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.CreateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		apiKey, keyValue, err := keyService.CreateAPIKey(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err, "failed to create API key")
			return
		}

		log.Info().
			Str("request_id", middleware.RequestID(c)).
			Str("key_id", apiKey.ID.String()).
			Msg("API key issued")

		c.JSON(http.StatusCreated, types.APIResponse{
			Success: true,
			Message: "store this key now, it cannot be shown again",
			Data: gin.H{
				"api_key": apiKey,
				"key":     keyValue,
			},
		})
	}
}

func handleListAPIKeys(keyService APIKeyServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		keys, err := keyService.ListAPIKeys(c.Request.Context())
		if err != nil {
			respondError(c, err, "failed to list API keys")
			return
		}
		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: keys})
	}
}

func handleRevokeAPIKey(keyService APIKeyServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		keyID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			badRequest(c, "invalid API key id")
			return
		}

		if err := keyService.RevokeAPIKey(c.Request.Context(), keyID); err != nil {
			respondError(c, err, "failed to revoke API key")
			return
		}
		c.JSON(http.StatusOK, types.APIResponse{Success: true, Message: "API key revoked"})
	}
}
