package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/webglpub/pkg/types"
)

const principalKey = "principal"

// AuthMiddleware accepts a bearer JWT or an X-API-Key header. A bearer
// token that fails validation is rejected without falling back to the key.
func AuthMiddleware(authService AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				unauthorized(c)
				return
			}
			principal, err := authService.ValidateToken(ctx, strings.TrimSpace(token))
			if err != nil {
				log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("bearer token rejected")
				unauthorized(c)
				return
			}
			c.Set(principalKey, principal)
			c.Next()
			return
		}

		if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
			principal, err := authService.ValidateAPIKey(ctx, apiKey)
			if err != nil {
				log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("API key rejected")
				unauthorized(c)
				return
			}
			c.Set(principalKey, principal)
			c.Next()
			return
		}

		unauthorized(c)
	}
}

// RequireAdmin rejects principals without admin rights. It must run after
// AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			unauthorized(c)
			return
		}
		if !principal.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, types.APIResponse{
				Success: false,
				Error:   "admin access required",
			})
			return
		}
		c.Next()
	}
}

// GetPrincipal extracts the authenticated caller from gin context
func GetPrincipal(c *gin.Context) (*types.Principal, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	principal, ok := v.(*types.Principal)
	return principal, ok
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, types.APIResponse{
		Success: false,
		Error:   "unauthorized",
	})
}
