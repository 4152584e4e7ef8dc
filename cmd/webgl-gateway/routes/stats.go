package routes

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lgulliver/webglpub/internal/site"
	"github.com/lgulliver/webglpub/internal/storage"
	"github.com/lgulliver/webglpub/pkg/types"
)

const maxStatsDays = 366

// StatsRoutes sets up the publishing statistics route
func StatsRoutes(api *gin.RouterGroup, statsService StatsServiceInterface) {
	api.GET("/stats", handleStats(statsService))
}

func handleStats(statsService StatsServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := &site.StatsQuery{}

		if raw := c.Query("backend"); raw != "" {
			kind, err := storage.ParseKind(raw)
			if err != nil {
				badRequest(c, err.Error())
				return
			}
			query.Backend = string(kind)
		}
		if raw := c.Query("days"); raw != "" {
			days, err := strconv.Atoi(raw)
			if err != nil || days <= 0 || days > maxStatsDays {
				badRequest(c, "days must be between 1 and 366")
				return
			}
			since := time.Now().AddDate(0, 0, -days)
			query.Since = &since
		}

		stats, err := statsService.Stats(c.Request.Context(), query)
		if err != nil {
			respondError(c, err, "failed to get statistics")
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    stats,
		})
	}
}
