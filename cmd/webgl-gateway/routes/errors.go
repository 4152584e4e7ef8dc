package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/webglpub/internal/auth"
	"github.com/lgulliver/webglpub/internal/lock"
	"github.com/lgulliver/webglpub/internal/middleware"
	"github.com/lgulliver/webglpub/internal/publish"
	"github.com/lgulliver/webglpub/internal/site"
	"github.com/lgulliver/webglpub/internal/storage"
	"github.com/lgulliver/webglpub/pkg/types"
)

// statusFor maps service errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, site.ErrInvalidRequest),
		errors.Is(err, publish.ErrMissingIndexFile),
		errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, site.ErrSiteNotFound),
		errors.Is(err, auth.ErrKeyNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lock.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, storage.ErrBackendUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.
		Str("request_id", middleware.RequestID(c)).
		Int("status", status).
		Err(err).
		Msg(msg)

	_ = c.Error(err)
	c.JSON(status, types.APIResponse{
		Success: false,
		Message: msg,
		Error:   err.Error(),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, types.APIResponse{
		Success: false,
		Error:   msg,
	})
}
