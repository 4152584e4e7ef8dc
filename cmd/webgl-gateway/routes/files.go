package routes

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/webglpub/internal/middleware"
	"github.com/lgulliver/webglpub/internal/storage"
)

// sniffLen is how much of a file is inspected to type it
const sniffLen = 512

// FileRoutes serves objects of the local backend. The token in the path
// scopes the request to one site, so assets referenced relatively from
// index.html resolve under the same token.
func FileRoutes(router gin.IRouter, verifier storage.URLSigner, backend storage.Backend) {
	router.GET("/files/:token/*key", handleServeFile(verifier, backend))
	router.HEAD("/files/:token/*key", handleServeFile(verifier, backend))
}

func handleServeFile(verifier storage.URLSigner, backend storage.Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, err := verifier.Verify(c.Param("token"))
		if err != nil {
			log.Debug().Err(err).Str("request_id", middleware.RequestID(c)).Msg("file token rejected")
			c.Status(http.StatusForbidden)
			return
		}

		key := strings.TrimPrefix(c.Param("key"), "/")
		if err := storage.ValidateKey(key); err != nil || !scope.Allows(scope.Container, key) {
			c.Status(http.StatusForbidden)
			return
		}

		rc, err := backend.Get(c.Request.Context(), scope.Container, key)
		if err != nil {
			c.Status(statusFor(err))
			return
		}
		defer rc.Close()

		// Extensionless files are typed from their leading bytes, as at publish
		body := bufio.NewReaderSize(rc, sniffLen)
		head, err := body.Peek(sniffLen)
		if err != nil && !errors.Is(err, io.EOF) {
			log.Error().Err(err).Str("key", key).Msg("failed to read file")
			c.Status(http.StatusInternalServerError)
			return
		}

		headers := map[string]string{"Cache-Control": "public, max-age=300"}
		if enc := storage.ContentEncoding(key); enc != "" {
			headers["Content-Encoding"] = enc
		}
		c.DataFromReader(http.StatusOK, -1, storage.ContentTypeFor(key, head), body, headers)
	}
}
