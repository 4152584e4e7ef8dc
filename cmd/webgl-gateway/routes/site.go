package routes

import (
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	gwmiddleware "github.com/lgulliver/webglpub/cmd/webgl-gateway/middleware"
	"github.com/lgulliver/webglpub/internal/middleware"
	"github.com/lgulliver/webglpub/internal/site"
	"github.com/lgulliver/webglpub/pkg/types"
)

// SiteRoutes sets up the per-module site routes
func SiteRoutes(api *gin.RouterGroup, siteService SiteServiceInterface) {
	sites := api.Group("/courses/:course/modules/:module/site")

	sites.PUT("", handlePublish(siteService))
	sites.GET("", handleGetSite(siteService))
	sites.DELETE("", handleDeleteSite(siteService))
	sites.GET("/manifest", handleManifest(siteService))
	sites.GET("/archive", handleArchive(siteService))
	sites.GET("/releases", handleReleases(siteService))
}

// moduleParams parses the course and module path parameters
func moduleParams(c *gin.Context) (int64, int64, bool) {
	courseID, err := strconv.ParseInt(c.Param("course"), 10, 64)
	if err != nil || courseID <= 0 {
		badRequest(c, "invalid course id")
		return 0, 0, false
	}
	moduleID, err := strconv.ParseInt(c.Param("module"), 10, 64)
	if err != nil || moduleID <= 0 {
		badRequest(c, "invalid module id")
		return 0, 0, false
	}
	return courseID, moduleID, true
}

func handlePublish(siteService SiteServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		courseID, moduleID, ok := moduleParams(c)
		if !ok {
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "a zip file is required in the 'file' field")
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			badRequest(c, "failed to read uploaded file")
			return
		}
		defer file.Close()

		req := &site.PublishRequest{
			CourseID: courseID,
			ModuleID: moduleID,
			Upload:   file,
			FileName: fileHeader.Filename,
			Backend:  c.PostForm("backend"),
			Version:  c.PostForm("version"),
		}
		if raw := c.PostForm("store_zip"); raw != "" {
			storeZip, err := strconv.ParseBool(raw)
			if err != nil {
				badRequest(c, "store_zip must be true or false")
				return
			}
			req.StoreZip = &storeZip
		}
		if principal, ok := gwmiddleware.GetPrincipal(c); ok {
			req.PublishedBy = principal.Subject
		}

		log.Info().
			Str("request_id", middleware.RequestID(c)).
			Int64("course_id", courseID).
			Int64("module_id", moduleID).
			Str("file", fileHeader.Filename).
			Int64("size", fileHeader.Size).
			Msg("publish request")

		result, err := siteService.Publish(c.Request.Context(), req)
		if err != nil {
			respondError(c, err, "failed to publish site")
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "site published",
			Data:    result,
		})
	}
}

func handleGetSite(siteService SiteServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		courseID, moduleID, ok := moduleParams(c)
		if !ok {
			return
		}

		s, err := siteService.Get(c.Request.Context(), courseID, moduleID)
		if err != nil {
			respondError(c, err, "failed to get site")
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    s,
		})
	}
}

func handleManifest(siteService SiteServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		courseID, moduleID, ok := moduleParams(c)
		if !ok {
			return
		}

		manifest, err := siteService.Manifest(c.Request.Context(), courseID, moduleID)
		if err != nil {
			respondError(c, err, "failed to list site")
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    manifest,
		})
	}
}

func handleArchive(siteService SiteServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		courseID, moduleID, ok := moduleParams(c)
		if !ok {
			return
		}

		s, path, err := siteService.Archive(c.Request.Context(), courseID, moduleID)
		if err != nil {
			respondError(c, err, "failed to archive site")
			return
		}
		defer func() {
			if err := os.Remove(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to remove archive")
			}
		}()

		c.Header("Content-Type", "application/zip")
		c.FileAttachment(path, s.Prefix+".zip")
	}
}

func handleReleases(siteService SiteServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		courseID, moduleID, ok := moduleParams(c)
		if !ok {
			return
		}

		releases, err := siteService.Releases(c.Request.Context(), courseID, moduleID)
		if err != nil {
			respondError(c, err, "failed to list releases")
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    releases,
		})
	}
}

func handleDeleteSite(siteService SiteServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		courseID, moduleID, ok := moduleParams(c)
		if !ok {
			return
		}

		deleteContainer := true
		if raw := c.Query("container"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				badRequest(c, "container must be true or false")
				return
			}
			deleteContainer = v
		}

		if err := siteService.Delete(c.Request.Context(), courseID, moduleID, deleteContainer); err != nil {
			respondError(c, err, "failed to delete site")
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "site deleted",
		})
	}
}
