package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	gwmiddleware "github.com/lgulliver/webglpub/cmd/webgl-gateway/middleware"
	"github.com/lgulliver/webglpub/cmd/webgl-gateway/routes"
	"github.com/lgulliver/webglpub/internal/auth"
	"github.com/lgulliver/webglpub/internal/common"
	"github.com/lgulliver/webglpub/internal/lock"
	"github.com/lgulliver/webglpub/internal/middleware"
	"github.com/lgulliver/webglpub/internal/site"
	"github.com/lgulliver/webglpub/internal/storage"
	"github.com/lgulliver/webglpub/pkg/config"
)

func main() {
	// Load configuration
	cfg := config.LoadFromEnv()

	// Setup logging
	cfg.Logging.SetupLogging()

	log.Info().Msg("Starting WebGL publishing gateway")

	if err := cfg.Storage.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid storage configuration")
	}

	// Initialize database
	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize the prefix locker
	locker, cache, err := newLocker(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize locking")
	}
	if cache != nil {
		defer cache.Close()
	}

	// Initialize storage
	storageFactory := storage.NewStorageFactory(&cfg.Storage)
	defaultKind, err := storageFactory.DefaultKind()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid default storage backend")
	}
	if _, err := storageFactory.CreateStorage(defaultKind); err != nil {
		log.Fatal().Err(err).Str("backend", string(defaultKind)).Msg("Failed to initialize storage")
	}

	// Initialize services
	authService := auth.NewService(db, &cfg.Auth)
	siteService := site.NewService(db, storageFactory, locker, &cfg.Publish)

	router, err := setupRouter(authService, siteService, storageFactory, db, cache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up routes")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Publishes can take a while; give them time to finish
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	} else {
		log.Info().Msg("Server shutdown complete")
	}
}

// newLocker picks the in-process locker or a Redis one shared by every
// gateway instance
func newLocker(cfg *config.Config) (lock.Locker, *common.Cache, error) {
	switch cfg.Publish.LockBackend {
	case "", "memory":
		return lock.NewMemory(), nil, nil
	case "redis":
		cache, err := common.NewCache(&cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return lock.NewDistributed(cache, "webglpub:lock", cfg.Publish.LockTTL), cache, nil
	default:
		return nil, nil, fmt.Errorf("unsupported lock backend: %s", cfg.Publish.LockBackend)
	}
}

func setupRouter(authService *auth.Service, siteService *site.Service, storageFactory *storage.StorageFactory, db *common.Database, cache *common.Cache) (*gin.Engine, error) {
	// Set Gin mode based on log level
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.RequestLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Health check
	router.GET("/health", handleHealth(db, cache))

	// Locally stored sites are served by the gateway itself
	signer, err := storageFactory.Signer()
	if err != nil {
		return nil, err
	}
	localBackend, err := storageFactory.CreateStorage(storage.KindLocal)
	if err != nil {
		log.Warn().Err(err).Msg("local storage unavailable, /files disabled")
	} else {
		routes.FileRoutes(router, signer, localBackend)
	}

	// API routes
	api := router.Group("/api/v1")
	api.Use(gwmiddleware.AuthMiddleware(authService))
	{
		routes.SiteRoutes(api, siteService)

		admin := api.Group("")
		admin.Use(gwmiddleware.RequireAdmin())
		routes.APIKeyRoutes(admin, authService)
		routes.StatsRoutes(admin, siteService)
	}

	return router, nil
}

func handleHealth(db *common.Database, cache *common.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		checks := gin.H{}

		if sqlDB, err := db.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			checks["database"] = "unavailable"
			status, code = "degraded", http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
		if cache != nil {
			if err := cache.Ping(c.Request.Context()); err != nil {
				checks["redis"] = "unavailable"
				status, code = "degraded", http.StatusServiceUnavailable
			} else {
				checks["redis"] = "ok"
			}
		}

		c.JSON(code, gin.H{
			"status":  status,
			"service": "webgl-gateway",
			"checks":  checks,
			"time":    time.Now().UTC(),
		})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key, X-Request-ID, accept, origin, Cache-Control")
		c.Header("Access-Control-Allow-Methods", "PUT, OPTIONS, GET, DELETE, POST, HEAD")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
