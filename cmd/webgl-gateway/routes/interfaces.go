package routes

import (
	"context"

	"github.com/google/uuid"

	"github.com/lgulliver/webglpub/internal/publish"
	"github.com/lgulliver/webglpub/internal/site"
	"github.com/lgulliver/webglpub/pkg/types"
)

// SiteServiceInterface defines the contract for site services
type SiteServiceInterface interface {
	Publish(ctx context.Context, req *site.PublishRequest) (*site.PublishResult, error)
	Get(ctx context.Context, courseID, moduleID int64) (*types.Site, error)
	Manifest(ctx context.Context, courseID, moduleID int64) (publish.Manifest, error)
	Archive(ctx context.Context, courseID, moduleID int64) (*types.Site, string, error)
	Releases(ctx context.Context, courseID, moduleID int64) ([]types.Release, error)
	Delete(ctx context.Context, courseID, moduleID int64, deleteContainer bool) error
}

// APIKeyServiceInterface defines the contract for API key management
type APIKeyServiceInterface interface {
	CreateAPIKey(ctx context.Context, req *types.CreateAPIKeyRequest) (*types.APIKey, string, error)
	ListAPIKeys(ctx context.Context) ([]*types.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID uuid.UUID) error
}

// StatsServiceInterface defines the contract for publishing statistics
type StatsServiceInterface interface {
	Stats(ctx context.Context, query *site.StatsQuery) (*site.Stats, error)
}
