package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/webglpub/internal/common"
	"github.com/lgulliver/webglpub/pkg/auth"
	"github.com/lgulliver/webglpub/pkg/config"
	"github.com/lgulliver/webglpub/pkg/types"
	"github.com/lgulliver/webglpub/pkg/utils"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	// ErrInvalidCredentials is returned for any rejected token or key
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrKeyNotFound is returned when revoking an unknown key
	ErrKeyNotFound = errors.New("API key not found")
)

// Service authenticates LMS hosts by bearer JWT or API key
type Service struct {
	db     *common.Database
	config *config.AuthConfig
}

// NewService creates a new authentication service
func NewService(db *common.Database, config *config.AuthConfig) *Service {
	return &Service{
		db:     db,
		config: config,
	}
}

// IssueToken signs a bearer token for subject
func (s *Service) IssueToken(subject string, admin bool) (*types.AuthToken, error) {
	token, err := utils.GenerateJWT(subject, admin, s.config.JWTSecret, s.config.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &types.AuthToken{
		Token:     token,
		ExpiresAt: time.Now().Add(s.config.JWTExpiration),
		Subject:   subject,
	}, nil
}

// ValidateToken validates a bearer token shared with the LMS host
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*types.Principal, error) {
	claims, err := utils.ValidateJWT(tokenString, s.config.JWTSecret)
	if err != nil {
		log.Debug().Err(err).Msg("rejected bearer token")
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return &types.Principal{Subject: claims.Subject, IsAdmin: claims.Admin}, nil
}

// CreateAPIKey issues a new key. The plain key is returned once and never
// stored.
func (s *Service) CreateAPIKey(ctx context.Context, req *types.CreateAPIKeyRequest) (*types.APIKey, string, error) {
	keyValue, lookupID, secret, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate API key: %w", err)
	}

	keyHash, err := utils.HashSecret(secret, s.config.BCryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash API key: %w", err)
	}

	apiKey := &types.APIKey{
		Name:     req.Name,
		LookupID: lookupID,
		KeyHash:  keyHash,
		IsAdmin:  req.IsAdmin,
		IsActive: true,
	}
	if req.ExpiresIn > 0 {
		expires := time.Now().Add(req.ExpiresIn)
		apiKey.ExpiresAt = &expires
	}

	if err := s.db.WithContext(ctx).Create(apiKey).Error; err != nil {
		return nil, "", fmt.Errorf("failed to create API key: %w", err)
	}

	log.Info().Str("key_id", apiKey.ID.String()).Str("name", apiKey.Name).Msg("API key created")
	return apiKey, keyValue, nil
}

// ValidateAPIKey checks a presented key and returns its principal
func (s *Service) ValidateAPIKey(ctx context.Context, keyValue string) (*types.Principal, error) {
	lookupID, secret, ok := auth.ParseAPIKey(keyValue)
	if !ok {
		return nil, ErrInvalidCredentials
	}

	var apiKey types.APIKey
	err := s.db.WithContext(ctx).Where("lookup_id = ? AND is_active = ?", lookupID, true).First(&apiKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to validate API key: %w", err)
	}

	if !utils.CheckSecret(secret, apiKey.KeyHash) {
		return nil, ErrInvalidCredentials
	}
	if apiKey.ExpiresAt != nil && time.Now().After(*apiKey.ExpiresAt) {
		return nil, fmt.Errorf("%w: API key has expired", ErrInvalidCredentials)
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&apiKey).Update("last_used_at", now).Error; err != nil {
		log.Warn().Err(err).Str("key_id", apiKey.ID.String()).Msg("failed to record API key use")
	}

	return &types.Principal{Subject: apiKey.Name, IsAdmin: apiKey.IsAdmin, KeyID: apiKey.ID}, nil
}

// ListAPIKeys lists all API keys, newest first
func (s *Service) ListAPIKeys(ctx context.Context) ([]*types.APIKey, error) {
	var apiKeys []*types.APIKey
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&apiKeys).Error; err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return apiKeys, nil
}

// RevokeAPIKey deactivates an API key
func (s *Service) RevokeAPIKey(ctx context.Context, keyID uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&types.APIKey{}).
		Where("id = ?", keyID).
		Update("is_active", false)

	if result.Error != nil {
		return fmt.Errorf("failed to revoke API key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrKeyNotFound
	}

	log.Info().Str("key_id", keyID.String()).Msg("API key revoked")
	return nil
}
