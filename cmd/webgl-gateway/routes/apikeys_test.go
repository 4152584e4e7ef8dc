package routes

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/lgulliver/webglpub/internal/auth"
	"github.com/lgulliver/webglpub/pkg/types"
)

// MockAPIKeyService mocks API key management for testing
type MockAPIKeyService struct {
	mock.Mock
}

func (m *MockAPIKeyService) CreateAPIKey(ctx context.Context, req *types.CreateAPIKeyRequest) (*types.APIKey, string, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(*types.APIKey), args.String(1), args.Error(2)
}

func (m *MockAPIKeyService) ListAPIKeys(ctx context.Context) ([]*types.APIKey, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.APIKey), args.Error(1)
}

func (m *MockAPIKeyService) RevokeAPIKey(ctx context.Context, keyID uuid.UUID) error {
	return m.Called(ctx, keyID).Error(0)
}

func setupKeyRouter(svc APIKeyServiceInterface) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	APIKeyRoutes(router.Group("/api/v1"), svc)
	return router
}

func TestCreateAPIKeyRoute(t *testing.T) {
	svc := new(MockAPIKeyService)
	key := &types.APIKey{ID: uuid.New(), Name: "moodle-prod", LookupID: "0123456789ab"}
	svc.On("CreateAPIKey", mock.Anything, mock.MatchedBy(func(req *types.CreateAPIKeyRequest) bool {
		return req.Name == "moodle-prod"
	})).Return(key, "wgl_secret", nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/api-keys", bytes.NewBufferString(`{"name":"moodle-prod"}`))
	req.Header.Set("Content-Type", "application/json")
	setupKeyRouter(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "wgl_secret")
	assert.NotContains(t, w.Body.String(), "key_hash")
	svc.AssertExpectations(t)
}

func TestCreateAPIKeyRoute_MissingName(t *testing.T) {
	svc := new(MockAPIKeyService)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/api-keys", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	setupKeyRouter(svc).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "CreateAPIKey", mock.Anything, mock.Anything)
}

func TestRevokeAPIKeyRoute(t *testing.T) {
	known, unknown := uuid.New(), uuid.New()
	svc := new(MockAPIKeyService)
	svc.On("RevokeAPIKey", mock.Anything, known).Return(nil)
	svc.On("RevokeAPIKey", mock.Anything, unknown).Return(auth.ErrKeyNotFound)
	router := setupKeyRouter(svc)

	tests := []struct {
		id         string
		wantStatus int
	}{
		{id: known.String(), wantStatus: http.StatusOK},
		{id: unknown.String(), wantStatus: http.StatusNotFound},
		{id: "not-a-uuid", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/api-keys/"+tt.id, nil))
		assert.Equal(t, tt.wantStatus, w.Code, tt.id)
	}
}

func TestListAPIKeysRoute(t *testing.T) {
	svc := new(MockAPIKeyService)
	svc.On("ListAPIKeys", mock.Anything).Return([]*types.APIKey{{Name: "a"}, {Name: "b"}}, nil)

	w := httptest.NewRecorder()
	setupKeyRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/api-keys", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"b"`)
}
