package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	gwmiddleware "github.com/lgulliver/webglpub/cmd/webgl-gateway/middleware"
	"github.com/lgulliver/webglpub/internal/lock"
	"github.com/lgulliver/webglpub/internal/publish"
	"github.com/lgulliver/webglpub/internal/site"
	"github.com/lgulliver/webglpub/internal/storage"
	"github.com/lgulliver/webglpub/pkg/types"
)

const testPrefix = "moodle-course-2-module-id-17"

// MockSiteService mocks the site service for testing
type MockSiteService struct {
	mock.Mock
}

func (m *MockSiteService) Publish(ctx context.Context, req *site.PublishRequest) (*site.PublishResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*site.PublishResult), args.Error(1)
}

func (m *MockSiteService) Get(ctx context.Context, courseID, moduleID int64) (*types.Site, error) {
	args := m.Called(ctx, courseID, moduleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Site), args.Error(1)
}

func (m *MockSiteService) Manifest(ctx context.Context, courseID, moduleID int64) (publish.Manifest, error) {
	args := m.Called(ctx, courseID, moduleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(publish.Manifest), args.Error(1)
}

func (m *MockSiteService) Archive(ctx context.Context, courseID, moduleID int64) (*types.Site, string, error) {
	args := m.Called(ctx, courseID, moduleID)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(*types.Site), args.String(1), args.Error(2)
}

func (m *MockSiteService) Releases(ctx context.Context, courseID, moduleID int64) ([]types.Release, error) {
	args := m.Called(ctx, courseID, moduleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Release), args.Error(1)
}

func (m *MockSiteService) Delete(ctx context.Context, courseID, moduleID int64, deleteContainer bool) error {
	args := m.Called(ctx, courseID, moduleID, deleteContainer)
	return args.Error(0)
}

// stubAuth accepts the bearer token "test-token"
type stubAuth struct{}

func (stubAuth) ValidateToken(ctx context.Context, token string) (*types.Principal, error) {
	if token != "test-token" {
		return nil, errors.New("invalid token")
	}
	return &types.Principal{Subject: "moodle.example.org"}, nil
}

func (stubAuth) ValidateAPIKey(ctx context.Context, apiKey string) (*types.Principal, error) {
	return nil, errors.New("invalid key")
}

func setupSiteRouter(svc SiteServiceInterface) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api/v1")
	api.Use(gwmiddleware.AuthMiddleware(stubAuth{}))
	SiteRoutes(api, svc)
	return router
}

func doRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func multipartUpload(t *testing.T, fields map[string]string, withFile bool) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if withFile {
		fw, err := mw.CreateFormFile("file", "MyGame.zip")
		require.NoError(t, err)
		_, err = fw.Write([]byte("PK\x03\x04zip-bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestPublishRoute_Success(t *testing.T) {
	svc := new(MockSiteService)
	result := &site.PublishResult{
		Site:    &types.Site{CourseID: 2, ModuleID: 17, Prefix: testPrefix, IndexURL: "https://cdn/" + testPrefix + "/index.html"},
		Release: &types.Release{Version: "1.0.0"},
	}
	svc.On("Publish", mock.Anything, mock.MatchedBy(func(req *site.PublishRequest) bool {
		return req.CourseID == 2 && req.ModuleID == 17 &&
			req.FileName == "MyGame.zip" &&
			req.Backend == "s3" &&
			req.Version == "2.0.0" &&
			req.StoreZip != nil && *req.StoreZip &&
			req.PublishedBy == "moodle.example.org"
	})).Return(result, nil)

	body, contentType := multipartUpload(t, map[string]string{"backend": "s3", "version": "2.0.0", "store_zip": "true"}, true)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/courses/2/modules/17/site", body)
	req.Header.Set("Content-Type", contentType)
	w := doRequest(setupSiteRouter(svc), req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Site types.Site `json:"site"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, result.Site.IndexURL, resp.Data.Site.IndexURL)
	svc.AssertExpectations(t)
}

func TestPublishRoute_BadInput(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		fields   map[string]string
		withFile bool
	}{
		{name: "missing file", path: "/api/v1/courses/2/modules/17/site", withFile: false},
		{name: "bad store_zip", path: "/api/v1/courses/2/modules/17/site", fields: map[string]string{"store_zip": "maybe"}, withFile: true},
		{name: "bad course id", path: "/api/v1/courses/abc/modules/17/site", withFile: true},
		{name: "zero module id", path: "/api/v1/courses/2/modules/0/site", withFile: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockSiteService)
			body, contentType := multipartUpload(t, tt.fields, tt.withFile)
			req := httptest.NewRequest(http.MethodPut, tt.path, body)
			req.Header.Set("Content-Type", contentType)

			w := doRequest(setupSiteRouter(svc), req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			svc.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
		})
	}
}

func TestPublishRoute_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "missing index", err: publish.ErrMissingIndexFile, wantStatus: http.StatusBadRequest},
		{name: "invalid request", err: site.ErrInvalidRequest, wantStatus: http.StatusBadRequest},
		{name: "busy", err: lock.ErrBusy, wantStatus: http.StatusConflict},
		{
			name:       "backend unavailable",
			err:        &publish.PublishError{Prefix: testPrefix, Key: "k", Err: storage.Unavailable("put", errors.New("reset"))},
			wantStatus: http.StatusBadGateway,
		},
		{name: "unexpected", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockSiteService)
			svc.On("Publish", mock.Anything, mock.Anything).Return(nil, tt.err)

			body, contentType := multipartUpload(t, nil, true)
			req := httptest.NewRequest(http.MethodPut, "/api/v1/courses/2/modules/17/site", body)
			req.Header.Set("Content-Type", contentType)

			w := doRequest(setupSiteRouter(svc), req)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), `"success":false`)
		})
	}
}

func TestGetSiteRoute(t *testing.T) {
	svc := new(MockSiteService)
	svc.On("Get", mock.Anything, int64(2), int64(17)).Return(&types.Site{Prefix: testPrefix}, nil)
	svc.On("Get", mock.Anything, int64(3), int64(1)).Return(nil, site.ErrSiteNotFound)
	router := setupSiteRouter(svc)

	w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/v1/courses/2/modules/17/site", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), testPrefix)

	w = doRequest(router, httptest.NewRequest(http.MethodGet, "/api/v1/courses/3/modules/1/site", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSiteRoute_Unauthenticated(t *testing.T) {
	svc := new(MockSiteService)
	w := httptest.NewRecorder()
	setupSiteRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/courses/2/modules/17/site", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	svc.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

func TestManifestRoute(t *testing.T) {
	svc := new(MockSiteService)
	manifest := publish.Manifest{{Key: testPrefix + "/index.html", Path: "index.html", Index: true}}
	svc.On("Manifest", mock.Anything, int64(2), int64(17)).Return(manifest, nil)

	w := doRequest(setupSiteRouter(svc), httptest.NewRequest(http.MethodGet, "/api/v1/courses/2/modules/17/site/manifest", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data publish.Manifest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, manifest, resp.Data)
}

func TestArchiveRoute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK-archive"), 0644))

	svc := new(MockSiteService)
	svc.On("Archive", mock.Anything, int64(2), int64(17)).Return(&types.Site{Prefix: testPrefix}, path, nil)

	w := doRequest(setupSiteRouter(svc), httptest.NewRequest(http.MethodGet, "/api/v1/courses/2/modules/17/site/archive", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PK-archive", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), testPrefix+".zip")

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "archive removed after serving")
}

func TestArchiveRoute_Failure(t *testing.T) {
	svc := new(MockSiteService)
	archiveErr := &publish.ArchiveError{Prefix: testPrefix, Key: "k", Err: storage.ErrNotFound}
	svc.On("Archive", mock.Anything, int64(2), int64(17)).Return(nil, "", archiveErr)

	w := doRequest(setupSiteRouter(svc), httptest.NewRequest(http.MethodGet, "/api/v1/courses/2/modules/17/site/archive", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReleasesRoute(t *testing.T) {
	svc := new(MockSiteService)
	svc.On("Releases", mock.Anything, int64(2), int64(17)).Return([]types.Release{{Version: "1.1.0"}, {Version: "1.0.0"}}, nil)

	w := doRequest(setupSiteRouter(svc), httptest.NewRequest(http.MethodGet, "/api/v1/courses/2/modules/17/site/releases", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"1.1.0"`)
}

func TestDeleteSiteRoute(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		container  bool
		wantStatus int
	}{
		{name: "default removes container", query: "", container: true, wantStatus: http.StatusOK},
		{name: "objects only", query: "?container=false", container: false, wantStatus: http.StatusOK},
		{name: "invalid flag", query: "?container=sometimes", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockSiteService)
			svc.On("Delete", mock.Anything, int64(2), int64(17), tt.container).Return(nil)

			w := doRequest(setupSiteRouter(svc), httptest.NewRequest(http.MethodDelete, "/api/v1/courses/2/modules/17/site"+tt.query, nil))
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				svc.AssertExpectations(t)
			} else {
				svc.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestDeleteSiteRoute_Incomplete(t *testing.T) {
	svc := new(MockSiteService)
	tdErr := &publish.TeardownError{Prefix: testPrefix, Remaining: 2, Err: storage.Unavailable("delete", errors.New("denied"))}
	svc.On("Delete", mock.Anything, int64(2), int64(17), true).Return(tdErr)

	w := doRequest(setupSiteRouter(svc), httptest.NewRequest(http.MethodDelete, "/api/v1/courses/2/modules/17/site", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "2 objects remain")
}
