package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/webglpub/pkg/config"
)

// AzureAPI is the subset of *azblob.Client the backend uses
type AzureAPI interface {
	CreateContainer(ctx context.Context, containerName string, o *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error)
	DeleteContainer(ctx context.Context, containerName string, o *azblob.DeleteContainerOptions) (azblob.DeleteContainerResponse, error)
	UploadStream(ctx context.Context, containerName, blobName string, body io.Reader, o *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error)
	DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	DeleteBlob(ctx context.Context, containerName, blobName string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error)
	NewListBlobsFlatPager(containerName string, o *azblob.ListBlobsFlatOptions) *runtime.Pager[azblob.ListBlobsFlatResponse]
}

// AzureStorage implements Backend on Azure Blob Storage. All sites share the
// configured container and are isolated by a <prefix>/ key prefix.
type AzureStorage struct {
	client    AzureAPI
	endpoint  string
	container string
	pageSize  int
}

// NewAzureStorage creates an Azure backend using shared key credentials
func NewAzureStorage(cfg config.AzureConfig, pageSize int) (*AzureStorage, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure: account is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure: account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure: container is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure: build credentials: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}
	return NewAzureStorageWithClient(client, endpoint, cfg.ContainerName, pageSize), nil
}

// NewAzureStorageWithClient creates an Azure backend around an existing client
func NewAzureStorageWithClient(client AzureAPI, endpoint, containerName string, pageSize int) *AzureStorage {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &AzureStorage{
		client:    client,
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		container: containerName,
		pageSize:  pageSize,
	}
}

// Kind implements Backend
func (a *AzureStorage) Kind() Kind { return KindAzure }

// Layout keeps every site in the shared container
func (a *AzureStorage) Layout(prefix string) Layout {
	return Layout{Container: a.container, KeyPrefix: prefix}
}

// EnsureContainer creates the container with blob-level public access when
// requested; an existing container is left untouched.
func (a *AzureStorage) EnsureContainer(ctx context.Context, name string, visibility Visibility) error {
	opts := &azblob.CreateContainerOptions{}
	if visibility == PublicRead {
		opts.Access = to.Ptr(container.PublicAccessTypeBlob)
	}
	_, err := a.client.CreateContainer(ctx, name, opts)
	if err != nil {
		if hasAzureCode(err, "ContainerAlreadyExists") {
			return nil
		}
		return mapAzureError("azure: create container", err)
	}
	log.Info().Str("container", name).Msg("azure container created")
	return nil
}

// DeleteContainer refuses to remove a container that still holds blobs,
// since Azure itself would delete them silently.
func (a *AzureStorage) DeleteContainer(ctx context.Context, name string) error {
	pager := a.client.NewListBlobsFlatPager(name, &azblob.ListBlobsFlatOptions{MaxResults: to.Ptr(int32(1))})
	if pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			err = mapAzureError("azure: list blobs", err)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if page.Segment != nil && len(page.Segment.BlobItems) > 0 {
			return fmt.Errorf("azure: container %s: %w", name, ErrNotEmpty)
		}
	}

	if _, err := a.client.DeleteContainer(ctx, name, nil); err != nil {
		err = mapAzureError("azure: delete container", err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	log.Info().Str("container", name).Msg("azure container deleted")
	return nil
}

// Put uploads a block blob with its content type and encoding
func (a *AzureStorage) Put(ctx context.Context, containerName, key string, content io.Reader, opts PutOptions) error {
	if err := ValidateKey(key); err != nil {
		return fmt.Errorf("azure: key %q: %w", key, err)
	}
	headers := &blob.HTTPHeaders{BlobContentType: to.Ptr(opts.ContentType)}
	if opts.ContentEncoding != "" {
		headers.BlobContentEncoding = to.Ptr(opts.ContentEncoding)
	}
	_, err := a.client.UploadStream(ctx, containerName, key, content, &azblob.UploadStreamOptions{
		HTTPHeaders: headers,
	})
	if err != nil {
		return mapAzureError("azure: upload blob", err)
	}
	return nil
}

// List pages through the flat blob listing using its continuation marker
func (a *AzureStorage) List(ctx context.Context, containerName, keyPrefix string) Pager {
	pager := a.client.NewListBlobsFlatPager(containerName, &azblob.ListBlobsFlatOptions{
		Prefix:     to.Ptr(keyPrefix),
		MaxResults: to.Ptr(int32(a.pageSize)),
	})
	return &azurePager{a: a, container: containerName, pager: pager}
}

type azurePager struct {
	a         *AzureStorage
	container string
	pager     *runtime.Pager[azblob.ListBlobsFlatResponse]
}

func (p *azurePager) More() bool { return p.pager.More() }

func (p *azurePager) NextPage(ctx context.Context) ([]Object, error) {
	page, err := p.pager.NextPage(ctx)
	if err != nil {
		return nil, mapAzureError("azure: list blobs", err)
	}
	if page.Segment == nil {
		return nil, nil
	}
	objects := make([]Object, 0, len(page.Segment.BlobItems))
	for _, item := range page.Segment.BlobItems {
		if item == nil || item.Name == nil {
			continue
		}
		obj := Object{Key: *item.Name, URL: p.a.URL(p.container, *item.Name)}
		if item.Properties != nil && item.Properties.ContentLength != nil {
			obj.Size = *item.Properties.ContentLength
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// Get streams a blob
func (a *AzureStorage) Get(ctx context.Context, containerName, key string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, containerName, key, nil)
	if err != nil {
		return nil, mapAzureError("azure: download blob", err)
	}
	return resp.Body, nil
}

// Delete removes a blob; a missing blob is not an error
func (a *AzureStorage) Delete(ctx context.Context, containerName, key string) error {
	if _, err := a.client.DeleteBlob(ctx, containerName, key, nil); err != nil {
		err = mapAzureError("azure: delete blob", err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// URL returns the blob's public address
func (a *AzureStorage) URL(containerName, key string) string {
	return a.endpoint + "/" + containerName + "/" + escapePath(key)
}

func hasAzureCode(err error, codes ...string) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	for _, code := range codes {
		if strings.EqualFold(respErr.ErrorCode, code) {
			return true
		}
	}
	return false
}

func mapAzureError(op string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
		case hasAzureCode(err, "InvalidResourceName", "InvalidUri", "OutOfRangeInput"):
			return fmt.Errorf("%s: %w: %w", op, ErrInvalidKey, err)
		case respErr.StatusCode == http.StatusConflict && hasAzureCode(err, "ContainerBeingDeleted"):
			return Unavailable(op, err)
		case respErr.StatusCode == http.StatusForbidden || respErr.StatusCode == http.StatusUnauthorized:
			return Unavailable(op, err)
		case isTransientStatus(respErr.StatusCode):
			return Unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if isNetworkError(err) {
		return Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
