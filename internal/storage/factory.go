package storage

import (
	"fmt"
	"sync"

	"github.com/lgulliver/webglpub/pkg/config"
)

// StorageFactory creates storage backends based on configuration. Each kind
// is built once and shared by every site using it.
type StorageFactory struct {
	config   *config.StorageConfig
	mu       sync.Mutex
	backends map[Kind]Backend
	signer   URLSigner
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(config *config.StorageConfig) *StorageFactory {
	return &StorageFactory{config: config, backends: make(map[Kind]Backend)}
}

// DefaultKind returns the kind new sites use unless they ask otherwise
func (sf *StorageFactory) DefaultKind() (Kind, error) {
	return ParseKind(sf.config.Default)
}

// Signer returns the signer used for local URLs, creating it on first use
func (sf *StorageFactory) Signer() (URLSigner, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.signerLocked()
}

func (sf *StorageFactory) signerLocked() (URLSigner, error) {
	if sf.signer == nil {
		signer, err := NewTokenSigner(sf.config.Local.SigningKey, sf.config.Local.URLTTL)
		if err != nil {
			return nil, err
		}
		sf.signer = signer
	}
	return sf.signer, nil
}

// CreateStorage returns the backend for kind, wrapped with retries
func (sf *StorageFactory) CreateStorage(kind Kind) (Backend, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if b, ok := sf.backends[kind]; ok {
		return b, nil
	}

	var (
		backend Backend
		err     error
	)
	switch kind {
	case KindLocal:
		signer, serr := sf.signerLocked()
		if serr != nil {
			return nil, serr
		}
		backend, err = NewLocalStorage(sf.config.Local.Path, sf.config.Local.BaseURL, signer, sf.config.PageSize)
	case KindS3:
		backend, err = NewS3Storage(sf.config.S3, sf.config.PageSize)
	case KindAzure:
		backend, err = NewAzureStorage(sf.config.Azure, sf.config.PageSize)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", kind)
	}
	if err != nil {
		return nil, err
	}

	wrapped := NewRetrying(backend, sf.config.MaxRetries, sf.config.RequestTimeout)
	sf.backends[kind] = wrapped
	return wrapped, nil
}
