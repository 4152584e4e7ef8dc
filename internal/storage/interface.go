package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Kind selects a storage backend implementation
type Kind string

const (
	KindAzure Kind = "azure"
	KindS3    Kind = "s3"
	KindLocal Kind = "local"
)

// ParseKind converts a configuration value into a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindAzure:
		return KindAzure, nil
	case KindS3:
		return KindS3, nil
	case KindLocal, "disk":
		return KindLocal, nil
	default:
		return "", fmt.Errorf("unsupported storage type: %s", s)
	}
}

// Visibility controls anonymous read access to a container
type Visibility int

const (
	Private Visibility = iota
	PublicRead
)

// Object is one listed blob
type Object struct {
	Key  string
	URL  string
	Size int64
}

// Pager walks a listing one page at a time, following the backend's
// continuation token. A fresh Pager restarts the listing from the beginning.
type Pager interface {
	More() bool
	NextPage(ctx context.Context) ([]Object, error)
}

// Backend defines the contract every object store implements.
//
// Objects live in a container (bucket, blob container or file area). Some
// backends give each site its own container, others share one and isolate
// sites by key prefix; Layout tells callers which.
type Backend interface {
	// Kind identifies the implementation
	Kind() Kind

	// Layout maps a site prefix to its container and object key prefix
	Layout(prefix string) Layout

	// EnsureContainer creates the container if it is missing
	EnsureContainer(ctx context.Context, container string, visibility Visibility) error

	// DeleteContainer removes an empty container. Returns ErrNotEmpty if objects remain.
	DeleteContainer(ctx context.Context, container string) error

	// Put stores content under key, overwriting any existing object
	Put(ctx context.Context, container, key string, content io.Reader, opts PutOptions) error

	// List returns a pager over objects whose key starts with keyPrefix
	List(ctx context.Context, container, keyPrefix string) Pager

	// Get opens an object for reading. Returns ErrNotFound if key is absent.
	Get(ctx context.Context, container, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting an absent key is not an error.
	Delete(ctx context.Context, container, key string) error

	// URL returns the externally reachable address of an object
	URL(container, key string) string
}

// PutOptions is the HTTP metadata stored with an object and returned to
// browsers fetching it
type PutOptions struct {
	ContentType     string
	ContentEncoding string // "br" or "gzip" for precompressed build files
}

// Layout describes where a site's objects live inside a backend
type Layout struct {
	Container string
	// KeyPrefix is prepended to every relative path, without a trailing slash
	KeyPrefix string
	// Dedicated is true when the container belongs to this site alone
	Dedicated bool
}

// Key joins a relative path onto the layout's key prefix
func (l Layout) Key(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if l.KeyPrefix == "" {
		return rel
	}
	return l.KeyPrefix + "/" + rel
}

// ListPrefix is the prefix to list all of a site's objects without matching
// sibling prefixes that merely share a leading substring.
func (l Layout) ListPrefix() string {
	if l.KeyPrefix == "" {
		return ""
	}
	return l.KeyPrefix + "/"
}

// Relative strips the layout's key prefix from a full object key
func (l Layout) Relative(key string) string {
	return strings.TrimPrefix(key, l.ListPrefix())
}

// Walk visits every object from p, one page at a time. Pages are not
// accumulated; fn sees each object as soon as its page arrives.
func Walk(ctx context.Context, p Pager, fn func(Object) error) error {
	for p.More() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page {
			if err := fn(obj); err != nil {
				return err
			}
		}
	}
	return nil
}

// Collect drains a pager into a slice
func Collect(ctx context.Context, p Pager) ([]Object, error) {
	var objects []Object
	err := Walk(ctx, p, func(obj Object) error {
		objects = append(objects, obj)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}
