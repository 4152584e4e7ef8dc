// Package publish uploads extracted WebGL builds to a storage backend and
// lists, archives and removes them again.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lgulliver/webglpub/internal/lock"
	"github.com/lgulliver/webglpub/internal/storage"
)

const defaultConcurrency = 8

// Publisher uploads content trees under a site prefix
type Publisher struct {
	backend     storage.Backend
	locker      lock.Locker
	concurrency int
}

// NewPublisher creates a publisher. concurrency bounds parallel uploads.
func NewPublisher(backend storage.Backend, locker lock.Locker, concurrency int) *Publisher {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if locker == nil {
		locker = lock.NewMemory()
	}
	return &Publisher{backend: backend, locker: locker, concurrency: concurrency}
}

// Option customizes a single publish
type Option func(*options)

type options struct {
	zipPath string
	zipName string
}

// WithOriginalZip also uploads the archive the tree was extracted from,
// stored as <prefix>/<name>.
func WithOriginalZip(path, name string) Option {
	return func(o *options) {
		o.zipPath = path
		o.zipName = name
	}
}

type upload struct {
	path string
	rel  string
	key  string
	size int64
}

// Publish uploads every regular file under the content root of dir to the
// site's prefix and returns the index URL with the manifest. The content
// root must hold index.html; otherwise ErrMissingIndexFile is returned
// before anything is written.
func (p *Publisher) Publish(ctx context.Context, dir, prefix string, opts ...Option) (string, Manifest, error) {
	startTime := time.Now()
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	root, err := FindContentRoot(dir)
	if err != nil {
		return "", nil, err
	}
	layout := p.backend.Layout(prefix)
	uploads, err := collect(root, layout)
	if err != nil {
		return "", nil, &PublishError{Prefix: prefix, Err: err}
	}

	unlock, err := p.locker.Lock(ctx, prefix)
	if err != nil {
		return "", nil, err
	}
	defer unlock()

	if err := p.backend.EnsureContainer(ctx, layout.Container, storage.PublicRead); err != nil {
		log.Error().Err(err).Str("prefix", prefix).Str("container", layout.Container).Msg("failed to ensure container")
		return "", nil, &PublishError{Prefix: prefix, Err: err}
	}

	if o.zipPath != "" {
		name := o.zipName
		if name == "" {
			name = filepath.Base(o.zipPath)
		}
		info, err := os.Stat(o.zipPath)
		if err != nil {
			return "", nil, &PublishError{Prefix: prefix, Err: err}
		}
		uploads = append(uploads, upload{path: o.zipPath, rel: name, key: layout.Key(name), size: info.Size()})
	}

	if err := p.uploadAll(ctx, prefix, layout, uploads); err != nil {
		return "", nil, err
	}

	manifest := make(Manifest, 0, len(uploads))
	for _, u := range uploads {
		manifest = append(manifest, ManifestEntry{
			Key:   u.key,
			Path:  u.rel,
			URL:   p.backend.URL(layout.Container, u.key),
			Size:  u.size,
			Index: u.rel == IndexFile,
		})
	}
	sort.Slice(manifest, func(i, j int) bool { return manifest[i].Path < manifest[j].Path })

	index, _ := manifest.Index()
	log.Info().
		Str("prefix", prefix).
		Str("backend", string(p.backend.Kind())).
		Int("objects", len(manifest)).
		Dur("duration", time.Since(startTime)).
		Msg("site published")
	return index.URL, manifest, nil
}

func (p *Publisher) uploadAll(ctx context.Context, prefix string, layout storage.Layout, uploads []upload) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	var (
		mu       sync.Mutex
		firstErr *PublishError
	)
	for _, u := range uploads {
		g.Go(func() error {
			if err := p.put(gctx, layout, u); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = &PublishError{Prefix: prefix, Key: u.key, Err: err}
				}
				mu.Unlock()
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if firstErr == nil {
			firstErr = &PublishError{Prefix: prefix, Err: err}
		}
		log.Error().Err(firstErr.Err).Str("prefix", prefix).Str("key", firstErr.Key).Msg("publish failed")
		return firstErr
	}
	return nil
}

func (p *Publisher) put(ctx context.Context, layout storage.Layout, u upload) error {
	contentType, err := storage.DetectContentType(u.path)
	if err != nil {
		return fmt.Errorf("failed to detect content type: %w", err)
	}
	f, err := os.Open(u.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", u.rel, err)
	}
	defer f.Close()

	opts := storage.PutOptions{ContentType: contentType, ContentEncoding: storage.ContentEncoding(u.rel)}
	if err := p.backend.Put(ctx, layout.Container, u.key, f, opts); err != nil {
		return err
	}
	log.Debug().
		Str("key", u.key).
		Str("content_type", opts.ContentType).
		Str("content_encoding", opts.ContentEncoding).
		Int64("size", u.size).
		Msg("object uploaded")
	return nil
}

// FindContentRoot locates the directory holding the site's index.html:
// dir itself, or else its first top-level folder. Archive metadata folders
// are ignored.
func FindContentRoot(dir string) (string, error) {
	if isRegular(filepath.Join(dir, IndexFile)) {
		return dir, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read content directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || skipEntry(e.Name()) {
			continue
		}
		root := filepath.Join(dir, e.Name())
		if isRegular(filepath.Join(root, IndexFile)) {
			return root, nil
		}
		break
	}
	return "", ErrMissingIndexFile
}

func skipEntry(name string) bool {
	return name == "__MACOSX" || strings.HasPrefix(name, ".")
}

func isRegular(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode().IsRegular()
}

// collect lists the regular files below root with their object keys.
// Symlinks and special files are not published.
func collect(root string, layout storage.Layout) ([]upload, error) {
	var uploads []upload
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipEntry(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		key := layout.Key(rel)
		if err := storage.ValidateKey(key); err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		uploads = append(uploads, upload{path: path, rel: rel, key: key, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, errors.New("content tree is empty")
	}
	return uploads, nil
}
