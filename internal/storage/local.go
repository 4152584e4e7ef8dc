package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// localArea is the single file area all sites share on disk
	localArea     = "content"
	tempMarker    = ".webgl-tmp-"
	localPageSize = 1000
)

// LocalStorage implements Backend on the local filesystem. Objects are
// served back through the gateway's /files route using signed tokens.
type LocalStorage struct {
	basePath string
	baseURL  string
	signer   URLSigner
	pageSize int
	mutex    sync.RWMutex // For concurrent access safety
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath, baseURL string, signer URLSigner, pageSize int) (*LocalStorage, error) {
	// Ensure the base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if signer == nil {
		return nil, fmt.Errorf("local storage requires a url signer")
	}
	if pageSize <= 0 {
		pageSize = localPageSize
	}

	log.Info().Str("path", basePath).Msg("local storage initialized")
	return &LocalStorage{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		signer:   signer,
		pageSize: pageSize,
	}, nil
}

// Kind implements Backend
func (ls *LocalStorage) Kind() Kind { return KindLocal }

// Layout places every site in the shared content area, keyed by prefix
func (ls *LocalStorage) Layout(prefix string) Layout {
	return Layout{Container: localArea, KeyPrefix: prefix}
}

// EnsureContainer creates the area directory. Visibility does not apply on disk.
func (ls *LocalStorage) EnsureContainer(ctx context.Context, container string, visibility Visibility) error {
	if err := ValidateKey(container); err != nil {
		return fmt.Errorf("invalid container %q: %w", container, err)
	}
	if err := os.MkdirAll(filepath.Join(ls.basePath, container), 0755); err != nil {
		return fmt.Errorf("failed to create container directory: %w", err)
	}
	return nil
}

// DeleteContainer removes the area directory once it is empty. The shared
// area is never removed while another site still has files in it.
func (ls *LocalStorage) DeleteContainer(ctx context.Context, container string) error {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	dir := filepath.Join(ls.basePath, container)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read container: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("container %s: %w", container, ErrNotEmpty)
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Put saves content to the local filesystem with atomic writes and integrity checks
func (ls *LocalStorage) Put(ctx context.Context, container, key string, content io.Reader, opts PutOptions) error {
	startTime := time.Now()

	// Check if context is cancelled before starting
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := ValidateKey(key); err != nil {
		return fmt.Errorf("invalid key %q: %w", key, err)
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	fullPath := ls.fullPath(container, key)

	// Ensure the directory exists
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Error().Err(err).Str("key", key).Str("dir", dir).Msg("failed to create directory")
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Create temporary file for atomic write
	tempPath := fullPath + tempMarker + fmt.Sprintf("%d", time.Now().UnixNano())
	tempFile, err := os.Create(tempPath)
	if err != nil {
		log.Error().Err(err).Str("key", key).Str("temp_path", tempPath).Msg("failed to create temporary file")
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	// Ensure cleanup of temp file on failure
	defer func() {
		tempFile.Close()
		if _, err := os.Stat(tempPath); err == nil {
			os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	bytesWritten, err := io.Copy(io.MultiWriter(tempFile, hasher), content)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to write content to temporary file")
		return fmt.Errorf("failed to write content: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to sync temporary file")
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}

	tempFile.Close()

	if err := os.Rename(tempPath, fullPath); err != nil {
		log.Error().Err(err).Str("key", key).Str("temp_path", tempPath).Msg("failed to move temporary file to final location")
		return fmt.Errorf("failed to move file to final location: %w", err)
	}

	log.Debug().
		Str("container", container).
		Str("key", key).
		Str("content_type", opts.ContentType).
		Int64("bytes_written", bytesWritten).
		Str("checksum", hex.EncodeToString(hasher.Sum(nil))).
		Dur("duration", time.Since(startTime)).
		Msg("file stored successfully")

	return nil
}

// Get opens a file for reading
func (ls *LocalStorage) Get(ctx context.Context, container, key string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := ValidateKey(key); err != nil {
		return nil, fmt.Errorf("invalid key %q: %w", key, err)
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	file, err := os.Open(ls.fullPath(container, key))
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("key", key).Msg("file not found")
			return nil, fmt.Errorf("file not found: %s: %w", key, ErrNotFound)
		}
		log.Error().Err(err).Str("key", key).Msg("failed to open file")
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes a file and prunes directories it leaves empty
func (ls *LocalStorage) Delete(ctx context.Context, container, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := ValidateKey(key); err != nil {
		return fmt.Errorf("invalid key %q: %w", key, err)
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	fullPath := ls.fullPath(container, key)
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("key", key).Msg("file already deleted or does not exist")
			return nil
		}
		log.Error().Err(err).Str("key", key).Msg("failed to delete file")
		return fmt.Errorf("failed to delete file: %w", err)
	}

	stop := filepath.Join(ls.basePath, container)
	for dir := filepath.Dir(fullPath); dir != stop && strings.HasPrefix(dir, stop); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break // not empty
		}
	}

	log.Debug().Str("container", container).Str("key", key).Msg("file deleted successfully")
	return nil
}

// List returns a pager over files whose key starts with keyPrefix, in
// lexical key order.
func (ls *LocalStorage) List(ctx context.Context, container, keyPrefix string) Pager {
	return &localPager{ls: ls, container: container, keyPrefix: keyPrefix, more: true}
}

// URL returns a gateway address carrying a token scoped to the key's site
func (ls *LocalStorage) URL(container, key string) string {
	site, _, _ := strings.Cut(key, "/")
	token, err := ls.signer.Sign(Scope{Container: container, Prefix: site})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to sign url")
		return ""
	}
	return ls.baseURL + "/files/" + token + "/" + escapePath(key)
}

func (ls *LocalStorage) fullPath(container, key string) string {
	return filepath.Join(ls.basePath, container, filepath.FromSlash(key))
}

// localPager walks the container in lexical key order, resuming after the
// last key of the previous page. Keys removed between pages do not disturb
// the position.
type localPager struct {
	ls        *LocalStorage
	container string
	keyPrefix string
	marker    string
	more      bool
}

func (p *localPager) More() bool { return p.more }

func (p *localPager) NextPage(ctx context.Context) ([]Object, error) {
	if !p.more {
		return nil, fmt.Errorf("no more pages")
	}

	p.ls.mutex.RLock()
	defer p.ls.mutex.RUnlock()

	page := make([]Object, 0, p.ls.pageSize)
	root := filepath.Join(p.ls.basePath, p.container)
	_, err := p.walk(ctx, root, "", func(key string, size int64) bool {
		page = append(page, Object{Key: key, Size: size})
		return len(page) >= p.ls.pageSize
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	if len(page) < p.ls.pageSize {
		p.more = false
	} else {
		p.marker = page[len(page)-1].Key
	}
	for i := range page {
		page[i].URL = p.ls.URL(p.container, page[i].Key)
	}
	return page, nil
}

// walk visits files below dir whose keys sort after the marker. Directory
// entries are ordered by name plus "/" so the traversal matches the order
// of the full keys.
func (p *localPager) walk(ctx context.Context, dir, rel string, visit func(string, int64) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	sortName := func(e os.DirEntry) string {
		if e.IsDir() {
			return e.Name() + "/"
		}
		return e.Name()
	}
	sort.Slice(entries, func(i, j int) bool { return sortName(entries[i]) < sortName(entries[j]) })

	for _, e := range entries {
		key := path.Join(rel, e.Name())
		if e.IsDir() {
			sub := key + "/"
			if !strings.HasPrefix(sub, p.keyPrefix) && !strings.HasPrefix(p.keyPrefix, sub) {
				continue
			}
			if p.marker != "" && sub <= p.marker && !strings.HasPrefix(p.marker, sub) {
				continue
			}
			stop, err := p.walk(ctx, filepath.Join(dir, e.Name()), key, visit)
			if err != nil || stop {
				return stop, err
			}
			continue
		}
		if strings.Contains(e.Name(), tempMarker) || !strings.HasPrefix(key, p.keyPrefix) {
			continue
		}
		if p.marker != "" && key <= p.marker {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed mid-walk
		}
		if visit(key, info.Size()) {
			return true, nil
		}
	}
	return false, nil
}

func escapePath(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
