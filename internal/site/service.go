// Package site ties published content to its database records: it owns
// the publish workflow, the release history and site removal.
package site

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/lgulliver/webglpub/internal/common"
	"github.com/lgulliver/webglpub/internal/extract"
	"github.com/lgulliver/webglpub/internal/lock"
	"github.com/lgulliver/webglpub/internal/prefix"
	"github.com/lgulliver/webglpub/internal/publish"
	"github.com/lgulliver/webglpub/internal/storage"
	"github.com/lgulliver/webglpub/pkg/config"
	"github.com/lgulliver/webglpub/pkg/types"
	"github.com/lgulliver/webglpub/pkg/utils"
)

var (
	// ErrSiteNotFound is returned when a module has never been published
	ErrSiteNotFound = errors.New("site not found")
	// ErrInvalidRequest is returned for malformed publish or lookup input
	ErrInvalidRequest = errors.New("invalid request")
)

// Backends resolves a storage kind to a ready backend
type Backends interface {
	DefaultKind() (storage.Kind, error)
	CreateStorage(kind storage.Kind) (storage.Backend, error)
}

// Service manages published sites
type Service struct {
	db        *common.Database
	backends  Backends
	locker    lock.Locker
	extractor *extract.Extractor
	config    *config.PublishConfig
}

// NewService creates a new site service
func NewService(db *common.Database, backends Backends, locker lock.Locker, cfg *config.PublishConfig) *Service {
	if locker == nil {
		locker = lock.NewMemory()
	}
	return &Service{
		db:        db,
		backends:  backends,
		locker:    locker,
		extractor: extract.New(cfg.TempDir, cfg.MaxUploadBytes),
		config:    cfg,
	}
}

// PublishRequest describes one uploaded build
type PublishRequest struct {
	CourseID    int64
	ModuleID    int64
	Upload      io.Reader
	FileName    string
	Backend     string // empty means the site's existing or the default kind
	Version     string // empty means the next patch version
	StoreZip    *bool  // nil means the configured default
	PublishedBy string
}

// PublishResult is the outcome of a successful publish
type PublishResult struct {
	Site     *types.Site      `json:"site"`
	Release  *types.Release   `json:"release"`
	Manifest publish.Manifest `json:"manifest"`
}

// Publish extracts the upload, pushes it to the site's backend and then
// records the site and a release in one transaction. Nothing is written to
// the database when any step fails.
func (s *Service) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	startTime := time.Now()
	if err := validateIDs(req.CourseID, req.ModuleID); err != nil {
		return nil, err
	}
	if req.Upload == nil {
		return nil, fmt.Errorf("%w: missing upload", ErrInvalidRequest)
	}

	unlock, err := s.locker.Lock(ctx, moduleLockKey(req.CourseID, req.ModuleID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	site, existing, err := s.resolveSite(ctx, req)
	if err != nil {
		return nil, err
	}
	backend, err := s.backends.CreateStorage(storage.Kind(site.Backend))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage: %w", site.Backend, err)
	}

	ws, err := s.extractor.Unpack(ctx, req.Upload, req.FileName)
	if err != nil {
		if errors.Is(err, extract.ErrInvalidArchive) || errors.Is(err, extract.ErrUnsafePath) || errors.Is(err, extract.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return nil, err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.Warn().Err(err).Str("workspace", ws.Root).Msg("failed to remove workspace")
		}
	}()

	checksum, _, err := utils.ComputeSHA256File(ws.ZipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash upload: %w", err)
	}

	storeZip := s.config.StoreZipFile
	if req.StoreZip != nil {
		storeZip = *req.StoreZip
	}
	zipName := filepath.Base(ws.ZipPath)
	var opts []publish.Option
	if storeZip {
		opts = append(opts, publish.WithOriginalZip(ws.ZipPath, zipName))
	}

	publisher := publish.NewPublisher(backend, s.locker, s.config.Concurrency)
	indexURL, manifest, err := publisher.Publish(ctx, ws.Dir, site.Prefix, opts...)
	if err != nil {
		return nil, err
	}

	version := strings.TrimSpace(req.Version)
	if version == "" {
		version, err = s.nextVersion(ctx, site, existing)
		if err != nil {
			return nil, err
		}
	}

	var total int64
	for _, e := range manifest {
		total += e.Size
	}
	now := time.Now().UTC()
	site.IndexURL = indexURL
	site.PublishedAt = &now
	release := &types.Release{
		Version:     version,
		ZipName:     zipName,
		ObjectCount: len(manifest),
		Bytes:       total,
		SHA256:      checksum,
		PublishedBy: req.PublishedBy,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if existing {
			if err := tx.Model(site).Updates(map[string]interface{}{
				"index_url":    site.IndexURL,
				"published_at": site.PublishedAt,
			}).Error; err != nil {
				return fmt.Errorf("failed to update site: %w", err)
			}
		} else if err := tx.Create(site).Error; err != nil {
			return fmt.Errorf("failed to create site: %w", err)
		}
		release.SiteID = site.ID
		if err := tx.Create(release).Error; err != nil {
			return fmt.Errorf("failed to record release: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("prefix", site.Prefix).Msg("site uploaded but not recorded")
		return nil, err
	}

	log.Info().
		Int64("course_id", site.CourseID).
		Int64("module_id", site.ModuleID).
		Str("prefix", site.Prefix).
		Str("version", version).
		Str("size", utils.FormatBytes(total)).
		Dur("duration", time.Since(startTime)).
		Msg("site release recorded")
	return &PublishResult{Site: site, Release: release, Manifest: manifest}, nil
}

// resolveSite loads the site for the request or prepares a new one. The
// prefix and backend of an existing site never change.
func (s *Service) resolveSite(ctx context.Context, req *PublishRequest) (*types.Site, bool, error) {
	site, err := s.find(ctx, req.CourseID, req.ModuleID)
	switch {
	case err == nil:
		if req.Backend != "" {
			kind, err := storage.ParseKind(req.Backend)
			if err != nil {
				return nil, false, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
			}
			if string(kind) != site.Backend {
				return nil, false, fmt.Errorf("%w: site is published on %s, not %s", ErrInvalidRequest, site.Backend, kind)
			}
		}
		return site, true, nil
	case !errors.Is(err, ErrSiteNotFound):
		return nil, false, err
	}

	var kind storage.Kind
	if req.Backend != "" {
		kind, err = storage.ParseKind(req.Backend)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	} else if kind, err = s.backends.DefaultKind(); err != nil {
		return nil, false, err
	}

	p, err := prefix.Derive(s.config.HostID, req.CourseID, req.ModuleID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to derive prefix: %w", err)
	}
	return &types.Site{
		CourseID: req.CourseID,
		ModuleID: req.ModuleID,
		Prefix:   p,
		Backend:  string(kind),
	}, false, nil
}

func (s *Service) nextVersion(ctx context.Context, site *types.Site, existing bool) (string, error) {
	if !existing {
		return utils.NextVersion(nil), nil
	}
	var versions []string
	if err := s.db.WithContext(ctx).Model(&types.Release{}).Where("site_id = ?", site.ID).Pluck("version", &versions).Error; err != nil {
		return "", fmt.Errorf("failed to load releases: %w", err)
	}
	return utils.NextVersion(versions), nil
}

// Get returns the site for a module
func (s *Service) Get(ctx context.Context, courseID, moduleID int64) (*types.Site, error) {
	if err := validateIDs(courseID, moduleID); err != nil {
		return nil, err
	}
	return s.find(ctx, courseID, moduleID)
}

// Manifest lists what is currently stored for a module
func (s *Service) Manifest(ctx context.Context, courseID, moduleID int64) (publish.Manifest, error) {
	site, backend, err := s.siteBackend(ctx, courseID, moduleID)
	if err != nil {
		return nil, err
	}
	return publish.ListPublished(ctx, backend, site.Prefix)
}

// Archive builds a zip of the module's stored content in a temporary file.
// The caller removes the file.
func (s *Service) Archive(ctx context.Context, courseID, moduleID int64) (*types.Site, string, error) {
	site, backend, err := s.siteBackend(ctx, courseID, moduleID)
	if err != nil {
		return nil, "", err
	}
	path, err := publish.NewArchiver(backend, s.config.TempDir).Download(ctx, site.Prefix)
	if err != nil {
		return nil, "", err
	}
	return site, path, nil
}

// Releases returns the module's releases, newest version first
func (s *Service) Releases(ctx context.Context, courseID, moduleID int64) ([]types.Release, error) {
	site, err := s.Get(ctx, courseID, moduleID)
	if err != nil {
		return nil, err
	}

	var releases []types.Release
	if err := s.db.WithContext(ctx).Where("site_id = ?", site.ID).Find(&releases).Error; err != nil {
		return nil, fmt.Errorf("failed to load releases: %w", err)
	}
	utils.SortNewestFirst(releases,
		func(r types.Release) string { return r.Version },
		func(r types.Release) time.Time { return r.CreatedAt },
	)
	return releases, nil
}

// Delete tears the module's content down and then removes its records.
// Records are kept when teardown is incomplete so it can be retried.
func (s *Service) Delete(ctx context.Context, courseID, moduleID int64, deleteContainer bool) error {
	if err := validateIDs(courseID, moduleID); err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, moduleLockKey(courseID, moduleID))
	if err != nil {
		return err
	}
	defer unlock()

	site, backend, err := s.siteBackend(ctx, courseID, moduleID)
	if err != nil {
		return err
	}

	teardown := publish.NewTeardown(backend, s.locker, s.config.TeardownRounds, s.config.Concurrency)
	if err := teardown.Remove(ctx, site.Prefix, deleteContainer); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("site_id = ?", site.ID).Delete(&types.Release{}).Error; err != nil {
			return fmt.Errorf("failed to delete releases: %w", err)
		}
		if err := tx.Delete(site).Error; err != nil {
			return fmt.Errorf("failed to delete site: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("prefix", site.Prefix).Bool("container", deleteContainer).Msg("site deleted")
	return nil
}

func (s *Service) find(ctx context.Context, courseID, moduleID int64) (*types.Site, error) {
	var site types.Site
	err := s.db.WithContext(ctx).Where("course_id = ? AND module_id = ?", courseID, moduleID).First(&site).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSiteNotFound
		}
		return nil, fmt.Errorf("failed to load site: %w", err)
	}
	return &site, nil
}

func (s *Service) siteBackend(ctx context.Context, courseID, moduleID int64) (*types.Site, storage.Backend, error) {
	site, err := s.Get(ctx, courseID, moduleID)
	if err != nil {
		return nil, nil, err
	}
	backend, err := s.backends.CreateStorage(storage.Kind(site.Backend))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s storage: %w", site.Backend, err)
	}
	return site, backend, nil
}

func validateIDs(courseID, moduleID int64) error {
	if courseID <= 0 || moduleID <= 0 {
		return fmt.Errorf("%w: course and module ids must be positive", ErrInvalidRequest)
	}
	return nil
}

func moduleLockKey(courseID, moduleID int64) string {
	return fmt.Sprintf("module:%d:%d", courseID, moduleID)
}
