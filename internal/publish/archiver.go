package publish

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lgulliver/webglpub/internal/storage"
)

// Archiver rebuilds a zip of everything published under a prefix
type Archiver struct {
	backend storage.Backend
	tempDir string
}

// NewArchiver creates an archiver writing temporary archives to tempDir,
// or the system temp directory when empty.
func NewArchiver(backend storage.Backend, tempDir string) *Archiver {
	return &Archiver{backend: backend, tempDir: tempDir}
}

// Write streams the site's objects into a zip written to w and returns the
// number of entries. The listing is consumed one page at a time. On error
// the bytes already written to w are not a valid archive.
func (a *Archiver) Write(ctx context.Context, prefix string, w io.Writer) (int, error) {
	zw := zip.NewWriter(w)
	container := a.backend.Layout(prefix).Container
	count := 0
	err := Walk(ctx, a.backend, prefix, func(e ManifestEntry) error {
		if err := a.add(ctx, zw, container, e); err != nil {
			return &ArchiveError{Prefix: prefix, Key: e.Key, Err: err}
		}
		count++
		return nil
	})
	if err != nil {
		var archiveErr *ArchiveError
		if !errors.As(err, &archiveErr) {
			err = &ArchiveError{Prefix: prefix, Err: err}
		}
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, &ArchiveError{Prefix: prefix, Err: fmt.Errorf("failed to finalize zip: %w", err)}
	}
	return count, nil
}

func (a *Archiver) add(ctx context.Context, zw *zip.Writer, container string, e ManifestEntry) error {
	rc, err := a.backend.Get(ctx, container, e.Key)
	if err != nil {
		return err
	}
	defer rc.Close()

	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     e.Path,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to add zip entry: %w", err)
	}
	if _, err := io.Copy(fw, rc); err != nil {
		return fmt.Errorf("failed to copy object: %w", err)
	}
	return nil
}

// Download assembles the archive in a temporary file and returns its path.
// The caller removes the file. A failed build leaves no file behind.
func (a *Archiver) Download(ctx context.Context, prefix string) (string, error) {
	startTime := time.Now()
	f, err := os.CreateTemp(a.tempDir, prefix+"-*.zip")
	if err != nil {
		return "", &ArchiveError{Prefix: prefix, Err: fmt.Errorf("failed to create temp file: %w", err)}
	}
	path := f.Name()

	count, err := a.Write(ctx, prefix, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = &ArchiveError{Prefix: prefix, Err: cerr}
	}
	if err != nil {
		os.Remove(path)
		log.Error().Err(err).Str("prefix", prefix).Msg("archive failed")
		return "", err
	}

	log.Info().
		Str("prefix", prefix).
		Int("entries", count).
		Dur("duration", time.Since(startTime)).
		Msg("site archived")
	return path, nil
}
