// Package extract unpacks uploaded site archives into scratch directories.
package extract

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidArchive means the upload is not a readable zip
	ErrInvalidArchive = errors.New("invalid zip archive")
	// ErrUnsafePath means an entry would land outside the extraction root
	ErrUnsafePath = errors.New("archive entry escapes extraction root")
	// ErrTooLarge means the upload or its extracted contents exceed the limit
	ErrTooLarge = errors.New("archive too large")
)

// Workspace is a scratch directory holding one upload and its contents
type Workspace struct {
	Root    string
	ZipPath string
	Dir     string
}

// Close removes the workspace and everything in it
func (w *Workspace) Close() error {
	return os.RemoveAll(w.Root)
}

// Extractor unpacks zips below a base directory
type Extractor struct {
	baseDir  string
	maxBytes int64
}

// New creates an extractor. maxBytes caps both the upload and the total
// uncompressed size; zero means unlimited.
func New(baseDir string, maxBytes int64) *Extractor {
	return &Extractor{baseDir: baseDir, maxBytes: maxBytes}
}

// Unpack saves the upload and extracts it into a fresh workspace. The
// caller must Close the workspace.
func (e *Extractor) Unpack(ctx context.Context, upload io.Reader, name string) (*Workspace, error) {
	root, err := os.MkdirTemp(e.baseDir, "upload-"+uuid.NewString()+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	ws := &Workspace{
		Root:    root,
		ZipPath: filepath.Join(root, zipName(name)),
		Dir:     filepath.Join(root, "content"),
	}

	if err := e.save(upload, ws.ZipPath); err != nil {
		ws.Close()
		return nil, err
	}
	if err := e.Extract(ctx, ws.ZipPath, ws.Dir); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

func (e *Extractor) save(upload io.Reader, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	defer f.Close()

	src := upload
	if e.maxBytes > 0 {
		src = io.LimitReader(upload, e.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	if e.maxBytes > 0 && n > e.maxBytes {
		return fmt.Errorf("upload exceeds %d bytes: %w", e.maxBytes, ErrTooLarge)
	}
	return f.Close()
}

// Extract unpacks zipPath into dest. Entries that would escape dest, links,
// and macOS resource-fork folders are rejected or skipped.
func (e *Extractor) Extract(ctx context.Context, zipPath, dest string) error {
	zr, err := zip.OpenReader(zipPath)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return fmt.Errorf("%s: %w", zipPath, ErrUnsafePath)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	var total int64
	files := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := entryPath(f.Name)
		if err != nil {
			return err
		}
		if rel == "" || skipped(rel) {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", rel, err)
			}
			continue
		case !mode.IsRegular():
			log.Debug().Str("entry", f.Name).Msg("skipping non-regular archive entry")
			continue
		}

		total += int64(f.UncompressedSize64)
		if e.maxBytes > 0 && total > e.maxBytes {
			return fmt.Errorf("extracted size exceeds %d bytes: %w", e.maxBytes, ErrTooLarge)
		}
		if err := e.writeFile(f, target); err != nil {
			return fmt.Errorf("failed to extract %s: %w", rel, err)
		}
		files++
	}

	log.Debug().Str("archive", zipPath).Int("files", files).Int64("bytes", total).Msg("archive extracted")
	return nil
}

func (e *Extractor) writeFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	// The header size can lie; cap the copy at what it declared
	limit := int64(f.UncompressedSize64)
	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	if n > limit {
		return fmt.Errorf("entry larger than declared: %w", ErrInvalidArchive)
	}
	return out.Close()
}

// entryPath cleans an archive entry name into a relative slash path,
// rejecting absolute names and parent references.
func entryPath(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafePath)
	}
	clean := path.Clean(name)
	if clean == "." {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafePath)
	}
	return clean, nil
}

func skipped(rel string) bool {
	first, _, _ := strings.Cut(rel, "/")
	return first == "__MACOSX" || path.Base(rel) == ".DS_Store"
}

func zipName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "upload.zip"
	}
	return base
}
