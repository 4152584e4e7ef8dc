package publish

import (
	"context"
	"errors"

	"github.com/lgulliver/webglpub/internal/storage"
)

// IndexFile is the entry point every published site must carry
const IndexFile = "index.html"

// ManifestEntry is one published object
type ManifestEntry struct {
	Key  string `json:"key"`
	Path string `json:"path"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
	// Index marks the site's top-level index.html
	Index bool `json:"index,omitempty"`
}

// Manifest lists a site's objects
type Manifest []ManifestEntry

// Index returns the index entry, if present
func (m Manifest) Index() (ManifestEntry, bool) {
	for _, e := range m {
		if e.Index {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// Paths returns the relative paths of all entries
func (m Manifest) Paths() []string {
	paths := make([]string, len(m))
	for i, e := range m {
		paths[i] = e.Path
	}
	return paths
}

func entryFor(layout storage.Layout, obj storage.Object) ManifestEntry {
	rel := layout.Relative(obj.Key)
	return ManifestEntry{
		Key:   obj.Key,
		Path:  rel,
		URL:   obj.URL,
		Size:  obj.Size,
		Index: rel == IndexFile,
	}
}

// Walk visits every object published under prefix, page by page. A
// missing container is an empty site.
func Walk(ctx context.Context, backend storage.Backend, prefix string, fn func(ManifestEntry) error) error {
	layout := backend.Layout(prefix)
	pager := backend.List(ctx, layout.Container, layout.ListPrefix())
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		}
		for _, obj := range page {
			if err := fn(entryFor(layout, obj)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListPublished returns the manifest of everything published under prefix
func ListPublished(ctx context.Context, backend storage.Backend, prefix string) (Manifest, error) {
	manifest := Manifest{}
	err := Walk(ctx, backend, prefix, func(e ManifestEntry) error {
		manifest = append(manifest, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return manifest, nil
}
