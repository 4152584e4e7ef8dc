package storage

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Extensions emitted by WebGL build tools that the system mime table
// either lacks or gets wrong.
var webglTypes = map[string]string{
	".wasm":     "application/wasm",
	".js":       "application/javascript",
	".mjs":      "application/javascript",
	".data":     "application/octet-stream",
	".mem":      "application/octet-stream",
	".unityweb": "application/octet-stream",
	".symbols":  "application/octet-stream",
	".json":     "application/json",
	".html":     "text/html; charset=utf-8",
	".css":      "text/css; charset=utf-8",
	".svg":      "image/svg+xml",
	".ico":      "image/x-icon",
	".zip":      "application/zip",
}

// DetectContentType picks a content type for the file at path, by extension
// first and by sniffing its contents otherwise.
func DetectContentType(path string) (string, error) {
	if ct := contentTypeByExtension(path); ct != "" {
		return ct, nil
	}
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// ContentTypeFor picks a content type for name using the leading bytes of
// its content when the extension is unknown.
func ContentTypeFor(name string, head []byte) string {
	if ct := contentTypeByExtension(name); ct != "" {
		return ct
	}
	return mimetype.Detect(head).String()
}

func contentTypeByExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct, ok := webglTypes[ext]; ok {
		return ct
	}
	// Compressed build artifacts keep the inner type, e.g. app.wasm.br
	if ext == ".gz" || ext == ".br" {
		if inner := contentTypeByExtension(strings.TrimSuffix(name, filepath.Ext(name))); inner != "" {
			return inner
		}
	}
	return mime.TypeByExtension(ext)
}

// ContentEncoding returns the encoding implied by a precompressed build
// artifact's extension, or "" for plain files. Only names with an inner
// extension count (app.wasm.br); a bare archive.gz is served as is.
func ContentEncoding(name string) string {
	ext := filepath.Ext(name)
	if filepath.Ext(strings.TrimSuffix(filepath.Base(name), ext)) == "" {
		return ""
	}
	switch strings.ToLower(ext) {
	case ".br":
		return "br"
	case ".gz":
		return "gzip"
	default:
		return ""
	}
}
