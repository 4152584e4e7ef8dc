package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name    string
	content string
}

func buildZip(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		if !strings.HasSuffix(e.name, "/") {
			_, err = w.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestUnpack(t *testing.T) {
	data := buildZip(t,
		entry{name: "MyGame/"},
		entry{name: "MyGame/index.html", content: "<html></html>"},
		entry{name: "MyGame/Build/app.wasm", content: "wasm"},
		entry{name: "__MACOSX/MyGame/._index.html", content: "junk"},
		entry{name: "MyGame/.DS_Store", content: "junk"},
	)

	ex := New(t.TempDir(), 0)
	ws, err := ex.Unpack(context.Background(), bytes.NewReader(data), "C:\\Users\\me\\MyGame.zip")
	require.NoError(t, err)

	assert.Equal(t, "MyGame.zip", filepath.Base(ws.ZipPath))
	saved, err := os.ReadFile(ws.ZipPath)
	require.NoError(t, err)
	assert.Equal(t, data, saved)

	index, err := os.ReadFile(filepath.Join(ws.Dir, "MyGame", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(index))

	_, err = os.Stat(filepath.Join(ws.Dir, "__MACOSX"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(ws.Dir, "MyGame", ".DS_Store"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, ws.Close())
	_, err = os.Stat(ws.Root)
	assert.True(t, os.IsNotExist(err))
}

func TestUnpack_RejectsUnsafeEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry string
	}{
		{name: "parent traversal", entry: "../evil.txt"},
		{name: "nested traversal", entry: "game/../../evil.txt"},
		{name: "absolute", entry: "/etc/evil"},
		{name: "backslash traversal", entry: "..\\evil.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := t.TempDir()
			data := buildZip(t, entry{name: tt.entry, content: "x"})

			_, err := New(base, 0).Unpack(context.Background(), bytes.NewReader(data), "up.zip")
			assert.ErrorIs(t, err, ErrUnsafePath)

			entries, err := os.ReadDir(base)
			require.NoError(t, err)
			assert.Empty(t, entries, "workspace removed on failure")
		})
	}
}

func TestUnpack_SizeLimits(t *testing.T) {
	data := buildZip(t, entry{name: "game/index.html", content: strings.Repeat("a", 4096)})

	_, err := New(t.TempDir(), 100).Unpack(context.Background(), bytes.NewReader(data), "up.zip")
	assert.ErrorIs(t, err, ErrTooLarge)

	// Upload under the limit but contents over it
	_, err = New(t.TempDir(), int64(len(data))).Unpack(context.Background(), bytes.NewReader(data), "up.zip")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestUnpack_NotAZip(t *testing.T) {
	_, err := New(t.TempDir(), 0).Unpack(context.Background(), strings.NewReader("definitely not a zip"), "up.zip")
	assert.ErrorIs(t, err, ErrInvalidArchive)
}

func TestEntryPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a/b.txt", want: "a/b.txt"},
		{in: "a/./b.txt", want: "a/b.txt"},
		{in: "a/c/../b.txt", want: "a/b.txt"},
		{in: "./", want: ""},
		{in: "../x", wantErr: true},
		{in: "/x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := entryPath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsafePath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
