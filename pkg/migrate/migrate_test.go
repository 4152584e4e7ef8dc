package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMigration(t *testing.T) {
	up, down := splitMigration(`-- +migrate Up
CREATE TABLE sites (id UUID);

-- +migrate Down
DROP TABLE sites;
`)
	assert.Equal(t, "CREATE TABLE sites (id UUID);", up)
	assert.Equal(t, "DROP TABLE sites;", down)

	up, down = splitMigration("CREATE INDEX idx ON sites (prefix);")
	assert.Equal(t, "CREATE INDEX idx ON sites (prefix);", up)
	assert.Empty(t, down)
}

func TestParseFileName(t *testing.T) {
	version, name, err := parseFileName("001_initial_schema.sql")
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, "initial_schema", name)

	for _, bad := range []string{"initial.sql", "abc_schema.sql", "000_zero.sql", "002_.sql"} {
		_, _, err := parseFileName(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadMigrations(t *testing.T) {
	src := fstest.MapFS{
		"migrations/002_releases.sql":       {Data: []byte("-- +migrate Up\nCREATE TABLE releases ();\n-- +migrate Down\nDROP TABLE releases;")},
		"migrations/001_initial_schema.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE sites ();\n-- +migrate Down\nDROP TABLE sites;")},
		"migrations/README.md":              {Data: []byte("not a migration")},
		"migrations/notes.sql":              {Data: []byte("-- skipped")},
	}

	migrations, err := New(nil, src, "migrations").Load()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "initial_schema", migrations[0].Name)
	assert.Equal(t, "DROP TABLE sites;", migrations[0].DownSQL)
	assert.Equal(t, 2, migrations[1].Version)
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	src := fstest.MapFS{
		"migrations/001_a.sql": {Data: []byte("SELECT 1;")},
		"migrations/01_b.sql":  {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(src, "migrations")
	assert.ErrorContains(t, err, "share version 1")
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{}, "migrations")
	assert.Error(t, err)
}
