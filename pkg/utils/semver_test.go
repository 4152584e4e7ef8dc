package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type labelled struct {
	version string
	created time.Time
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []labelled{
		{version: "nightly", created: base.Add(1 * time.Hour)},
		{version: "1.2.0", created: base},
		{version: "v1.10.0", created: base.Add(-time.Hour)},
		{version: "second-try", created: base.Add(3 * time.Hour)},
		{version: "1.2.0-beta.1", created: base.Add(2 * time.Hour)},
	}

	SortNewestFirst(items,
		func(l labelled) string { return l.version },
		func(l labelled) time.Time { return l.created },
	)

	got := make([]string, len(items))
	for i, l := range items {
		got[i] = l.version
	}
	assert.Equal(t, []string{"v1.10.0", "1.2.0", "1.2.0-beta.1", "second-try", "nightly"}, got)
}

func TestSortNewestFirst_EqualVersionsByCreation(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []labelled{
		{version: "1.0.0", created: base},
		{version: "1.0", created: base.Add(time.Minute)},
	}
	SortNewestFirst(items,
		func(l labelled) string { return l.version },
		func(l labelled) time.Time { return l.created },
	)
	assert.Equal(t, "1.0", items[0].version)
}

func TestNextVersion(t *testing.T) {
	tests := []struct {
		name     string
		versions []string
		want     string
	}{
		{name: "no releases", versions: nil, want: "1.0.0"},
		{name: "only labels", versions: []string{"nightly"}, want: "1.0.0"},
		{name: "bumps highest", versions: []string{"1.0.0", "1.4.2", "1.3.9"}, want: "1.4.3"},
		{name: "ignores prereleases", versions: []string{"1.0.0", "2.0.0-rc.1"}, want: "1.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextVersion(tt.versions))
		})
	}
}
