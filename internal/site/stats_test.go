package site

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats_Empty(t *testing.T) {
	service, _, _ := setupTestService(t)

	stats, err := service.Stats(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Sites)
	assert.Zero(t, stats.Releases)
	assert.Zero(t, stats.PublishedBytes)
	assert.Empty(t, stats.SitesByBackend)
	assert.Empty(t, stats.RecentActivity)
}

func TestStats_CountsSitesAndReleases(t *testing.T) {
	service, _, _ := setupTestService(t)
	ctx := context.Background()

	first, err := service.Publish(ctx, publishRequest(gameZip(t)))
	require.NoError(t, err)
	_, err = service.Publish(ctx, publishRequest(gameZip(t)))
	require.NoError(t, err)

	other := publishRequest(gameZip(t))
	other.ModuleID = 18
	other.Backend = "s3"
	_, err = service.Publish(ctx, other)
	require.NoError(t, err)

	stats, err := service.Stats(ctx, &StatsQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Sites)
	assert.Equal(t, int64(3), stats.Releases)
	assert.Equal(t, 3*first.Release.Bytes, stats.PublishedBytes)
	assert.Equal(t, map[string]int64{"local": 1, "s3": 1}, stats.SitesByBackend)
	require.Len(t, stats.RecentActivity, 1)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), stats.RecentActivity[0].Date)
	assert.Equal(t, int64(3), stats.RecentActivity[0].Releases)

	s3Stats, err := service.Stats(ctx, &StatsQuery{Backend: "s3"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), s3Stats.Sites)
	assert.Equal(t, int64(1), s3Stats.Releases)

	future := time.Now().Add(time.Hour)
	windowed, err := service.Stats(ctx, &StatsQuery{Since: &future})
	require.NoError(t, err)
	assert.Empty(t, windowed.RecentActivity)
	assert.Equal(t, int64(3), windowed.Releases)
}
