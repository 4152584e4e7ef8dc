package site

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/lgulliver/webglpub/pkg/types"
)

const defaultStatsWindow = 30 * 24 * time.Hour

// StatsQuery narrows the publishing statistics
type StatsQuery struct {
	Backend string     // empty means every backend
	Since   *time.Time // start of the activity window, default 30 days ago
}

// Stats summarises what the gateway has published
type Stats struct {
	Backend        string           `json:"backend,omitempty"`
	Sites          int64            `json:"sites"`
	Releases       int64            `json:"releases"`
	PublishedBytes int64            `json:"published_bytes"`
	SitesByBackend map[string]int64 `json:"sites_by_backend"`
	RecentActivity []ActivityPoint  `json:"recent_activity"`
}

// ActivityPoint counts releases published on one UTC day
type ActivityPoint struct {
	Date     string `json:"date"`
	Releases int64  `json:"releases"`
	Bytes    int64  `json:"bytes"`
}

// Stats returns site and release totals plus daily publishing activity
func (s *Service) Stats(ctx context.Context, query *StatsQuery) (*Stats, error) {
	if query == nil {
		query = &StatsQuery{}
	}
	stats := &Stats{Backend: query.Backend, SitesByBackend: map[string]int64{}}

	sites := s.db.WithContext(ctx).Model(&types.Site{})
	if query.Backend != "" {
		sites = sites.Where("backend = ?", query.Backend)
	}
	if err := sites.Count(&stats.Sites).Error; err != nil {
		return nil, fmt.Errorf("failed to count sites: %w", err)
	}

	var byBackend []struct {
		Backend string
		Count   int64
	}
	if err := s.db.WithContext(ctx).Model(&types.Site{}).
		Select("backend, COUNT(*) AS count").
		Group("backend").
		Scan(&byBackend).Error; err != nil {
		return nil, fmt.Errorf("failed to count sites by backend: %w", err)
	}
	for _, row := range byBackend {
		stats.SitesByBackend[row.Backend] = row.Count
	}

	releases := s.releaseScope(ctx, query.Backend)
	if err := releases.Count(&stats.Releases).Error; err != nil {
		return nil, fmt.Errorf("failed to count releases: %w", err)
	}

	var total sql.NullInt64
	if err := s.releaseScope(ctx, query.Backend).
		Select("SUM(releases.bytes)").
		Scan(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to sum published bytes: %w", err)
	}
	stats.PublishedBytes = total.Int64

	activity, err := s.recentActivity(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent activity: %w", err)
	}
	stats.RecentActivity = activity

	return stats, nil
}

func (s *Service) releaseScope(ctx context.Context, backend string) *gorm.DB {
	db := s.db.WithContext(ctx).Model(&types.Release{})
	if backend != "" {
		db = db.Joins("JOIN sites ON sites.id = releases.site_id").Where("sites.backend = ?", backend)
	}
	return db
}

// recentActivity buckets releases by day in Go so the query stays portable
// between PostgreSQL and SQLite
func (s *Service) recentActivity(ctx context.Context, query *StatsQuery) ([]ActivityPoint, error) {
	since := time.Now().Add(-defaultStatsWindow)
	if query.Since != nil {
		since = *query.Since
	}

	var rows []struct {
		CreatedAt time.Time
		Bytes     int64
	}
	if err := s.releaseScope(ctx, query.Backend).
		Select("releases.created_at, releases.bytes").
		Where("releases.created_at >= ?", since).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	byDay := make(map[string]*ActivityPoint)
	for _, row := range rows {
		day := row.CreatedAt.UTC().Format("2006-01-02")
		point, ok := byDay[day]
		if !ok {
			point = &ActivityPoint{Date: day}
			byDay[day] = point
		}
		point.Releases++
		point.Bytes += row.Bytes
	}

	activity := make([]ActivityPoint, 0, len(byDay))
	for _, point := range byDay {
		activity = append(activity, *point)
	}
	sort.Slice(activity, func(i, j int) bool { return activity[i].Date < activity[j].Date })
	return activity, nil
}
