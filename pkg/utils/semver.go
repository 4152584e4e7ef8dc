package utils

import (
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
)

// SortNewestFirst orders items so that valid semantic versions come first,
// highest precedence first, followed by all other labels newest-created
// first. The sort is stable for equal keys.
func SortNewestFirst[T any](items []T, version func(T) string, created func(T) time.Time) {
	parsed := make([]*semver.Version, len(items))
	for i, item := range items {
		if v, err := semver.NewVersion(version(item)); err == nil {
			parsed[i] = v
		}
	}

	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := parsed[idx[a]], parsed[idx[b]]
		switch {
		case va != nil && vb != nil:
			if va.Equal(vb) {
				return created(items[idx[a]]).After(created(items[idx[b]]))
			}
			return va.GreaterThan(vb)
		case va != nil:
			return true
		case vb != nil:
			return false
		default:
			return created(items[idx[a]]).After(created(items[idx[b]]))
		}
	})

	sorted := make([]T, len(items))
	for i, j := range idx {
		sorted[i] = items[j]
	}
	copy(items, sorted)
}

// NextVersion returns the patch release following the highest valid
// version in versions, or 1.0.0 when there is none.
func NextVersion(versions []string) string {
	var latest *semver.Version
	for _, v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil || sv.Prerelease() != "" {
			continue
		}
		if latest == nil || sv.GreaterThan(latest) {
			latest = sv
		}
	}
	if latest == nil {
		return "1.0.0"
	}
	return latest.IncPatch().String()
}
