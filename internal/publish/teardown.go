package publish

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lgulliver/webglpub/internal/lock"
	"github.com/lgulliver/webglpub/internal/storage"
)

const defaultRounds = 3

// Teardown removes everything published under a prefix
type Teardown struct {
	backend     storage.Backend
	locker      lock.Locker
	rounds      int
	concurrency int
}

// NewTeardown creates a teardown. rounds bounds how many list-and-delete
// passes are made before giving up on stubborn objects.
func NewTeardown(backend storage.Backend, locker lock.Locker, rounds, concurrency int) *Teardown {
	if rounds <= 0 {
		rounds = defaultRounds
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if locker == nil {
		locker = lock.NewMemory()
	}
	return &Teardown{backend: backend, locker: locker, rounds: rounds, concurrency: concurrency}
}

// Remove deletes every object under prefix. When deleteContainer is set and
// the site owns its container, the emptied container is removed as well.
// Success is only reported once a fresh listing comes back empty.
func (t *Teardown) Remove(ctx context.Context, prefix string, deleteContainer bool) error {
	startTime := time.Now()

	unlock, err := t.locker.Lock(ctx, prefix)
	if err != nil {
		return err
	}
	defer unlock()

	layout := t.backend.Layout(prefix)
	deleted := 0
	var lastErr error
	for round := 1; round <= t.rounds; round++ {
		res, err := t.deleteRound(ctx, layout)
		deleted += res.deleted
		if err != nil {
			return &TeardownError{Prefix: prefix, Err: err}
		}
		if res.failed == 0 {
			break
		}
		lastErr = res.firstErr
		log.Warn().Err(res.firstErr).Str("prefix", prefix).Int("round", round).Int("failed", res.failed).Msg("teardown round left objects behind")
	}

	var remaining []string
	count := 0
	err = Walk(ctx, t.backend, prefix, func(e ManifestEntry) error {
		count++
		if len(remaining) < sampleSize {
			remaining = append(remaining, e.Key)
		}
		return nil
	})
	if err != nil {
		return &TeardownError{Prefix: prefix, Err: err}
	}
	if count > 0 {
		log.Error().Str("prefix", prefix).Int("remaining", count).Msg("teardown incomplete")
		return &TeardownError{Prefix: prefix, Remaining: count, Sample: remaining, Err: lastErr}
	}

	if deleteContainer && layout.Dedicated {
		if err := t.backend.DeleteContainer(ctx, layout.Container); err != nil {
			log.Error().Err(err).Str("container", layout.Container).Msg("failed to delete container")
			return &TeardownError{Prefix: prefix, Err: err}
		}
	}

	log.Info().
		Str("prefix", prefix).
		Int("deleted", deleted).
		Bool("container_deleted", deleteContainer && layout.Dedicated).
		Dur("duration", time.Since(startTime)).
		Msg("site removed")
	return nil
}

type roundResult struct {
	deleted  int
	failed   int
	firstErr error
}

// deleteRound makes one paginated pass. Individual delete failures are
// counted so the next round can retry them; a listing error aborts.
func (t *Teardown) deleteRound(ctx context.Context, layout storage.Layout) (roundResult, error) {
	var (
		mu  sync.Mutex
		res roundResult
	)
	pager := t.backend.List(ctx, layout.Container, layout.ListPrefix())
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				break
			}
			return res, err
		}

		var g errgroup.Group
		g.SetLimit(t.concurrency)
		for _, obj := range page {
			g.Go(func() error {
				err := t.backend.Delete(ctx, layout.Container, obj.Key)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.failed++
					if res.firstErr == nil {
						res.firstErr = err
					}
					return nil
				}
				res.deleted++
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
	return res, nil
}
