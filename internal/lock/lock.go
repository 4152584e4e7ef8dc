// Package lock serializes mutating operations on the same site prefix.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrBusy is returned when a lock could not be obtained before the caller
// gave up waiting.
var ErrBusy = errors.New("another operation holds the lock")

// Locker grants exclusive access to a key. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Memory is an in-process keyed mutex. Waiters honor context cancellation.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemory creates an in-process locker
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

// Lock blocks until key is free or ctx is done
func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.drop(key, s)
		return nil, fmt.Errorf("lock %s: %w: %w", key, ErrBusy, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.drop(key, s)
		})
	}, nil
}

func (m *Memory) drop(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

// Store is the lock primitive a shared key-value store provides
type Store interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
}

// Distributed locks a key across processes through a Store such as Redis
type Distributed struct {
	store     Store
	ttl       time.Duration
	namespace string
	poll      time.Duration
}

// NewDistributed creates a locker. ttl bounds how long a crashed holder can
// keep a key.
func NewDistributed(store Store, namespace string, ttl time.Duration) *Distributed {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Distributed{store: store, ttl: ttl, namespace: namespace, poll: 200 * time.Millisecond}
}

// Lock polls the store until key is acquired or ctx is done
func (d *Distributed) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := d.namespace + ":" + key
	token := uuid.NewString()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := d.store.AcquireLock(ctx, fullKey, token, d.ttl)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, ErrBusy
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewConstantBackOff(d.poll)), backoff.WithMaxElapsedTime(0))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if errors.Is(err, ErrBusy) || ctx.Err() != nil {
			return nil, fmt.Errorf("lock %s: %w", key, ErrBusy)
		}
		return nil, err
	}

	log.Debug().Str("key", fullKey).Msg("lock acquired")
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			released, err := d.store.ReleaseLock(releaseCtx, fullKey, token)
			if err != nil {
				log.Error().Err(err).Str("key", fullKey).Msg("failed to release lock")
				return
			}
			if !released {
				log.Warn().Str("key", fullKey).Msg("lock expired before release")
			}
		})
	}, nil
}
