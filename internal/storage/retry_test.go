package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyBackend fails the first n calls of each operation with err
type flakyBackend struct {
	Backend
	failures map[string]int
	err      error
	calls    map[string]int
	bodies   []string
}

func newFlaky(inner Backend, err error, failures map[string]int) *flakyBackend {
	return &flakyBackend{Backend: inner, failures: failures, err: err, calls: make(map[string]int)}
}

func (f *flakyBackend) fail(op string) error {
	f.calls[op]++
	if f.failures[op] > 0 {
		f.failures[op]--
		return f.err
	}
	return nil
}

func (f *flakyBackend) EnsureContainer(ctx context.Context, container string, v Visibility) error {
	if err := f.fail("ensure"); err != nil {
		return err
	}
	return f.Backend.EnsureContainer(ctx, container, v)
}

func (f *flakyBackend) Put(ctx context.Context, container, key string, content io.Reader, opts PutOptions) error {
	data, _ := io.ReadAll(content)
	f.bodies = append(f.bodies, string(data))
	if err := f.fail("put"); err != nil {
		return err
	}
	return f.Backend.Put(ctx, container, key, strings.NewReader(string(data)), opts)
}

func (f *flakyBackend) Get(ctx context.Context, container, key string) (io.ReadCloser, error) {
	if err := f.fail("get"); err != nil {
		return nil, err
	}
	return f.Backend.Get(ctx, container, key)
}

func (f *flakyBackend) List(ctx context.Context, container, keyPrefix string) Pager {
	return &flakyPager{f: f, inner: f.Backend.List(ctx, container, keyPrefix)}
}

type flakyPager struct {
	f     *flakyBackend
	inner Pager
}

func (p *flakyPager) More() bool { return p.inner.More() }

func (p *flakyPager) NextPage(ctx context.Context) ([]Object, error) {
	if err := p.f.fail("list"); err != nil {
		return nil, err
	}
	return p.inner.NextPage(ctx)
}

func fastRetrying(b Backend, maxRetries int) *Retrying {
	r := NewRetrying(b, maxRetries, time.Second)
	r.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return r
}

func TestRetrying_RetriesTransientErrors(t *testing.T) {
	local := setupTestStorage(t, 0)
	flaky := newFlaky(local, Unavailable("test", errors.New("connection reset")), map[string]int{"ensure": 2})
	r := fastRetrying(flaky, 3)

	require.NoError(t, r.EnsureContainer(context.Background(), localArea, PublicRead))
	assert.Equal(t, 3, flaky.calls["ensure"])
}

func TestRetrying_GivesUpAfterMaxRetries(t *testing.T) {
	local := setupTestStorage(t, 0)
	flaky := newFlaky(local, Unavailable("test", errors.New("503")), map[string]int{"ensure": 10})
	r := fastRetrying(flaky, 2)

	err := r.EnsureContainer(context.Background(), localArea, PublicRead)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, 3, flaky.calls["ensure"])
}

func TestRetrying_PermanentErrorsSurfaceImmediately(t *testing.T) {
	local := setupTestStorage(t, 0)
	flaky := newFlaky(local, ErrInvalidKey, map[string]int{"ensure": 10})
	r := fastRetrying(flaky, 5)

	err := r.EnsureContainer(context.Background(), localArea, PublicRead)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, 1, flaky.calls["ensure"])
}

func TestRetrying_PutRewindsSeekableBody(t *testing.T) {
	local := setupTestStorage(t, 0)
	flaky := newFlaky(local, Unavailable("test", errors.New("reset")), map[string]int{"put": 1})
	r := fastRetrying(flaky, 2)

	require.NoError(t, r.Put(context.Background(), localArea, "site/a.txt", strings.NewReader("payload"), PutOptions{ContentType: "text/plain"}))
	assert.Equal(t, []string{"payload", "payload"}, flaky.bodies)
}

func TestRetrying_PutNonSeekableBodyIsNotRetried(t *testing.T) {
	local := setupTestStorage(t, 0)
	flaky := newFlaky(local, Unavailable("test", errors.New("reset")), map[string]int{"put": 1})
	r := fastRetrying(flaky, 2)

	body := io.MultiReader(strings.NewReader("payload"))
	err := r.Put(context.Background(), localArea, "site/a.txt", body, PutOptions{ContentType: "text/plain"})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, 1, flaky.calls["put"])
}

func TestRetrying_GetAndList(t *testing.T) {
	local := setupTestStorage(t, 1)
	putString(t, local, localArea, "site/a", "a")
	putString(t, local, localArea, "site/b", "b")

	flaky := newFlaky(local, Unavailable("test", errors.New("reset")), map[string]int{"get": 1, "list": 2})
	r := fastRetrying(flaky, 3)
	ctx := context.Background()

	rc, err := r.Get(ctx, localArea, "site/a")
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, 2, flaky.calls["get"])

	objects, err := Collect(ctx, r.List(ctx, localArea, "site/"))
	require.NoError(t, err)
	assert.Len(t, objects, 2)
}

func TestRetrying_StopsOnCancelledContext(t *testing.T) {
	local := setupTestStorage(t, 0)
	flaky := newFlaky(local, Unavailable("test", errors.New("reset")), map[string]int{"ensure": 10})
	r := NewRetrying(flaky, 10, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.EnsureContainer(ctx, localArea, PublicRead)
	assert.Error(t, err)
	assert.LessOrEqual(t, flaky.calls["ensure"], 1)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrNotFound))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(Unavailable("op", errors.New("x"))))
	assert.False(t, IsRetryable(Unavailable("op", context.DeadlineExceeded)))
}
