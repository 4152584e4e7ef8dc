package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Retrying decorates a Backend with a per-request timeout and bounded
// exponential backoff on transient failures. Only errors matching
// ErrBackendUnavailable are retried; everything else surfaces at once.
type Retrying struct {
	Backend
	maxRetries int
	timeout    time.Duration
	newBackOff func() backoff.BackOff
}

// NewRetrying wraps b. maxRetries counts attempts after the first; a zero
// timeout disables the per-request deadline.
func NewRetrying(b Backend, maxRetries int, timeout time.Duration) *Retrying {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retrying{
		Backend:    b,
		maxRetries: maxRetries,
		timeout:    timeout,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// Unwrap returns the decorated backend
func (r *Retrying) Unwrap() Backend { return r.Backend }

func (r *Retrying) do(ctx context.Context, op string, tries int, fn func(ctx context.Context) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		callCtx, cancel := r.withTimeout(ctx)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return struct{}{}, nil
		}
		if !IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("transient storage error")
		return struct{}{}, err
	}, backoff.WithBackOff(r.newBackOff()), backoff.WithMaxTries(uint(tries)))
	return unwrapPermanent(err)
}

// unwrapPermanent strips the marker backoff leaves on when the last allowed
// attempt failed permanently.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}

func (r *Retrying) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// EnsureContainer implements Backend
func (r *Retrying) EnsureContainer(ctx context.Context, container string, visibility Visibility) error {
	return r.do(ctx, "ensure container", r.maxRetries+1, func(ctx context.Context) error {
		return r.Backend.EnsureContainer(ctx, container, visibility)
	})
}

// DeleteContainer implements Backend
func (r *Retrying) DeleteContainer(ctx context.Context, container string) error {
	return r.do(ctx, "delete container", r.maxRetries+1, func(ctx context.Context) error {
		return r.Backend.DeleteContainer(ctx, container)
	})
}

// Put implements Backend. The body is rewound between attempts when it is
// seekable; otherwise a single attempt is made.
func (r *Retrying) Put(ctx context.Context, container, key string, content io.Reader, opts PutOptions) error {
	tries := 1
	seeker, seekable := content.(io.Seeker)
	var start int64
	if seekable {
		pos, err := seeker.Seek(0, io.SeekCurrent)
		if err == nil {
			start = pos
			tries = r.maxRetries + 1
		} else {
			seekable = false
		}
	}

	first := true
	return r.do(ctx, "put", tries, func(ctx context.Context) error {
		if !first && seekable {
			if _, err := seeker.Seek(start, io.SeekStart); err != nil {
				return err
			}
		}
		first = false
		return r.Backend.Put(ctx, container, key, content, opts)
	})
}

// Get implements Backend. The deadline covers opening the stream only;
// reading the body is bounded by the caller's context.
func (r *Retrying) Get(ctx context.Context, container, key string) (io.ReadCloser, error) {
	var body io.ReadCloser
	tries := r.maxRetries + 1
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		rc, err := r.Backend.Get(ctx, container, key)
		if err == nil {
			body = rc
			return struct{}{}, nil
		}
		if !IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		log.Warn().Err(err).Str("op", "get").Int("attempt", attempt).Msg("transient storage error")
		return struct{}{}, err
	}, backoff.WithBackOff(r.newBackOff()), backoff.WithMaxTries(uint(tries)))
	if err != nil {
		return nil, unwrapPermanent(err)
	}
	return body, nil
}

// Delete implements Backend
func (r *Retrying) Delete(ctx context.Context, container, key string) error {
	return r.do(ctx, "delete", r.maxRetries+1, func(ctx context.Context) error {
		return r.Backend.Delete(ctx, container, key)
	})
}

// List implements Backend; each page fetch is retried independently
func (r *Retrying) List(ctx context.Context, container, keyPrefix string) Pager {
	return &retryingPager{r: r, inner: r.Backend.List(ctx, container, keyPrefix)}
}

type retryingPager struct {
	r     *Retrying
	inner Pager
}

func (p *retryingPager) More() bool { return p.inner.More() }

func (p *retryingPager) NextPage(ctx context.Context) ([]Object, error) {
	var page []Object
	err := p.r.do(ctx, "list", p.r.maxRetries+1, func(ctx context.Context) error {
		var err error
		page, err = p.inner.NextPage(ctx)
		return err
	})
	return page, err
}
