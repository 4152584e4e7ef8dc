package storage

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
)

var (
	// ErrBackendUnavailable covers network and authentication failures. Retryable.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	// ErrNotFound means the key or container does not exist
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey means the key or container name is illegal for the backend
	ErrInvalidKey = errors.New("invalid object key")
	// ErrNotEmpty means a container still holds objects
	ErrNotEmpty = errors.New("container not empty")
)

// unavailable wraps err so that it matches ErrBackendUnavailable while
// keeping the SDK error reachable through errors.As.
type unavailable struct {
	op  string
	err error
}

func (u *unavailable) Error() string {
	return u.op + ": " + ErrBackendUnavailable.Error() + ": " + u.err.Error()
}

func (u *unavailable) Unwrap() []error { return []error{ErrBackendUnavailable, u.err} }

// Unavailable marks err as a transient backend failure
func Unavailable(op string, err error) error {
	return &unavailable{op: op, err: err}
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrBackendUnavailable)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") || strings.Contains(msg, "EOF")
}

func isTransientStatus(status int) bool {
	return status == 408 || status == 429 || status >= 500
}

var validKey = regexp.MustCompile(`^[^\x00-\x1f\x7f\\?#]+$`)

// ValidateKey rejects keys no backend accepts: empty, overlong, absolute,
// containing parent references, control characters or URL delimiters.
func ValidateKey(key string) error {
	if key == "" || len(key) > 1024 {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidKey
		}
	}
	if !validKey.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}
