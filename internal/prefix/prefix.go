// Package prefix derives the storage names that namespace a published site.
//
// A prefix doubles as an S3 bucket name and an Azure container/key prefix,
// so it is restricted to the intersection of both naming rules: 3 to 63
// characters of lower-case letters, digits and single hyphens, starting and
// ending with a letter or digit.
package prefix

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strings"
)

const (
	MinLength = 3
	MaxLength = 63

	// spliceAt is how much of the head survives when an arbitrary name is cut
	spliceAt     = 16
	suffixLength = 10
	alphabet     = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var (
	invalidChars = regexp.MustCompile(`[^a-z0-9-]+`)
	hyphenRuns   = regexp.MustCompile(`-{2,}`)
	validPrefix  = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9]|-[a-z0-9])*$`)
)

// Random is the source used for short-name padding
var Random io.Reader = rand.Reader

// Derive builds the prefix for a course module on host. Long hosts are cut
// so the course and module ids always survive whole; names shorter than
// MinLength are padded with random characters, so callers must persist the
// result instead of recomputing it.
func Derive(host string, courseID, moduleID int64) (string, error) {
	tail := sanitize(fmt.Sprintf("course-%d-module-id-%d", courseID, moduleID))
	head := sanitize(host)
	if budget := MaxLength - len(tail) - 1; len(head) > budget {
		head = strings.Trim(head[:max(budget, 0)], "-")
	}
	if head == "" {
		return Normalize(tail)
	}
	return Normalize(head + "-" + tail)
}

// Normalize maps an arbitrary name onto the naming rules
func Normalize(raw string) (string, error) {
	name := sanitize(raw)

	if len(name) > MaxLength {
		name = sanitize(name[:spliceAt] + "-" + name[len(name)-(MaxLength-spliceAt-1):])
	}
	if len(name) < MinLength {
		suffix, err := randomString(suffixLength)
		if err != nil {
			return "", fmt.Errorf("failed to pad prefix: %w", err)
		}
		if name == "" {
			name = suffix
		} else {
			name = name + "-" + suffix
		}
	}
	return name, nil
}

// Valid reports whether p satisfies the naming rules
func Valid(p string) bool {
	return len(p) >= MinLength && len(p) <= MaxLength && validPrefix.MatchString(p)
}

func sanitize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", "-", ".", "-").Replace(s)
	s = invalidChars.ReplaceAllString(s, "-")
	s = hyphenRuns.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func randomString(n int) (string, error) {
	size := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(Random, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}
