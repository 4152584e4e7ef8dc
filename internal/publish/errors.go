package publish

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingIndexFile is returned when the content tree has no top-level
// index.html. Nothing is uploaded in that case.
var ErrMissingIndexFile = errors.New("missing top-level index.html")

// PublishError reports a publish that failed part way. Objects uploaded
// before the failure stay in place; publishing again overwrites them.
type PublishError struct {
	Prefix string
	Key    string
	Err    error
}

func (e *PublishError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("publish %s failed at %s: %v", e.Prefix, e.Key, e.Err)
	}
	return fmt.Sprintf("publish %s failed: %v", e.Prefix, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ArchiveError reports a failed archive build. The partial archive is discarded.
type ArchiveError struct {
	Prefix string
	Key    string
	Err    error
}

func (e *ArchiveError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("archive %s failed at %s: %v", e.Prefix, e.Key, e.Err)
	}
	return fmt.Sprintf("archive %s failed: %v", e.Prefix, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// TeardownError reports objects that survived every delete round, or a
// container that could not be removed.
type TeardownError struct {
	Prefix    string
	Remaining int
	// Sample holds up to sampleSize of the remaining keys
	Sample []string
	Err    error
}

const sampleSize = 10

func (e *TeardownError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "teardown %s incomplete", e.Prefix)
	if e.Remaining > 0 {
		fmt.Fprintf(&b, ": %d objects remain", e.Remaining)
		if len(e.Sample) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(e.Sample, ", "))
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TeardownError) Unwrap() error { return e.Err }
