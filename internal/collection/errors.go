package collection

import (
	"errors"
	"fmt"
	"time"

	"github.com/joestump/spindle/internal/store"
	"github.com/joestump/spindle/internal/vault"
)

// Error kinds callers branch on. Store and vault sentinels are re-exported so
// callers of this package need not import either.
var (
	ErrNotConnected     = store.ErrNotConnected
	ErrAccessDenied     = store.ErrAccessDenied
	ErrNotFound         = store.ErrNotFound
	ErrCapacityExceeded = store.ErrCapacityExceeded
	ErrAlreadyConnected = store.ErrAlreadyConnected
	ErrConflict         = store.ErrConflict
	ErrDecryption       = vault.ErrDecrypt

	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("discogs rate budget exhausted")
)

// Where a rate limit was hit.
const (
	RateLimitLocal   = "local"
	RateLimitVisitor = "visitor"
	RateLimitRemote  = "remote"
)

// RateLimitError reports a denied acquisition of the owner's budget or the
// visitor budget, or a remote throttle. For a remote throttle Status is the response status and
// Err is the *UpstreamError carrying the remote message.
type RateLimitError struct {
	Source    string
	Status    int
	Remaining int
	ResetAt   time.Time
	Err       error
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("%s (%s), retry after %s", ErrRateLimited, e.Source, e.ResetAt.UTC().Format(time.RFC3339))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryAfter is the wait until ResetAt, rounded up to whole seconds.
func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	d := e.ResetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return d.Truncate(time.Second) + time.Second
}

// UpstreamError wraps any failed Discogs call: a non-2xx status, a transport
// failure or timeout, or a payload that did not decode. Status is zero when no
// response was received.
type UpstreamError struct {
	Op           string
	ConnectionID string
	Status       int
	Err          error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("discogs %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("discogs %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
