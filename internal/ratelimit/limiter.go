// Package ratelimit enforces a sliding-window budget on outbound Discogs
// calls. One subject is one local user, whichever linked account the call is
// made with, because Discogs meters the application rather than the account.
package ratelimit

import (
	"context"
	"time"

	"github.com/joestump/spindle/internal/metrics"
)

// Defaults match the Discogs authenticated ceiling.
const (
	DefaultLimit  = 60
	DefaultWindow = time.Minute
)

// Result is the outcome of an acquisition.
type Result struct {
	Allowed   bool
	Remaining int
	// ResetAt is when the oldest accepted acquisition leaves the window.
	ResetAt time.Time
}

// Limiter is the contract shared by the Redis, Memory and Null limiters.
type Limiter interface {
	// Acquire takes n units for subject atomically: either all n are
	// recorded or none are. A denied acquisition consumes nothing.
	Acquire(ctx context.Context, subject string, n int) Result
}

// TryAcquire takes a single unit.
func TryAcquire(ctx context.Context, l Limiter, subject string) Result {
	return l.Acquire(ctx, subject, 1)
}

// UserSubject is the subject key for a local user.
func UserSubject(userID string) string {
	return "discogs:user:" + userID
}

// VisitorSubject is the subject key for reads of ownerID's collection made by
// anyone other than the owner.
func VisitorSubject(ownerID string) string {
	return "discogs:visitors:" + ownerID
}

// Options configure a windowed limiter.
type Options struct {
	Limit  int
	Window time.Duration
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Null allows everything. It is selected when no limiter backend is
// configured.
type Null struct{}

func (Null) Acquire(context.Context, string, int) Result {
	return Result{Allowed: true, Remaining: -1}
}

func observe(r Result) Result {
	if r.Allowed {
		metrics.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.RateLimitDecisionsTotal.WithLabelValues("denied").Inc()
	}
	return r
}
