// Package cache is a best-effort TTL store for expensive derived results.
//
// Implementations swallow every backing-store error: a failed Get is a miss,
// a failed Set or InvalidatePrefix is a no-op. A cache outage removes the
// speed-up and nothing else.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/joestump/spindle/internal/metrics"
)

// Cache is the contract shared by the Redis, Memory and Null stores.
type Cache interface {
	// Get returns the value stored under key and whether it was a live hit.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key, replacing any previous value and its expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// InvalidatePrefix removes every key that starts with prefix.
	InvalidatePrefix(ctx context.Context, prefix string)
}

// GetJSON decodes the cached value under key into v. A value that no longer
// decodes is treated as a miss. kind labels the lookup in metrics.
func GetJSON(ctx context.Context, c Cache, kind, key string, v any) bool {
	b, ok := c.Get(ctx, key)
	if ok && json.Unmarshal(b, v) == nil {
		metrics.CacheLookupsTotal.WithLabelValues(kind, "hit").Inc()
		return true
	}
	metrics.CacheLookupsTotal.WithLabelValues(kind, "miss").Inc()
	return false
}

// SetJSON encodes v and stores it under key for ttl.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Set(ctx, key, b, ttl)
}

// Null never stores anything. It is selected when no cache backend is
// configured.
type Null struct{}

func (Null) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (Null) Set(context.Context, string, []byte, time.Duration) {}
func (Null) InvalidatePrefix(context.Context, string)           {}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.Named("cache")
}
