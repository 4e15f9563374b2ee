package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// scanBatch is the COUNT hint passed to SCAN during prefix invalidation.
const scanBatch = 200

// Redis stores entries in a shared Redis so every server process sees the
// same cache. Expiry is delegated to Redis (SET ... EX).
type Redis struct {
	client redis.UniversalClient
	prefix string
	log    *zap.Logger
}

// NewRedis returns a Redis cache. namespace is prepended to every key so
// several deployments can share one Redis.
func NewRedis(client redis.UniversalClient, namespace string, log *zap.Logger) *Redis {
	return &Redis{client: client, prefix: namespace, log: logger(log)}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return b, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		r.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidatePrefix walks the keyspace with SCAN rather than KEYS so a large
// cache never blocks Redis.
func (r *Redis) InvalidatePrefix(ctx context.Context, prefix string) {
	match := escapeGlob(r.prefix+prefix) + "*"
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			r.log.Warn("cache invalidate scan failed", zap.String("prefix", prefix), zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				r.log.Warn("cache invalidate delete failed", zap.String("prefix", prefix), zap.Error(err))
				return
			}
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
