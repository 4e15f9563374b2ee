package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/joestump/spindle/internal/metrics"
)

// slidingWindow keeps one sorted-set member per accepted unit, scored by its
// acquisition time in milliseconds.
//
// KEYS[1] window key
// ARGV    now_ms, window_ms, limit, n, member_prefix
// returns {allowed (0|1), remaining, oldest_ms}
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local n = tonumber(ARGV[4])
local prefix = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', tostring(now - window))
local count = redis.call('ZCARD', key)

local allowed = 0
if count + n <= limit then
	for i = 1, n do
		redis.call('ZADD', key, tostring(now), prefix .. ':' .. i)
	end
	count = count + n
	allowed = 1
	redis.call('PEXPIRE', key, tostring(window))
end

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
	oldest = tonumber(first[2])
end
return {allowed, limit - count, oldest}
`)

// Redis is a limiter whose windows live in a shared Redis, so every server
// process draws from the same budget.
type Redis struct {
	client redis.UniversalClient
	opts   Options
	prefix string
	log    *zap.Logger
}

// NewRedis returns a Redis limiter. namespace is prepended to every key.
func NewRedis(client redis.UniversalClient, namespace string, opts Options, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{client: client, opts: opts.withDefaults(), prefix: namespace + "ratelimit:", log: log.Named("ratelimit")}
}

// Acquire runs the window script. If Redis cannot be reached the call is
// allowed: the limiter guards a shared quota, not a security boundary.
func (r *Redis) Acquire(ctx context.Context, subject string, n int) Result {
	now := r.opts.Now()
	if n > r.opts.Limit {
		return observe(Result{Allowed: false, Remaining: 0, ResetAt: now.Add(r.opts.Window)})
	}

	vals, err := slidingWindow.Run(ctx, r.client,
		[]string{r.prefix + subject},
		now.UnixMilli(), r.opts.Window.Milliseconds(), r.opts.Limit, n, uuid.NewString(),
	).Int64Slice()
	if err != nil || len(vals) != 3 {
		r.log.Warn("rate limiter unavailable, allowing request",
			zap.String("subject", subject), zap.Int("units", n), zap.Error(err))
		metrics.RateLimitDecisionsTotal.WithLabelValues("fail_open").Inc()
		return Result{Allowed: true, Remaining: -1, ResetAt: now}
	}

	remaining := int(vals[1])
	if remaining < 0 {
		remaining = 0
	}
	return observe(Result{
		Allowed:   vals[0] == 1,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(vals[2]).In(now.Location()).Add(r.opts.Window),
	})
}
