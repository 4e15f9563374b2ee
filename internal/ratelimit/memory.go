package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory keeps windows in process. It has the same semantics as Redis but
// only bounds a single server process.
type Memory struct {
	mu      sync.Mutex
	opts    Options
	windows map[string][]time.Time
}

// NewMemory returns an empty in-process limiter.
func NewMemory(opts Options) *Memory {
	return &Memory{opts: opts.withDefaults(), windows: make(map[string][]time.Time)}
}

func (m *Memory) Acquire(_ context.Context, subject string, n int) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()
	cutoff := now.Add(-m.opts.Window)

	// Entries are appended in clock order, so expired ones form a prefix.
	w := m.windows[subject]
	i := 0
	for i < len(w) && !w[i].After(cutoff) {
		i++
	}
	w = w[i:]

	allowed := len(w)+n <= m.opts.Limit
	if allowed {
		for k := 0; k < n; k++ {
			w = append(w, now)
		}
	}
	if len(w) == 0 {
		delete(m.windows, subject)
	} else {
		m.windows[subject] = w
	}

	oldest := now
	if len(w) > 0 {
		oldest = w[0]
	}
	remaining := m.opts.Limit - len(w)
	if remaining < 0 {
		remaining = 0
	}
	return observe(Result{Allowed: allowed, Remaining: remaining, ResetAt: oldest.Add(m.opts.Window)})
}
