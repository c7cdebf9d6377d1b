// Package security holds the request guards of the HTTP gateway: a
// per-client sliding-window rate limiter and strict JSON body decoding.
package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a client exceeds its budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// Kind names a class of rate-limited request.
type Kind string

// Kind values. Each one costs a model or embedder call.
const (
	KindTurn   Kind = "turn"
	KindWrite  Kind = "write"
	KindSearch Kind = "search"
)

// RateLimitConfig holds per-client budgets per minute. Zero picks the
// default, a negative value disables the limit.
type RateLimitConfig struct {
	TurnsPerMin    int `yaml:"turns_per_min"`
	WritesPerMin   int `yaml:"writes_per_min"`
	SearchesPerMin int `yaml:"searches_per_min"`
}

// Default budgets.
const (
	DefaultTurnsPerMin    = 30
	DefaultWritesPerMin   = 120
	DefaultSearchesPerMin = 300
)

// maxTracked bounds the windows kept before idle ones are swept.
const maxTracked = 4096

// RateLimiter counts events per (kind, client) over a one-minute sliding
// window. It is safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[Kind]int
	windows map[windowKey]*window
	span    time.Duration
	now     func() time.Time
}

type windowKey struct {
	kind   Kind
	client string
}

type window struct {
	events []time.Time
}

// NewRateLimiter creates a rate limiter from cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		limits:  make(map[Kind]int, 3),
		windows: make(map[windowKey]*window),
		span:    time.Minute,
		now:     time.Now,
	}
	rl.setLimit(KindTurn, cfg.TurnsPerMin, DefaultTurnsPerMin)
	rl.setLimit(KindWrite, cfg.WritesPerMin, DefaultWritesPerMin)
	rl.setLimit(KindSearch, cfg.SearchesPerMin, DefaultSearchesPerMin)
	return rl
}

func (rl *RateLimiter) setLimit(k Kind, n, def int) {
	switch {
	case n < 0:
		return
	case n == 0:
		n = def
	}
	rl.limits[k] = n
}

// Limit returns the per-minute budget of kind and whether one applies.
func (rl *RateLimiter) Limit(kind Kind) (int, bool) {
	n, ok := rl.limits[kind]
	return n, ok
}

// Allow records one event of kind for client. When the budget is spent it
// returns ErrRateLimited and how long until the oldest event leaves the
// window.
func (rl *RateLimiter) Allow(kind Kind, client string) (time.Duration, error) {
	limit, ok := rl.limits[kind]
	if !ok {
		return 0, nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	key := windowKey{kind: kind, client: client}
	w, ok := rl.windows[key]
	if !ok {
		if len(rl.windows) >= maxTracked {
			rl.sweep(now)
		}
		w = &window{}
		rl.windows[key] = w
	}
	w.evict(now.Add(-rl.span))

	if len(w.events) >= limit {
		return w.events[0].Add(rl.span).Sub(now), ErrRateLimited
	}
	w.events = append(w.events, now)
	return 0, nil
}

// sweep drops windows with no event inside the span.
func (rl *RateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-rl.span)
	for k, w := range rl.windows {
		if w.evict(cutoff); len(w.events) == 0 {
			delete(rl.windows, k)
		}
	}
}

// tracked reports how many windows are held.
func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// evict removes events at or before cutoff. Events are chronological.
func (w *window) evict(cutoff time.Time) {
	i := 0
	for i < len(w.events) && !w.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.events = w.events[i:]
	}
}
