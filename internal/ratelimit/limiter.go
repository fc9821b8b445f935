// Package ratelimit implements a per-client sliding-window request limiter.
// Each client owns an independent window and lock; throttling one client never
// serializes another.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a rate-limit check. Denial is a normal outcome,
// not an error.
type Decision int

const (
	Allowed Decision = iota
	Denied
)

// window tracks the request instants of one client within the trailing period.
type window struct {
	mu      sync.Mutex
	ceiling int
	stamps  []time.Time
}

// Limiter gates requests per client over a trailing time window.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window

	span           time.Duration
	defaultCeiling int
	now            func() time.Time
}

// New constructs a Limiter with the given window span and default ceiling.
func New(span time.Duration, defaultCeiling int) *Limiter {
	return &Limiter{
		windows:        make(map[string]*window),
		span:           span,
		defaultCeiling: defaultCeiling,
		now:            time.Now,
	}
}

// SetClock overrides the clock source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Track registers a client with the given ceiling. A ceiling <= 0 falls back
// to the limiter default. Tracking an already-known client is a no-op.
func (l *Limiter) Track(clientID string, ceiling int) {
	if ceiling <= 0 {
		ceiling = l.defaultCeiling
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.windows[clientID]; !ok {
		l.windows[clientID] = &window{ceiling: ceiling}
	}
}

// Untrack drops a client's window entirely.
func (l *Limiter) Untrack(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, clientID)
}

// CheckAndRecord prunes entries older than the window span, then either
// records the request instant and returns Allowed, or returns Denied without
// recording. Unknown clients are tracked on first use at the default ceiling.
func (l *Limiter) CheckAndRecord(clientID string) Decision {
	w := l.get(clientID)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	w.prune(now.Add(-l.span))

	if len(w.stamps) >= w.ceiling {
		return Denied
	}
	w.stamps = append(w.stamps, now)
	return Allowed
}

// UpdateCeiling changes the limit used by subsequent checks. Timestamps
// already recorded in the current window are unaffected.
func (l *Limiter) UpdateCeiling(clientID string, ceiling int) {
	if ceiling <= 0 {
		ceiling = l.defaultCeiling
	}
	w := l.get(clientID)
	w.mu.Lock()
	w.ceiling = ceiling
	w.mu.Unlock()
}

// Usage returns the number of requests currently counted against the client.
func (l *Limiter) Usage(clientID string) int {
	w := l.get(clientID)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(l.now().Add(-l.span))
	return len(w.stamps)
}

// get returns the client's window, creating it at the default ceiling if the
// client is not yet tracked.
func (l *Limiter) get(clientID string) *window {
	l.mu.RLock()
	w, ok := l.windows[clientID]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[clientID]; ok {
		return w
	}
	w = &window{ceiling: l.defaultCeiling}
	l.windows[clientID] = w
	return w
}

// prune drops stamps at or before the cutoff. Caller holds w.mu.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
