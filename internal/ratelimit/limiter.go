// Package ratelimit implements per-user admission control.
//
// This is a fixed-window-of-one limiter: only the most recent admitted
// action's timestamp matters. A rejected attempt does not touch the stored
// timestamp, so a user hammering the bot stays throttled relative to their
// last admitted action, not their last attempt.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is safe for concurrent use.
type Limiter struct {
	threshold time.Duration
	now       func() time.Time

	mu   sync.Mutex
	last map[int64]time.Time

	// Idle entries are evicted opportunistically during TryAdmit calls to
	// keep the map bounded over long uptimes.
	sweepEvery uint64
	calls      uint64
}

type Option func(*Limiter)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(threshold time.Duration, opts ...Option) *Limiter {
	if threshold <= 0 {
		threshold = 2 * time.Second
	}
	l := &Limiter{
		threshold:  threshold,
		now:        time.Now,
		last:       map[int64]time.Time{},
		sweepEvery: 256,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// TryAdmit admits the action (recording now as the user's last-action time)
// unless the previous admitted action was less than the threshold ago.
// Rejection is a normal control-flow outcome, not an error.
func (l *Limiter) TryAdmit(userID int64) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.last[userID]; ok {
		if now.Sub(prev) < l.threshold {
			return false
		}
	}
	l.last[userID] = now

	l.calls++
	if l.calls%l.sweepEvery == 0 {
		l.sweepLocked(now)
	}
	return true
}

// SetThreshold applies a new threshold (config hot reload).
func (l *Limiter) SetThreshold(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	l.threshold = d
	l.mu.Unlock()
}

// Threshold reports the current admission spacing.
func (l *Limiter) Threshold() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.threshold
}

// Size reports the number of tracked users.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}

func (l *Limiter) sweepLocked(now time.Time) {
	idle := l.threshold * 10
	if idle < time.Minute {
		idle = time.Minute
	}
	for id, at := range l.last {
		if now.Sub(at) > idle {
			delete(l.last, id)
		}
	}
}
