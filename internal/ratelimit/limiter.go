// Package ratelimit implements per-user sliding-window limits over
// event classes, plus a trailing burst cap for chat messages.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"collabhub/internal/config"
)

// Class names one limited event family. Events in the same class share
// a window; ping and room management are not limited.
type Class string

const (
	ClassConnection Class = "connection"
	ClassMessage    Class = "message"
	ClassTyping     Class = "typing"
	ClassCursor     Class = "cursor"
	ClassPlanUpdate Class = "plan_update"
)

type window struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
}

type key struct {
	userID string
	class  Class
}

// Limiter applies fixed-position sliding windows per (user, class).
// Exceeding a window blocks the pair until the window ends; messages
// additionally pass through a trailing 60-second burst check before the
// primary window is consulted.
type Limiter struct {
	mu      sync.Mutex
	rules   map[Class]config.Rule
	burst   config.Rule
	windows map[key]*window
	bursts  map[string][]time.Time

	// now is swapped out in tests.
	now func() time.Time
}

func NewLimiter(cfg *config.RateLimitConfig) *Limiter {
	return &Limiter{
		rules: map[Class]config.Rule{
			ClassConnection: cfg.Connection,
			ClassMessage:    cfg.Message,
			ClassTyping:     cfg.Typing,
			ClassCursor:     cfg.Cursor,
			ClassPlanUpdate: cfg.PlanUpdate,
		},
		burst:   cfg.MessageBurst,
		windows: make(map[key]*window),
		bursts:  make(map[string][]time.Time),
		now:     time.Now,
	}
}

// CheckAndConsume records one event and reports whether it is allowed.
// When denied, retryAfter is the whole number of seconds until the
// block lifts, rounded up and at least 1.
func (l *Limiter) CheckAndConsume(userID string, class Class) (allowed bool, retryAfter int) {
	rule, limited := l.rules[class]
	if !limited {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if class == ClassMessage {
		if until, ok := l.checkBurst(userID, now); !ok {
			return false, secondsUntil(now, until)
		}
	}

	k := key{userID: userID, class: class}
	w := l.windows[k]
	if w == nil {
		w = &window{windowStart: now}
		l.windows[k] = w
	}

	if now.Before(w.blockedUntil) {
		return false, secondsUntil(now, w.blockedUntil)
	}

	if now.Sub(w.windowStart) >= rule.Window {
		w.windowStart = now
		w.count = 0
		w.blockedUntil = time.Time{}
	}

	if w.count >= rule.Limit {
		w.blockedUntil = w.windowStart.Add(rule.Window)
		return false, secondsUntil(now, w.blockedUntil)
	}
	w.count++
	return true, 0
}

// checkBurst applies the trailing-window burst cap. The attempt is
// recorded whether or not it is allowed, so a client hammering the
// server stays blocked.
func (l *Limiter) checkBurst(userID string, now time.Time) (time.Time, bool) {
	cutoff := now.Add(-l.burst.Window)
	stamps := l.bursts[userID]

	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	l.bursts[userID] = kept

	if len(kept) > l.burst.Limit {
		return kept[0].Add(l.burst.Window), false
	}
	return time.Time{}, true
}

func secondsUntil(now, until time.Time) int {
	secs := int(math.Ceil(until.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Cleanup drops window and burst state that can no longer influence a
// decision. Called from the application's periodic sweep.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, w := range l.windows {
		rule := l.rules[k.class]
		if now.Sub(w.windowStart) >= rule.Window && now.After(w.blockedUntil) {
			delete(l.windows, k)
		}
	}
	cutoff := now.Add(-l.burst.Window)
	for userID, stamps := range l.bursts {
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(l.bursts, userID)
		} else {
			l.bursts[userID] = kept
		}
	}
}

// Reset clears all state for a user, used when an admin lifts a block.
func (l *Limiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.windows {
		if k.userID == userID {
			delete(l.windows, k)
		}
	}
	delete(l.bursts, userID)
}

// Stats returns tracked entry counts for the stats endpoint.
func (l *Limiter) Stats() (windows, burstUsers int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows), len(l.bursts)
}
