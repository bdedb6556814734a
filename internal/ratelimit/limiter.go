// Package ratelimit implements the fixed-window attempt counter used to
// throttle form submissions and API calls.
//
// Windows are shared through durable storage but are only synchronized inside
// one process. Two processes sharing the storage can both pass a check that
// should have been exclusive; the limiter is a deterrent, and authorization
// is enforced by the backend.
package ratelimit

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/metrics"
	"github.com/Wikid82/gearshare/backend/internal/storage"
)

// ErrLimited is returned by callers that abort an action after a denial.
var ErrLimited = errors.New("too many attempts, please wait before trying again")

// Policy names a limit for an action.
type Policy struct {
	Action      string
	MaxAttempts int
	Window      time.Duration
}

// Built-in policies.
var (
	Registration = Policy{Action: "registration", MaxAttempts: 3, Window: 5 * time.Minute}
	Login        = Policy{Action: "login", MaxAttempts: 5, Window: 15 * time.Minute}
	API          = Policy{Action: "api", MaxAttempts: 60, Window: time.Minute}
	Payment      = Policy{Action: "payment", MaxAttempts: 5, Window: 10 * time.Minute}
	AdminAction  = Policy{Action: "admin_action", MaxAttempts: 10, Window: time.Minute}
)

// Window is the counter state of one (action, identifier) pair.
type Window struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"windowStart"`
	WindowMs    int64 `json:"windowDurationMs"`
	MaxAttempts int   `json:"maxAttempts"`
}

// Limiter is a fixed-window counter. Bursts straddling a window boundary can
// reach twice the limit.
type Limiter struct {
	mu      sync.Mutex
	store   storage.Store
	now     func() time.Time
	windows map[string]Window
}

// New returns a Limiter persisting its windows into st.
func New(st storage.Store) *Limiter {
	return &Limiter{store: st, now: time.Now}
}

// WithClock overrides the time source; intended for tests and replays.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func windowKey(action, identifier string) string {
	return action + ":" + identifier
}

// CheckAndConsume records one attempt and reports whether it is within the limit.
func (l *Limiter) CheckAndConsume(action, identifier string, maxAttempts int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.loadLocked()
	now := l.now().UnixMilli()
	key := windowKey(action, identifier)

	w, ok := l.windows[key]
	if !ok || now-w.WindowStart >= window.Milliseconds() {
		w = Window{WindowStart: now}
	}
	w.WindowMs = window.Milliseconds()
	w.MaxAttempts = maxAttempts
	w.Count++
	l.windows[key] = w

	l.pruneLocked(now)
	l.persistLocked()

	allowed := w.Count <= maxAttempts
	metrics.IncGuardDecision("ratelimit", allowed)
	if !allowed {
		logger.Guard("ratelimit").WithField("action", action).Warn("rate limit exceeded")
	}
	return allowed
}

// Allow applies a Policy.
func (l *Limiter) Allow(p Policy, identifier string) bool {
	return l.CheckAndConsume(p.Action, identifier, p.MaxAttempts, p.Window)
}

// Remaining returns how many attempts are left in the current window without
// consuming one.
func (l *Limiter) Remaining(p Policy, identifier string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()
	w, ok := l.windows[windowKey(p.Action, identifier)]
	if !ok || l.now().UnixMilli()-w.WindowStart >= p.Window.Milliseconds() {
		return p.MaxAttempts
	}
	if left := p.MaxAttempts - w.Count; left > 0 {
		return left
	}
	return 0
}

// Healthy reports whether the backing storage can be read.
func (l *Limiter) Healthy() error {
	_, _, err := l.store.Get(storage.KeyRateLimitAttempts)
	return err
}

// loadLocked re-reads the shared windows so that every limiter on the same
// store sees the latest counts. When storage cannot be read the last known
// windows stay in effect.
func (l *Limiter) loadLocked() {
	if l.windows == nil {
		l.windows = make(map[string]Window)
	}
	raw, ok, err := l.store.Get(storage.KeyRateLimitAttempts)
	if err != nil {
		logger.Guard("ratelimit").WithError(err).Warn("failed to read rate limit windows")
		return
	}
	windows := make(map[string]Window)
	if ok {
		if err := json.Unmarshal([]byte(raw), &windows); err != nil {
			logger.Guard("ratelimit").WithError(err).Warn("discarding unreadable rate limit windows")
			windows = make(map[string]Window)
		}
	}
	l.windows = windows
}

// pruneLocked drops windows that have fully elapsed; a dropped window and a
// reset window behave the same on the next attempt.
func (l *Limiter) pruneLocked(now int64) {
	for k, w := range l.windows {
		if w.WindowMs > 0 && now-w.WindowStart >= w.WindowMs {
			delete(l.windows, k)
		}
	}
}

func (l *Limiter) persistLocked() {
	raw, err := json.Marshal(l.windows)
	if err == nil {
		err = l.store.Set(storage.KeyRateLimitAttempts, string(raw))
	}
	if err != nil {
		logger.Guard("ratelimit").WithError(err).Warn("failed to persist rate limit windows")
	}
}
