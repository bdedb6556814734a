// Package session watches the lifetime of the current authentication session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/metrics"
	"github.com/Wikid82/gearshare/backend/internal/secevent"
)

const (
	DefaultWarnBefore = 5 * time.Minute
	DefaultTimeout    = 8 * time.Second
)

var (
	// ErrNoSession is returned by providers when nobody is signed in.
	ErrNoSession = errors.New("no active session")
	// ErrInvalid is returned by callers that abort after IsValid reported false.
	ErrInvalid = errors.New("session is no longer valid, please sign in again")
)

// Descriptor describes the current session as seen by the identity provider.
type Descriptor struct {
	UserID    string    `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Provider is the identity provider owning the session.
type Provider interface {
	CurrentSession(ctx context.Context) (*Descriptor, error)
	SignOut(ctx context.Context) error
}

// Recorder receives guard events.
type Recorder interface {
	Record(ctx context.Context, t secevent.Type, details string) secevent.Event
}

// Status is the outcome of one watchdog tick.
type Status int

const (
	StatusNone Status = iota
	StatusActive
	StatusExpiring
	StatusExpired
	StatusUnknown
)

var statusNames = [...]string{
	StatusNone:     "none",
	StatusActive:   "active",
	StatusExpiring: "expiring",
	StatusExpired:  "expired",
	StatusUnknown:  "unknown",
}

func (s Status) String() string { return statusNames[s] }

// Guard checks session validity before sensitive reads and runs the watchdog.
type Guard struct {
	provider   Provider
	events     Recorder
	now        func() time.Time
	warnBefore time.Duration
	timeout    time.Duration
	onWarning  func(Descriptor, time.Duration)

	mu        sync.Mutex
	warnedFor time.Time
	last      *Descriptor
}

// Option configures a Guard.
type Option func(*Guard)

func WithClock(now func() time.Time) Option { return func(g *Guard) { g.now = now } }

func WithWarnBefore(d time.Duration) Option { return func(g *Guard) { g.warnBefore = d } }

func WithTimeout(d time.Duration) Option { return func(g *Guard) { g.timeout = d } }

// WithWarningHandler registers a callback invoked when the session is about to expire.
func WithWarningHandler(fn func(Descriptor, time.Duration)) Option {
	return func(g *Guard) { g.onWarning = fn }
}

// NewGuard returns a Guard reading sessions from provider.
func NewGuard(provider Provider, events Recorder, opts ...Option) *Guard {
	g := &Guard{
		provider:   provider,
		events:     events,
		now:        time.Now,
		warnBefore: DefaultWarnBefore,
		timeout:    DefaultTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Guard) current(ctx context.Context) (*Descriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	d, err := g.provider.CurrentSession(ctx)
	if d == nil && (err == nil || errors.Is(err, ErrNoSession)) {
		g.mu.Lock()
		g.last = nil
		g.mu.Unlock()
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	cp := *d
	g.last = &cp
	g.mu.Unlock()
	return d, nil
}

// IsValid consults the identity provider. An unreachable provider, a missing
// session and an expired session all count as invalid.
func (g *Guard) IsValid(ctx context.Context) bool {
	d, err := g.current(ctx)
	valid := err == nil && d.ExpiresAt.After(g.now())
	metrics.IncGuardDecision("session", valid)
	if err != nil && !errors.Is(err, ErrNoSession) {
		logger.Guard("session").WithError(err).Warn("session validation failed closed")
	}
	return valid
}

// Require returns ErrInvalid when IsValid is false.
func (g *Guard) Require(ctx context.Context) error {
	if !g.IsValid(ctx) {
		return ErrInvalid
	}
	return nil
}

// Last returns the descriptor seen by the most recent provider call.
func (g *Guard) Last() (Descriptor, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		return Descriptor{}, false
	}
	return *g.last, true
}

// Check runs one watchdog tick. A session inside the warning window produces
// one warning per session; an expired session is signed out and recorded as
// a timeout.
func (g *Guard) Check(ctx context.Context) Status {
	d, err := g.current(ctx)
	if errors.Is(err, ErrNoSession) {
		return StatusNone
	}
	if err != nil {
		logger.Guard("session").WithError(err).Debug("watchdog could not reach identity provider")
		return StatusUnknown
	}

	left := d.ExpiresAt.Sub(g.now())
	switch {
	case left <= 0:
		if err := g.provider.SignOut(ctx); err != nil {
			logger.Guard("session").WithError(err).Warn("forced sign-out failed")
		}
		g.events.Record(ctx, secevent.TypeSessionTimeout, fmt.Sprintf("session for %s expired at %s", d.UserID, d.ExpiresAt.UTC().Format(time.RFC3339)))
		g.mu.Lock()
		g.last = nil
		g.mu.Unlock()
		return StatusExpired
	case left <= g.warnBefore:
		g.mu.Lock()
		first := !g.warnedFor.Equal(d.ExpiresAt)
		g.warnedFor = d.ExpiresAt
		g.mu.Unlock()
		if first {
			g.events.Record(ctx, secevent.TypeSessionWarning, fmt.Sprintf("session expires in %s", left.Round(time.Second)))
			if g.onWarning != nil {
				go g.onWarning(*d, left)
			}
		}
		return StatusExpiring
	default:
		return StatusActive
	}
}
