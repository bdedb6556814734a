// Package cerberus owns one instance of every guard for a browsing session
// and runs their timers.
package cerberus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Wikid82/gearshare/backend/internal/audit"
	"github.com/Wikid82/gearshare/backend/internal/backend"
	"github.com/Wikid82/gearshare/backend/internal/config"
	"github.com/Wikid82/gearshare/backend/internal/csrf"
	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/payment"
	"github.com/Wikid82/gearshare/backend/internal/privilege"
	"github.com/Wikid82/gearshare/backend/internal/ratelimit"
	"github.com/Wikid82/gearshare/backend/internal/secevent"
	"github.com/Wikid82/gearshare/backend/internal/session"
	"github.com/Wikid82/gearshare/backend/internal/storage"
	"github.com/Wikid82/gearshare/backend/internal/version"
)

const suspiciousWindow = time.Hour

// Backend is everything the guards need from the managed backend.
// *backend.Client implements it.
type Backend interface {
	session.Provider
	secevent.Sink
	privilege.RoleSource
	privilege.AdminConfirmer
	payment.Authorizer
	payment.SessionCreator
	audit.RemoteStatusSource

	SignIn(ctx context.Context, email, password string) (*backend.AuthResult, error)
	Register(ctx context.Context, email, password, name string) (*backend.AuthResult, error)
	AdminAction(ctx context.Context, req backend.AdminRequest) error
}

// Cerberus is the explicit context object shared by every consumer of the
// guards. Construct one per browsing session.
type Cerberus struct {
	Cron *cron.Cron

	Tokens    *csrf.Store
	Limiter   *ratelimit.Limiter
	Events    *secevent.Log
	Sessions  *session.Guard
	Privilege *privilege.Verifier
	Payments  *payment.Validator
	Audit     *audit.Engine

	cfg         config.SecurityConfig
	store       storage.Store
	backend     Backend
	now         func() time.Time
	fingerprint string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

type options struct {
	now       func() time.Time
	userAgent string
	onWarning func(session.Descriptor, time.Duration)
}

// Option configures a Cerberus.
type Option func(*options)

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithUserAgent(ua string) Option { return func(o *options) { o.userAgent = ua } }

// WithSessionWarning registers the callback shown when the session is about
// to expire.
func WithSessionWarning(fn func(session.Descriptor, time.Duration)) Option {
	return func(o *options) { o.onWarning = fn }
}

// Connect builds a Cerberus backed by an HTTP client for cfg.BackendURL. The
// client attaches the anti-forgery header from the returned Cerberus.
func Connect(cfg config.SecurityConfig, st storage.Store, opts ...Option) (*Cerberus, *backend.Client) {
	cfg = withDefaults(cfg)
	o := resolve(opts)
	tokens := csrf.NewStore(st, csrf.WithTTL(cfg.CSRFTokenTTL), csrf.WithClock(o.now))
	client := backend.NewClient(cfg.BackendURL, tokens)
	return build(cfg, st, tokens, client, o), client
}

// New builds a Cerberus talking to b.
func New(cfg config.SecurityConfig, st storage.Store, b Backend, opts ...Option) *Cerberus {
	cfg = withDefaults(cfg)
	o := resolve(opts)
	tokens := csrf.NewStore(st, csrf.WithTTL(cfg.CSRFTokenTTL), csrf.WithClock(o.now))
	return build(cfg, st, tokens, b, o)
}

func resolve(opts []Option) options {
	o := options{now: time.Now, userAgent: version.UserAgent()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func build(cfg config.SecurityConfig, st storage.Store, tokens *csrf.Store, b Backend, o options) *Cerberus {
	fingerprint := secevent.Fingerprint(st, o.userAgent, o.now())
	events := secevent.New(b,
		secevent.WithCapacity(cfg.EventBufferSize),
		secevent.WithClock(o.now),
		secevent.WithFingerprint(fingerprint),
		secevent.WithMirrorTimeout(cfg.GateTimeout),
	)
	sessionOpts := []session.Option{
		session.WithClock(o.now),
		session.WithWarnBefore(cfg.SessionWarnBefore),
		session.WithTimeout(cfg.GateTimeout),
	}
	if o.onWarning != nil {
		sessionOpts = append(sessionOpts, session.WithWarningHandler(o.onWarning))
	}

	c := &Cerberus{
		Cron:      cron.New(),
		Tokens:    tokens,
		Limiter:   ratelimit.New(st).WithClock(o.now),
		Events:    events,
		Sessions:  session.NewGuard(b, events, sessionOpts...),
		Privilege: privilege.NewVerifier(b, b, events, cfg.GateTimeout),
		Payments:  payment.NewValidator(b, events, payment.WithClock(o.now), payment.WithTimeout(cfg.GateTimeout)),
		cfg:       cfg,
		store:     st,
		backend:   b,
		now:       o.now,

		fingerprint: fingerprint,
	}
	c.Audit = audit.NewEngine([]audit.Checker{
		audit.CSRFChecker(c.Tokens, o.now, cfg.CSRFRefresh),
		audit.SessionChecker(c.Sessions, o.now, cfg.SessionWarnBefore),
		audit.RateLimiterChecker(c.Limiter),
		audit.PrivilegeChecker(c.Privilege),
		audit.MirrorChecker(c.Events),
		audit.ChainChecker(c.Events),
		audit.SuspiciousActivityChecker(c.Events, o.now, suspiciousWindow),
		audit.ConcurrentSessionChecker(st),
		audit.TransportChecker(cfg.BackendURL),
		audit.BackendAuditChecker(b),
	}, audit.WithClock(o.now), audit.WithCheckTimeout(cfg.GateTimeout))
	return c
}

// withDefaults fills zero fields from DefaultSecurityConfig.
func withDefaults(cfg config.SecurityConfig) config.SecurityConfig {
	def := config.DefaultSecurityConfig()
	if cfg.BackendURL == "" {
		cfg.BackendURL = def.BackendURL
	}
	for _, d := range []struct{ dst, fallback *time.Duration }{
		{&cfg.CSRFTokenTTL, &def.CSRFTokenTTL},
		{&cfg.CSRFRefresh, &def.CSRFRefresh},
		{&cfg.SessionCheck, &def.SessionCheck},
		{&cfg.SessionWarnBefore, &def.SessionWarnBefore},
		{&cfg.AuditInterval, &def.AuditInterval},
		{&cfg.GateTimeout, &def.GateTimeout},
		{&cfg.PayoutThrottle, &def.PayoutThrottle},
	} {
		if *d.dst <= 0 {
			*d.dst = *d.fallback
		}
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}
	return cfg
}

// Start schedules the token refresh, the session watchdog and the periodic
// audit, then runs a first audit. Timers are independent of each other.
func (c *Cerberus) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("cerberus already started")
	}
	// Jobs outlive the caller's context and are cancelled by Stop.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	jobs := []struct {
		every time.Duration
		name  string
		run   func()
	}{
		{c.cfg.CSRFRefresh, "csrf refresh", c.refreshToken},
		{c.cfg.SessionCheck, "session watchdog", func() { c.Sessions.Check(jobCtx) }},
		{c.cfg.AuditInterval, "security audit", func() { c.Audit.Run(jobCtx) }},
	}
	for _, j := range jobs {
		if _, err := c.Cron.AddFunc("@every "+j.every.String(), j.run); err != nil {
			c.mu.Unlock()
			cancel()
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	c.started = true
	c.cancel = cancel
	c.Cron.Start()
	c.mu.Unlock()
	logger.Guard("cerberus").WithField("backend", c.cfg.BackendURL).Info("security guards started")

	c.Audit.Run(ctx)
	return nil
}

func (c *Cerberus) refreshToken() {
	if _, err := c.Tokens.Regenerate(); err != nil {
		logger.Guard("csrf").WithError(err).Warn("token refresh failed")
	}
}

// Stop halts the timers, waits for running jobs and joins in-flight event
// mirrors.
func (c *Cerberus) Stop(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.mu.Unlock()

	if started {
		defer cancel()
		select {
		case <-c.Cron.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.Events.Flush(ctx)
}

// adjustSessionCount moves app_session_count by delta, never below zero.
func (c *Cerberus) adjustSessionCount(delta int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	if raw, ok, err := c.store.Get(storage.KeyAppSessionCount); err == nil && ok {
		n, _ = strconv.Atoi(raw)
	}
	n += delta
	if n < 0 {
		n = 0
	}
	var err error
	if n == 0 {
		err = c.store.Delete(storage.KeyAppSessionCount)
	} else {
		err = c.store.Set(storage.KeyAppSessionCount, strconv.Itoa(n))
	}
	if err != nil {
		logger.Guard("cerberus").WithError(err).Debug("failed to persist session count")
	}
	return n
}
