package audit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Wikid82/gearshare/backend/internal/csrf"
	"github.com/Wikid82/gearshare/backend/internal/privilege"
	"github.com/Wikid82/gearshare/backend/internal/risk"
	"github.com/Wikid82/gearshare/backend/internal/secevent"
	"github.com/Wikid82/gearshare/backend/internal/session"
	"github.com/Wikid82/gearshare/backend/internal/storage"
)

// Names of the built-in checks.
const (
	CheckCSRF              = "csrf_protection"
	CheckSession           = "session_validity"
	CheckRateLimiter       = "rate_limiter_storage"
	CheckPrivilege         = "privilege_consistency"
	CheckEventMirror       = "event_mirror"
	CheckEventChain        = "event_chain_integrity"
	CheckSuspicious        = "suspicious_activity"
	CheckConcurrentSession = "concurrent_sessions"
	CheckTransport         = "backend_transport"
	CheckBackendAudit      = "backend_audit_status"
)

func pass(msg string, sev risk.Level) Check { return Check{Status: StatusPass, Message: msg, Severity: sev} }
func fail(msg string, sev risk.Level) Check { return Check{Status: StatusFail, Message: msg, Severity: sev} }
func warn(msg string, sev risk.Level) Check { return Check{Status: StatusWarning, Message: msg, Severity: sev} }

// TokenSource exposes the live CSRF token.
type TokenSource interface {
	Current() (csrf.Token, bool)
}

// CSRFChecker reports whether a live anti-forgery token exists.
func CSRFChecker(tokens TokenSource, now func() time.Time, refresh time.Duration) Checker {
	return CheckerFunc(CheckCSRF, func(context.Context) Check {
		tok, ok := tokens.Current()
		if !ok {
			return warn("no live csrf token, one is issued on the next protected request", risk.High)
		}
		if age := now().Sub(tok.IssuedAt); refresh > 0 && age > refresh+time.Minute {
			return warn(fmt.Sprintf("csrf token is %s old and was not refreshed", age.Round(time.Second)), risk.Medium)
		}
		return pass("csrf token is live", risk.High)
	})
}

// SessionSource exposes the session guard.
type SessionSource interface {
	IsValid(ctx context.Context) bool
	Last() (session.Descriptor, bool)
}

// SessionChecker validates the current session and flags one close to expiry.
func SessionChecker(sessions SessionSource, now func() time.Time, warnBefore time.Duration) Checker {
	return CheckerFunc(CheckSession, func(ctx context.Context) Check {
		if !sessions.IsValid(ctx) {
			if _, seen := sessions.Last(); seen {
				return fail("session is expired or could not be confirmed", risk.High)
			}
			return pass("no signed-in session", risk.Low)
		}
		d, _ := sessions.Last()
		if left := d.ExpiresAt.Sub(now()); left <= warnBefore {
			return warn(fmt.Sprintf("session expires in %s", left.Round(time.Second)), risk.Medium)
		}
		return pass("session is valid", risk.High)
	})
}

// HealthSource is anything that can report the state of its storage.
type HealthSource interface {
	Healthy() error
}

// RateLimiterChecker reports whether the limiter can read its counters.
func RateLimiterChecker(limiter HealthSource) Checker {
	return CheckerFunc(CheckRateLimiter, func(context.Context) Check {
		if err := limiter.Healthy(); err != nil {
			return fail("rate limiter storage unavailable: "+err.Error(), risk.Medium)
		}
		return pass("rate limiter storage is readable", risk.Medium)
	})
}

// PrivilegeSource exposes the outcome of the last privilege evaluation.
type PrivilegeSource interface {
	State() privilege.State
	Disagreement() bool
}

// PrivilegeChecker fails when the role list claimed admin but the independent
// check refused it.
func PrivilegeChecker(p PrivilegeSource) Checker {
	return CheckerFunc(CheckPrivilege, func(context.Context) Check {
		if p.Disagreement() {
			return fail("role list claims admin but the server refused confirmation", risk.Critical)
		}
		return pass("privilege state "+p.State().String(), risk.Critical)
	})
}

// EventSource exposes the local security event log.
type EventSource interface {
	MirrorFailures() int64
	Verify() error
	CountSince(t secevent.Type, since time.Time) int
}

// MirrorChecker warns when events could not be delivered to the backend.
func MirrorChecker(events EventSource) Checker {
	return CheckerFunc(CheckEventMirror, func(context.Context) Check {
		if n := events.MirrorFailures(); n > 0 {
			return warn(fmt.Sprintf("%d security events were not delivered to the backend", n), risk.Low)
		}
		return pass("all security events delivered", risk.Low)
	})
}

// ChainChecker verifies the hash chain of the local event trail.
func ChainChecker(events EventSource) Checker {
	return CheckerFunc(CheckEventChain, func(context.Context) Check {
		if err := events.Verify(); err != nil {
			return fail("local event trail was modified: "+err.Error(), risk.Critical)
		}
		return pass("local event trail intact", risk.Critical)
	})
}

// SuspiciousActivityChecker counts suspicious events recorded within window.
func SuspiciousActivityChecker(events EventSource, now func() time.Time, window time.Duration) Checker {
	return CheckerFunc(CheckSuspicious, func(context.Context) Check {
		n := events.CountSince(secevent.TypeSuspicious, now().Add(-window))
		switch {
		case n >= 3:
			return fail(fmt.Sprintf("%d suspicious events in the last %s", n, window), risk.High)
		case n > 0:
			return warn(fmt.Sprintf("%d suspicious events in the last %s", n, window), risk.Medium)
		default:
			return pass("no recent suspicious activity", risk.High)
		}
	})
}

// ConcurrentSessionChecker reads app_session_count.
func ConcurrentSessionChecker(st storage.Store) Checker {
	return CheckerFunc(CheckConcurrentSession, func(context.Context) Check {
		raw, ok, err := st.Get(storage.KeyAppSessionCount)
		if err != nil {
			return warn("session counter unreadable: "+err.Error(), risk.Low)
		}
		if !ok {
			return pass("no concurrent sessions", risk.Medium)
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return warn("session counter is corrupt", risk.Low)
		}
		switch {
		case n > 3:
			return fail(fmt.Sprintf("%d concurrent sessions open", n), risk.High)
		case n > 1:
			return warn(fmt.Sprintf("%d concurrent sessions open", n), risk.Medium)
		default:
			return pass("single session", risk.Medium)
		}
	})
}

// TransportChecker requires https to the backend, tolerating plain http on
// loopback during development.
func TransportChecker(backendURL string) Checker {
	return CheckerFunc(CheckTransport, func(context.Context) Check {
		u, err := url.Parse(backendURL)
		if err != nil || u.Host == "" {
			return fail("backend url is not configured", risk.High)
		}
		if u.Scheme == "https" {
			return pass("backend reached over https", risk.High)
		}
		host := u.Hostname()
		if host == "localhost" || strings.HasPrefix(host, "127.") || host == "::1" {
			return warn("backend reached over plain http on loopback", risk.Medium)
		}
		return fail("backend reached over plain http", risk.High)
	})
}

// RemoteStatus is the backend's view of the user's security posture.
type RemoteStatus struct {
	FailedLogins24h     int  `json:"failed_logins_24h"`
	SuspiciousEvents24h int  `json:"suspicious_events_24h"`
	ChainIntact         bool `json:"chain_intact"`
}

// RemoteStatusSource is the backend audit status RPC.
type RemoteStatusSource interface {
	AuditStatus(ctx context.Context) (RemoteStatus, error)
}

// BackendAuditChecker folds the backend audit status into the report.
func BackendAuditChecker(src RemoteStatusSource) Checker {
	return CheckerFunc(CheckBackendAudit, func(ctx context.Context) Check {
		st, err := src.AuditStatus(ctx)
		if err != nil {
			return warn("backend audit status unavailable", risk.Medium)
		}
		switch {
		case !st.ChainIntact:
			return fail("server-side event chain failed verification", risk.Critical)
		case st.FailedLogins24h >= 10:
			return fail(fmt.Sprintf("%d failed logins in the last 24h", st.FailedLogins24h), risk.High)
		case st.FailedLogins24h > 0 || st.SuspiciousEvents24h > 0:
			return warn(fmt.Sprintf("%d failed logins and %d suspicious events in the last 24h", st.FailedLogins24h, st.SuspiciousEvents24h), risk.Low)
		default:
			return pass("backend reports no recent incidents", risk.Critical)
		}
	})
}
