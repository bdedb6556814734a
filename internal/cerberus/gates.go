package cerberus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Wikid82/gearshare/backend/internal/backend"
	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/metrics"
	"github.com/Wikid82/gearshare/backend/internal/payment"
	"github.com/Wikid82/gearshare/backend/internal/privilege"
	"github.com/Wikid82/gearshare/backend/internal/ratelimit"
	"github.com/Wikid82/gearshare/backend/internal/risk"
	"github.com/Wikid82/gearshare/backend/internal/secevent"
	"github.com/Wikid82/gearshare/backend/internal/session"
	"github.com/Wikid82/gearshare/backend/internal/storage"
	"github.com/Wikid82/gearshare/backend/internal/util"
)

const (
	reasonTokenUnavailable = "security token unavailable, refresh and try again"
	reasonUnavailable      = "service unavailable, please try again later"
	reasonNotAdmin         = "administrator privileges could not be verified"
)

// identity keys rate limits: the signed-in user, else the device.
func (c *Cerberus) identity() string {
	if u := c.Events.User(); u != "" {
		return u
	}
	return c.fingerprint
}

func (c *Cerberus) requireToken() *Denial {
	if _, err := c.Tokens.Require(); err != nil {
		metrics.IncGuardDecision("csrf", false)
		return deny(ConfigurationGap, reasonTokenUnavailable, err)
	}
	return nil
}

func (c *Cerberus) limit(ctx context.Context, p ratelimit.Policy, identifier string) *Denial {
	if c.Limiter.Allow(p, identifier) {
		return nil
	}
	c.Events.Record(ctx, secevent.TypeSuspicious, fmt.Sprintf("rate limit exceeded for %s", p.Action))
	return deny(AuthorizationDenied, ratelimit.ErrLimited.Error(), ratelimit.ErrLimited)
}

// RequireSession gates a sensitive read on a valid session. The identity
// provider is always consulted; an unreachable provider denies.
func (c *Cerberus) RequireSession(ctx context.Context) error {
	if err := c.Sessions.Require(ctx); err != nil {
		c.Events.Record(ctx, secevent.TypeSessionTimeout, "protected action attempted without a valid session")
		return deny(AuthorizationDenied, session.ErrInvalid.Error(), err)
	}
	return nil
}

// backendDenial classifies a failed gating call. authReason is shown when the
// backend refused the caller.
func backendDenial(err error, authReason string) *Denial {
	var se *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		return deny(AuthorizationDenied, authReason, err)
	case errors.Is(err, backend.ErrTooManyRequests):
		return deny(AuthorizationDenied, ratelimit.ErrLimited.Error(), err)
	case errors.As(err, &se) && se.Code == http.StatusLocked:
		return deny(AuthorizationDenied, "account temporarily locked, try again later", err)
	case errors.As(err, &se) && se.Code < http.StatusInternalServerError:
		return deny(ValidationFailure, se.Message, err)
	default:
		return deny(TransportFailure, reasonUnavailable, err)
	}
}

// SignIn authenticates after the login rate limit, then starts the session:
// the event log is keyed to the user, the device session count grows and
// privileges are evaluated.
func (c *Cerberus) SignIn(ctx context.Context, email, password string) (*backend.AuthResult, error) {
	id := strings.ToLower(strings.TrimSpace(email))
	if d := c.limit(ctx, ratelimit.Login, id); d != nil {
		return nil, d
	}
	if d := c.requireToken(); d != nil {
		return nil, d
	}

	res, err := c.backend.SignIn(ctx, email, password)
	if err != nil {
		d := backendDenial(err, "invalid email or password")
		if d.Kind == AuthorizationDenied {
			c.Events.Record(ctx, secevent.TypeSuspicious, "failed sign-in for "+util.MaskEmail(id))
		}
		metrics.IncGuardDecision("sign_in", false)
		return nil, d
	}
	metrics.IncGuardDecision("sign_in", true)
	c.startSession(ctx, res.UserID, secevent.TypeLogin, "signed in")
	return res, nil
}

// Register creates an account under the registration rate limit and signs
// the new user in.
func (c *Cerberus) Register(ctx context.Context, email, password, name string) (*backend.AuthResult, error) {
	id := strings.ToLower(strings.TrimSpace(email))
	if d := c.limit(ctx, ratelimit.Registration, id); d != nil {
		return nil, d
	}
	if d := c.requireToken(); d != nil {
		return nil, d
	}

	res, err := c.backend.Register(ctx, email, password, name)
	if err != nil {
		return nil, backendDenial(err, "registration was refused")
	}
	c.startSession(ctx, res.UserID, secevent.TypeSignup, "account created")
	return res, nil
}

func (c *Cerberus) startSession(ctx context.Context, userID string, t secevent.Type, details string) {
	c.Events.SetUser(userID)
	c.Events.Record(ctx, t, details)
	if n := c.adjustSessionCount(1); n > 1 {
		c.Events.Record(ctx, secevent.TypeMultipleSessions, fmt.Sprintf("%d sessions open on this device", n))
	}
	c.Privilege.Evaluate(ctx, userID)
}

// SignOut ends the session locally even when the backend cannot be reached.
func (c *Cerberus) SignOut(ctx context.Context) error {
	if c.Events.User() == "" {
		return nil
	}
	c.Events.Record(ctx, secevent.TypeLogout, "signed out")
	// Mirrors need the bearer token that the backend sign-out revokes.
	if err := c.Events.Flush(ctx); err != nil {
		logger.Guard("secevent").WithError(err).Warn("event mirrors still pending at sign-out")
	}
	if err := c.backend.SignOut(ctx); err != nil {
		logger.Guard("cerberus").WithError(err).Warn("backend sign-out failed, local session cleared")
	}
	c.adjustSessionCount(-1)
	c.Privilege.Reset()
	c.Events.SetUser("")
	if err := c.Tokens.Clear(); err != nil {
		logger.Guard("csrf").WithError(err).Debug("failed to clear token on sign-out")
	}
	return nil
}

// Guard gates a state-changing action: a live anti-forgery token, the rate
// limit p and a valid session, in that order. It returns the headers to
// attach to the outgoing request.
func (c *Cerberus) Guard(ctx context.Context, action string, p ratelimit.Policy) (http.Header, error) {
	if d := c.requireToken(); d != nil {
		return nil, d
	}
	if d := c.limit(ctx, p, c.identity()); d != nil {
		return nil, d
	}
	if err := c.RequireSession(ctx); err != nil {
		return nil, err
	}
	logger.Guard("cerberus").WithField("action", action).Debug("gate passed")
	return c.Tokens.Headers(nil), nil
}

// Checkout gates a payment and opens a checkout session for the signed-in
// user. Local rule violations are validation failures; a refused or
// unreachable authorization is a denial.
func (c *Cerberus) Checkout(ctx context.Context, p payment.Params) (*payment.Session, error) {
	if _, err := c.Guard(ctx, payment.OperationCheckout, ratelimit.Payment); err != nil {
		return nil, err
	}

	sess, err := c.Payments.Checkout(ctx, c.Events.User(), p, c.backend)
	switch {
	case errors.Is(err, payment.ErrInvalidPayment):
		reason := strings.Join(payment.Check(p, c.now()).Errors, "; ")
		return nil, deny(ValidationFailure, reason, err)
	case errors.Is(err, payment.ErrNotAuthorized):
		c.Events.Record(ctx, secevent.TypeSuspicious, "payment authorization refused")
		return nil, deny(AuthorizationDenied, "payment could not be authorized", err)
	case err != nil:
		return nil, backendDenial(err, "payment could not be authorized")
	}
	return sess, nil
}

// ReadPayouts gates a read of payout data on a valid session and on the
// payout throttle shared by every consumer of the store.
func (c *Cerberus) ReadPayouts(ctx context.Context) error {
	if err := c.RequireSession(ctx); err != nil {
		return err
	}

	now := c.now()
	c.mu.Lock()
	if raw, ok, err := c.store.Get(storage.KeyLastPayoutAccess); err == nil && ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && now.Sub(time.UnixMilli(ms)) < c.cfg.PayoutThrottle {
			c.mu.Unlock()
			c.Events.Record(ctx, secevent.TypeSuspicious, "payout data requested again within the throttle window")
			return deny(AuthorizationDenied, "payout data was just requested, please wait a moment", ratelimit.ErrLimited)
		}
	}
	if err := c.store.Set(storage.KeyLastPayoutAccess, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		logger.Guard("cerberus").WithError(err).Debug("failed to persist payout access time")
	}
	c.mu.Unlock()

	c.Events.Record(ctx, secevent.TypePayoutAccess, "payout data accessed")
	return nil
}

// AdminAction re-confirms administrator privileges through both backend
// sources before calling the admin endpoint.
func (c *Cerberus) AdminAction(ctx context.Context, req backend.AdminRequest) error {
	if _, err := c.Guard(ctx, "admin_action", ratelimit.AdminAction); err != nil {
		return err
	}
	if err := c.Privilege.RequireAdmin(ctx); err != nil {
		if c.Privilege.State() == privilege.StateDenied && !c.Privilege.Disagreement() {
			c.Events.Record(ctx, secevent.TypeSuspicious, fmt.Sprintf("admin action %q attempted without admin role", req.Action))
		}
		return deny(AuthorizationDenied, reasonNotAdmin, err)
	}

	actx, cancel := context.WithTimeout(ctx, c.cfg.GateTimeout)
	defer cancel()
	if err := c.backend.AdminAction(actx, req); err != nil {
		return backendDenial(err, reasonNotAdmin)
	}
	c.Events.Record(ctx, secevent.TypeAdminAction, fmt.Sprintf("%s on %s", req.Action, req.TargetUserID))
	return nil
}

// ReportIncident records an incident at critical risk, which the backend
// turns into an operator alert.
func (c *Cerberus) ReportIncident(ctx context.Context, details string) secevent.Event {
	return c.Events.RecordRisk(ctx, secevent.TypeIncidentResponse, details, risk.Critical)
}
