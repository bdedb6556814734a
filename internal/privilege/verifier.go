// Package privilege decides whether the signed-in user may use admin
// features. A single role lookup is never enough: an admin role must be
// confirmed by a second, independent backend check.
package privilege

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/metrics"
	"github.com/Wikid82/gearshare/backend/internal/risk"
	"github.com/Wikid82/gearshare/backend/internal/secevent"
)

const (
	RoleAdmin      = "admin"
	DefaultTimeout = 8 * time.Second
)

// ErrNotAdmin is returned when admin privilege could not be confirmed.
var ErrNotAdmin = errors.New("administrator privileges could not be verified")

// State is the position of a user in the verification state machine.
type State int

const (
	StateUnknown State = iota
	StateLocalCandidate
	StateConfirmed
	StateDenied
)

var stateNames = [...]string{
	StateUnknown:        "unknown",
	StateLocalCandidate: "local_candidate",
	StateConfirmed:      "confirmed",
	StateDenied:         "denied",
}

func (s State) String() string { return stateNames[s] }

// RoleSource returns the roles assigned to a user.
type RoleSource interface {
	UserRoles(ctx context.Context, userID string) ([]string, error)
}

// AdminConfirmer is the independent admin verification endpoint.
type AdminConfirmer interface {
	VerifyAdmin(ctx context.Context) (bool, error)
}

// Recorder receives privilege events.
type Recorder interface {
	RecordRisk(ctx context.Context, t secevent.Type, details string, level risk.Level) secevent.Event
}

// Verifier runs the two-source admin check for one session.
type Verifier struct {
	roles   RoleSource
	confirm AdminConfirmer
	events  Recorder
	timeout time.Duration

	mu      sync.Mutex
	userID  string
	state   State
	roleSet []string
	// candidateDisagreed is set when roles said admin and confirmation did not.
	candidateDisagreed bool
}

// NewVerifier returns a Verifier in StateUnknown.
func NewVerifier(roles RoleSource, confirm AdminConfirmer, events Recorder, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Verifier{roles: roles, confirm: confirm, events: events, timeout: timeout}
}

// Evaluate runs the state machine for userID and returns the final state.
func (v *Verifier) Evaluate(ctx context.Context, userID string) State {
	v.mu.Lock()
	v.userID = userID
	v.state = StateUnknown
	v.candidateDisagreed = false
	v.mu.Unlock()

	if userID == "" {
		return v.settle(StateDenied, nil, false)
	}

	rctx, cancel := context.WithTimeout(ctx, v.timeout)
	roles, err := v.roles.UserRoles(rctx, userID)
	cancel()
	if err != nil {
		logger.Guard("privilege").WithError(err).Warn("role lookup failed")
		return v.settle(StateDenied, nil, false)
	}
	if !contains(roles, RoleAdmin) {
		return v.settle(StateDenied, roles, false)
	}

	v.mu.Lock()
	v.state = StateLocalCandidate
	v.roleSet = roles
	v.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, v.timeout)
	confirmed, err := v.confirm.VerifyAdmin(cctx)
	cancel()
	if err != nil || !confirmed {
		reason := "verification endpoint denied admin"
		if err != nil {
			reason = fmt.Sprintf("verification failed: %v", err)
		}
		v.events.RecordRisk(ctx, secevent.TypeSuspicious, "admin role not confirmed: "+reason, risk.High)
		return v.settle(StateDenied, roles, true)
	}

	v.events.RecordRisk(ctx, secevent.TypeAdminVerified, "admin role confirmed by independent check", risk.Low)
	return v.settle(StateConfirmed, roles, false)
}

func (v *Verifier) settle(s State, roles []string, disagreed bool) State {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = s
	v.roleSet = roles
	v.candidateDisagreed = disagreed
	metrics.IncGuardDecision("privilege", s == StateConfirmed)
	return s
}

// IsAdmin re-evaluates the current user.
func (v *Verifier) IsAdmin(ctx context.Context) bool {
	return v.Evaluate(ctx, v.User()) == StateConfirmed
}

// RequireAdmin returns ErrNotAdmin unless IsAdmin holds.
func (v *Verifier) RequireAdmin(ctx context.Context) error {
	if !v.IsAdmin(ctx) {
		return ErrNotAdmin
	}
	return nil
}

// State returns the state of the last evaluation.
func (v *Verifier) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Roles returns the roles seen by the last evaluation.
func (v *Verifier) Roles() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.roleSet...)
}

// Disagreement reports whether the last evaluation saw an admin role that the
// independent check refused.
func (v *Verifier) Disagreement() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.candidateDisagreed
}

// User returns the user of the last evaluation.
func (v *Verifier) User() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.userID
}

// Reset forgets the user (sign-out).
func (v *Verifier) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.userID = ""
	v.state = StateUnknown
	v.roleSet = nil
	v.candidateDisagreed = false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
