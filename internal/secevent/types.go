package secevent

import (
	"strconv"
	"time"

	"github.com/Wikid82/gearshare/backend/internal/risk"
)

// Type identifies a kind of security event.
type Type string

const (
	TypeLogin            Type = "login"
	TypeLogout           Type = "logout"
	TypeSignup           Type = "signup"
	TypeSuspicious       Type = "suspicious_activity"
	TypeSessionTimeout   Type = "session_timeout"
	TypeSessionWarning   Type = "session_warning"
	TypeMultipleSessions Type = "multiple_sessions"
	TypeIncidentResponse Type = "incident_response"
	TypeAdminVerified    Type = "admin_verified"
	TypeAdminAction      Type = "admin_action"
	TypePayoutAccess     Type = "payout_access"
	TypePaymentInitiated Type = "payment_initiated"
	TypePaymentSession   Type = "payment_session_created"
	TypePaymentFailed    Type = "payment_failed"
)

// defaultRisk is the risk attached to each event type when the caller does
// not override it. Every declared Type has an entry.
var defaultRisk = map[Type]risk.Level{
	TypeLogin:            risk.Low,
	TypeLogout:           risk.Low,
	TypeSignup:           risk.Low,
	TypeSuspicious:       risk.Medium,
	TypeSessionTimeout:   risk.Low,
	TypeSessionWarning:   risk.Low,
	TypeMultipleSessions: risk.Low,
	TypeIncidentResponse: risk.Low,
	TypeAdminVerified:    risk.Low,
	TypeAdminAction:      risk.Low,
	TypePayoutAccess:     risk.Low,
	TypePaymentInitiated: risk.Low,
	TypePaymentSession:   risk.Low,
	TypePaymentFailed:    risk.Low,
}

// DefaultRisk returns the risk level derived from an event type.
func DefaultRisk(t Type) risk.Level {
	return defaultRisk[t]
}

// Known reports whether t is a declared event type.
func Known(t Type) bool {
	_, ok := defaultRisk[t]
	return ok
}

// Event is one entry of the local trail. Events are never edited after they
// are recorded.
type Event struct {
	ID                string     `json:"id"`
	Type              Type       `json:"type"`
	Timestamp         time.Time  `json:"timestamp"`
	Details           string     `json:"details"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	Risk              risk.Level `json:"risk_level"`
	PrevDigest        string     `json:"prev_hash"`
	Digest            string     `json:"hash"`
}

func (e Event) ChainFields() []string {
	return []string{
		e.ID,
		string(e.Type),
		e.Details,
		e.DeviceFingerprint,
		e.Risk.String(),
		strconv.FormatInt(e.Timestamp.UnixNano(), 10),
	}
}

func (e Event) PrevHash() string { return e.PrevDigest }
func (e Event) Hash() string     { return e.Digest }

// PaymentAction mirrors one step of a checkout attempt to the backend.
type PaymentAction struct {
	BookingID       string                 `json:"booking_id,omitempty"`
	Action          string                 `json:"action"`
	Amount          int64                  `json:"amount"`
	PaymentMethod   string                 `json:"payment_method"`
	Metadata        map[string]interface{} `json:"metadata"`
	StripeSessionID string                 `json:"stripe_session_id,omitempty"`
}
