// Package payment validates rental payments before a checkout session is
// created and records every attempt in the security event trail.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/metrics"
	"github.com/Wikid82/gearshare/backend/internal/risk"
	"github.com/Wikid82/gearshare/backend/internal/secevent"
)

// HighValueThreshold is the amount in minor units above which a payment is
// always high risk.
const HighValueThreshold int64 = 100000

const (
	MaxRentalDays     = 365
	OperationCheckout = "create_checkout"
	DefaultTimeout    = 8 * time.Second

	day = 24 * time.Hour
)

var (
	ErrInvalidPayment = errors.New("payment details are invalid")
	ErrNotAuthorized  = errors.New("payment operation not authorized")
)

// Params describes one rental checkout.
type Params struct {
	EquipmentID    string    `json:"equipment_id" yaml:"equipment_id"`
	EquipmentTitle string    `json:"equipment_title" yaml:"equipment_title"`
	TotalPrice     int64     `json:"total_price" yaml:"total_price"`
	StartDate      time.Time `json:"start_date" yaml:"start_date"`
	EndDate        time.Time `json:"end_date" yaml:"end_date"`
	BookingID      string    `json:"booking_id,omitempty" yaml:"booking_id,omitempty"`
	PaymentMethod  string    `json:"payment_method,omitempty" yaml:"payment_method,omitempty"`
}

// Result is the outcome of a validation.
type Result struct {
	Valid  bool       `json:"is_valid" yaml:"is_valid"`
	Errors []string   `json:"errors" yaml:"errors"`
	Risk   risk.Level `json:"risk_level" yaml:"risk_level"`
}

// Days returns the rental length in whole days, rounding partial days up.
func Days(start, end time.Time) int {
	return int(math.Ceil(float64(end.Sub(start)) / float64(day)))
}

// Check applies the local rules. It has no side effects.
func Check(p Params, now time.Time) Result {
	var errs []string
	level := risk.Low

	if strings.TrimSpace(p.EquipmentID) == "" {
		errs = append(errs, "equipment id is required")
	}
	if strings.TrimSpace(p.EquipmentTitle) == "" {
		errs = append(errs, "equipment title is required")
	}
	if p.TotalPrice <= 0 {
		errs = append(errs, "total price must be greater than zero")
	}
	if !p.StartDate.After(now) {
		errs = append(errs, "start date must be in the future")
	}
	if !p.EndDate.After(p.StartDate) {
		errs = append(errs, "end date must be after start date")
	} else if days := Days(p.StartDate, p.EndDate); days > MaxRentalDays {
		errs = append(errs, fmt.Sprintf("rental duration of %d days exceeds the %d day maximum", days, MaxRentalDays))
		level = risk.High
	}
	if p.TotalPrice > HighValueThreshold {
		level = risk.High
	}
	if len(errs) > 0 {
		level = risk.Max(level, risk.Medium)
	}

	return Result{Valid: len(errs) == 0, Errors: errs, Risk: level}
}

// Authorizer is the backend payment authorization RPC.
type Authorizer interface {
	ValidatePaymentOperation(ctx context.Context, userID, operation string, amount int64) (bool, error)
}

// SessionCreator opens a hosted checkout session and returns its id and URL.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, userID string, p Params) (sessionID, url string, err error)
}

// Recorder receives payment events.
type Recorder interface {
	RecordPayment(ctx context.Context, t secevent.Type, action secevent.PaymentAction, level risk.Level) secevent.Event
}

// Session is a created checkout session.
type Session struct {
	ID     string
	URL    string
	Result Result
}

// Validator combines the local rules with backend authorization.
type Validator struct {
	auth    Authorizer
	events  Recorder
	now     func() time.Time
	timeout time.Duration
}

// Option configures a Validator.
type Option func(*Validator)

func WithClock(now func() time.Time) Option { return func(v *Validator) { v.now = now } }

func WithTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

func NewValidator(auth Authorizer, events Recorder, opts ...Option) *Validator {
	v := &Validator{auth: auth, events: events, now: time.Now, timeout: DefaultTimeout}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate runs the local rules and, when they pass, asks the backend to
// authorize the amount. An error or a negative answer yields ErrNotAuthorized
// whatever the local risk level.
func (v *Validator) Validate(ctx context.Context, userID string, p Params) (Result, error) {
	res := Check(p, v.now())
	if !res.Valid {
		metrics.IncPaymentValidation(res.Risk.String(), false)
		return res, ErrInvalidPayment
	}

	actx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	ok, err := v.auth.ValidatePaymentOperation(actx, userID, OperationCheckout, p.TotalPrice)
	if err != nil || !ok {
		if err != nil {
			logger.Guard("payment").WithError(err).Warn("payment authorization failed")
		}
		res.Valid = false
		res.Errors = append(res.Errors, "payment operation was not authorized")
		metrics.IncPaymentValidation(res.Risk.String(), false)
		return res, ErrNotAuthorized
	}

	metrics.IncPaymentValidation(res.Risk.String(), true)
	return res, nil
}

// Checkout validates p and opens a checkout session. Each attempt is logged
// as initiated, then session_created or failed, with the risk level attached.
func (v *Validator) Checkout(ctx context.Context, userID string, p Params, creator SessionCreator) (*Session, error) {
	method := p.PaymentMethod
	if method == "" {
		method = "card"
	}
	base := func(action string) secevent.PaymentAction {
		return secevent.PaymentAction{
			BookingID:     p.BookingID,
			Action:        action,
			Amount:        p.TotalPrice,
			PaymentMethod: method,
			Metadata: map[string]interface{}{
				"equipment_id": p.EquipmentID,
				"rental_days":  Days(p.StartDate, p.EndDate),
			},
		}
	}

	initial := Check(p, v.now())
	v.events.RecordPayment(ctx, secevent.TypePaymentInitiated, base("initiated"), initial.Risk)

	res, err := v.Validate(ctx, userID, p)
	if err != nil {
		failed := base("failed")
		failed.Metadata["errors"] = res.Errors
		v.events.RecordPayment(ctx, secevent.TypePaymentFailed, failed, res.Risk)
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	id, url, err := creator.CreateCheckoutSession(cctx, userID, p)
	if err != nil {
		failed := base("failed")
		failed.Metadata["errors"] = []string{err.Error()}
		v.events.RecordPayment(ctx, secevent.TypePaymentFailed, failed, res.Risk)
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	created := base("session_created")
	created.StripeSessionID = id
	v.events.RecordPayment(ctx, secevent.TypePaymentSession, created, res.Risk)
	return &Session{ID: id, URL: url, Result: res}, nil
}
