package cerberus

import "fmt"

// Kind classifies why a gate refused an action.
type Kind int

const (
	// ValidationFailure covers bad input such as payment rule violations.
	ValidationFailure Kind = iota + 1
	// AuthorizationDenied covers rate limits, failed privilege checks and
	// invalid sessions.
	AuthorizationDenied
	// TransportFailure means a gating call could not reach the backend.
	TransportFailure
	// ConfigurationGap means no anti-forgery token was available.
	ConfigurationGap
)

var kindNames = [...]string{
	ValidationFailure:   "validation_failure",
	AuthorizationDenied: "authorization_denied",
	TransportFailure:    "transport_failure",
	ConfigurationGap:    "configuration_gap",
}

func (k Kind) String() string {
	if k < ValidationFailure || k > ConfigurationGap {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Denial is returned by every gate that refuses an action. Reason is safe to
// show to the user.
type Denial struct {
	Kind   Kind
	Reason string
	Err    error
}

func (d *Denial) Error() string { return d.Reason }

func (d *Denial) Unwrap() error { return d.Err }

func deny(kind Kind, reason string, err error) *Denial {
	return &Denial{Kind: kind, Reason: reason, Err: err}
}
