package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	guardDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gearshare_guard_decisions_total",
		Help: "Total number of guard decisions by guard and outcome",
	}, []string{"guard", "outcome"})
	securityEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gearshare_security_events_total",
		Help: "Total number of security events recorded by type",
	}, []string{"type"})
	eventMirrorFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gearshare_event_mirror_failures_total",
		Help: "Total number of security events that could not be mirrored to the backend",
	})
	paymentValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gearshare_payment_validations_total",
		Help: "Total number of payment validations by risk level and validity",
	}, []string{"risk", "valid"})
	auditScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gearshare_audit_score",
		Help: "Overall score of the most recent security audit run",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(guardDecisionsTotal, securityEventsTotal, eventMirrorFailuresTotal, paymentValidationsTotal, auditScore)
}

// IncGuardDecision counts an allow/deny decision taken by a guard.
func IncGuardDecision(guard string, allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	guardDecisionsTotal.WithLabelValues(guard, outcome).Inc()
}

// IncSecurityEvent increments the recorded events counter.
func IncSecurityEvent(eventType string) { securityEventsTotal.WithLabelValues(eventType).Inc() }

// IncEventMirrorFailure increments the failed backend mirror counter.
func IncEventMirrorFailure() { eventMirrorFailuresTotal.Inc() }

// IncPaymentValidation counts a payment validation result.
func IncPaymentValidation(risk string, valid bool) {
	v := "false"
	if valid {
		v = "true"
	}
	paymentValidationsTotal.WithLabelValues(risk, v).Inc()
}

// SetAuditScore records the latest audit score.
func SetAuditScore(score int) { auditScore.Set(float64(score)) }
