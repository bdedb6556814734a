// Package secevent keeps the trail of security-relevant events: a small
// in-memory ring for display, mirrored best-effort to the backend audit sink.
// Recording never blocks or fails the action it accompanies.
package secevent

import (
	"context"
	"encoding/base64"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Wikid82/gearshare/backend/internal/chain"
	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/metrics"
	"github.com/Wikid82/gearshare/backend/internal/risk"
	"github.com/Wikid82/gearshare/backend/internal/storage"
	"github.com/Wikid82/gearshare/backend/internal/util"
)

const (
	DefaultCapacity      = 10
	DefaultMirrorTimeout = 8 * time.Second
)

// Sink is the backend audit endpoint.
type Sink interface {
	LogSecurityEvent(ctx context.Context, userID string, eventType string, details string, level risk.Level) error
	LogPaymentAction(ctx context.Context, userID string, action PaymentAction) error
}

// Log is the security event trail of one session.
type Log struct {
	mu          sync.Mutex
	capacity    int
	ring        []Event // newest first
	lastDigest  string
	userID      string
	fingerprint string

	sink    Sink
	now     func() time.Time
	timeout time.Duration

	pending        sync.WaitGroup
	mirrorFailures atomic.Int64
}

// Option configures a Log.
type Option func(*Log)

func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

func WithClock(now func() time.Time) Option { return func(l *Log) { l.now = now } }

func WithFingerprint(fp string) Option { return func(l *Log) { l.fingerprint = fp } }

func WithMirrorTimeout(d time.Duration) Option { return func(l *Log) { l.timeout = d } }

// New returns a Log mirroring into sink. A nil sink keeps events local only.
func New(sink Sink, opts ...Option) *Log {
	l := &Log{
		capacity: DefaultCapacity,
		sink:     sink,
		now:      time.Now,
		timeout:  DefaultMirrorTimeout,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Fingerprint returns the device fingerprint stored in st, creating it from
// the user agent and the current time when absent. It identifies a device on
// a best-effort basis only.
func Fingerprint(st storage.Store, userAgent string, now time.Time) string {
	if fp, ok, err := st.Get(storage.KeyDeviceFingerprint); err == nil && ok && fp != "" {
		return fp
	}
	fp := base64.StdEncoding.EncodeToString([]byte(userAgent + strconv.FormatInt(now.UnixMilli(), 10)))
	if err := st.Set(storage.KeyDeviceFingerprint, fp); err != nil {
		logger.Guard("secevent").WithError(err).Debug("failed to persist device fingerprint")
	}
	return fp
}

// SetUser sets the user the backend mirror is keyed by. An empty id keeps
// subsequent events local.
func (l *Log) SetUser(userID string) {
	l.mu.Lock()
	l.userID = userID
	l.mu.Unlock()
}

// User returns the current user id.
func (l *Log) User() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.userID
}

// Record appends an event with the risk derived from its type.
func (l *Log) Record(ctx context.Context, t Type, details string) Event {
	return l.RecordRisk(ctx, t, details, DefaultRisk(t))
}

// RecordRisk appends an event with an explicit risk level and starts the
// backend mirror without waiting for it.
func (l *Log) RecordRisk(ctx context.Context, t Type, details string, level risk.Level) Event {
	ev, userID := l.append(t, details, level)
	if l.sink != nil && userID != "" {
		l.mirror(ctx, func(mctx context.Context) error {
			return l.sink.LogSecurityEvent(mctx, userID, string(ev.Type), ev.Details, ev.Risk)
		})
	}
	return ev
}

// RecordPayment appends a payment event and mirrors the action to the
// payment audit endpoint.
func (l *Log) RecordPayment(ctx context.Context, t Type, action PaymentAction, level risk.Level) Event {
	if action.Metadata == nil {
		action.Metadata = map[string]interface{}{}
	}
	action.Metadata["risk_level"] = level.String()
	ev, userID := l.append(t, action.Action, level)
	if l.sink != nil && userID != "" {
		l.mirror(ctx, func(mctx context.Context) error {
			return l.sink.LogPaymentAction(mctx, userID, action)
		})
	}
	return ev
}

func (l *Log) append(t Type, details string, level risk.Level) (Event, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev := Event{
		ID:                uuid.NewString(),
		Type:              t,
		Timestamp:         l.now(),
		Details:           details,
		DeviceFingerprint: l.fingerprint,
		Risk:              level,
		PrevDigest:        l.lastDigest,
	}
	ev.Digest = chain.Hash(ev.PrevDigest, ev.ChainFields()...)
	l.lastDigest = ev.Digest

	l.ring = append([]Event{ev}, l.ring...)
	if len(l.ring) > l.capacity {
		l.ring = l.ring[:l.capacity]
	}

	metrics.IncSecurityEvent(string(t))
	logger.Guard("secevent").WithFields(map[string]interface{}{
		"event_type": string(t),
		"risk_level": level.String(),
		"details":    util.SanitizeForLog(details),
	}).Info("security event recorded")
	return ev, l.userID
}

func (l *Log) mirror(ctx context.Context, send func(context.Context) error) {
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		if err := send(mctx); err != nil {
			l.mirrorFailures.Add(1)
			metrics.IncEventMirrorFailure()
			logger.Guard("secevent").WithError(err).Warn("failed to mirror security event")
		}
	}()
}

// Recent returns the retained events, newest first.
func (l *Log) Recent() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.ring))
	copy(out, l.ring)
	return out
}

// CountSince returns how many retained events of type t happened at or after since.
func (l *Log) CountSince(t Type, since time.Time) int {
	n := 0
	for _, ev := range l.Recent() {
		if ev.Type == t && !ev.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

// Verify checks the hash chain of the retained events.
func (l *Log) Verify() error {
	recent := l.Recent()
	links := make([]chain.Link, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		links = append(links, recent[i])
	}
	return chain.Verify(links)
}

// MirrorFailures returns how many backend mirrors have failed so far.
func (l *Log) MirrorFailures() int64 {
	return l.mirrorFailures.Load()
}

// Flush waits for in-flight mirrors, or until ctx is done.
func (l *Log) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
