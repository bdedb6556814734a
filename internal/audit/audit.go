// Package audit runs the periodic security self-assessment and reduces its
// checks to a 0..100 score.
package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Wikid82/gearshare/backend/internal/logger"
	"github.com/Wikid82/gearshare/backend/internal/metrics"
	"github.com/Wikid82/gearshare/backend/internal/risk"
)

const DefaultCheckTimeout = 8 * time.Second

// Status is the outcome of a single check.
type Status int

const (
	StatusPass Status = iota
	StatusFail
	StatusWarning
	StatusChecking
)

var statusNames = [...]string{
	StatusPass:     "pass",
	StatusFail:     "fail",
	StatusWarning:  "warning",
	StatusChecking: "checking",
}

func (s Status) String() string {
	if s < StatusPass || s > StatusChecking {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown check status %q", string(b))
}

// Check is one finding of an audit run.
type Check struct {
	Name     string     `json:"name" yaml:"name"`
	Status   Status     `json:"status" yaml:"status"`
	Message  string     `json:"message" yaml:"message"`
	Severity risk.Level `json:"severity" yaml:"severity"`
}

// Metrics is the reduction of a check list.
type Metrics struct {
	OverallScore   int `json:"overall_score" yaml:"overall_score"`
	CriticalIssues int `json:"critical_issues" yaml:"critical_issues"`
	HighIssues     int `json:"high_issues" yaml:"high_issues"`
	MediumIssues   int `json:"medium_issues" yaml:"medium_issues"`
	LowIssues      int `json:"low_issues" yaml:"low_issues"`
	TotalChecks    int `json:"total_checks" yaml:"total_checks"`
	Passed         int `json:"passed" yaml:"passed"`
}

// failPenalty is deducted per failing check of each severity.
var failPenalty = [...]int{
	risk.Low:      5,
	risk.Medium:   10,
	risk.High:     15,
	risk.Critical: 25,
}

const warningPenalty = 2

// Score reduces checks to Metrics. Checks still in progress count towards
// the total but neither penalize nor count as issues.
func Score(checks []Check) Metrics {
	m := Metrics{OverallScore: 100, TotalChecks: len(checks)}
	for _, c := range checks {
		switch c.Status {
		case StatusPass:
			m.Passed++
			continue
		case StatusFail:
			if c.Severity.Valid() {
				m.OverallScore -= failPenalty[c.Severity]
			}
		case StatusWarning:
			m.OverallScore -= warningPenalty
		default:
			continue
		}
		switch c.Severity {
		case risk.Critical:
			m.CriticalIssues++
		case risk.High:
			m.HighIssues++
		case risk.Medium:
			m.MediumIssues++
		default:
			m.LowIssues++
		}
	}
	if m.OverallScore < 0 {
		m.OverallScore = 0
	}
	if m.OverallScore > 100 {
		m.OverallScore = 100
	}
	return m
}

// Summarize turns metrics into the single line shown to the user.
func Summarize(m Metrics) string {
	switch {
	case m.CriticalIssues > 0:
		return fmt.Sprintf("%d critical issues found", m.CriticalIssues)
	case m.HighIssues > 0:
		return fmt.Sprintf("%d high priority issues found", m.HighIssues)
	default:
		return fmt.Sprintf("security score %d/100", m.OverallScore)
	}
}

// Report is the result of one run.
type Report struct {
	Checks  []Check   `json:"checks" yaml:"checks"`
	Metrics Metrics   `json:"metrics" yaml:"metrics"`
	Summary string    `json:"summary" yaml:"summary"`
	RanAt   time.Time `json:"ran_at" yaml:"ran_at"`
}

// Checker produces one check. Implementations must be safe to call
// concurrently with other checkers.
type Checker interface {
	Name() string
	Run(ctx context.Context) Check
}

type checkerFunc struct {
	name string
	fn   func(ctx context.Context) Check
}

func (c checkerFunc) Name() string { return c.name }

func (c checkerFunc) Run(ctx context.Context) Check {
	out := c.fn(ctx)
	out.Name = c.name
	return out
}

// CheckerFunc adapts fn into a Checker. The returned check's name is always
// set to name.
func CheckerFunc(name string, fn func(ctx context.Context) Check) Checker {
	return checkerFunc{name: name, fn: fn}
}

// Engine runs a fixed set of checkers.
type Engine struct {
	checkers []Checker
	now      func() time.Time
	timeout  time.Duration

	mu   sync.Mutex
	last *Report
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithCheckTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewEngine(checkers []Checker, opts ...Option) *Engine {
	e := &Engine{checkers: checkers, now: time.Now, timeout: DefaultCheckTimeout}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes every checker concurrently. A checker that panics becomes a
// failing check and one that outlives the check timeout becomes a warning;
// neither stops the others. Each run builds a new report.
func (e *Engine) Run(ctx context.Context) Report {
	checks := make([]Check, len(e.checkers))
	done := make([]chan Check, len(e.checkers))

	for i, c := range e.checkers {
		checks[i] = Check{Name: c.Name(), Status: StatusChecking}
		done[i] = make(chan Check, 1)
		go func(c Checker, out chan<- Check) {
			cctx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					logger.Guard("audit").WithField("check", c.Name()).Errorf("check panicked: %v", r)
					out <- Check{Name: c.Name(), Status: StatusFail, Message: fmt.Sprintf("check crashed: %v", r), Severity: risk.High}
				}
			}()
			out <- c.Run(cctx)
		}(c, done[i])
	}

	deadline := time.NewTimer(e.timeout)
	defer deadline.Stop()
	expired := false
	for i := range e.checkers {
		if !expired {
			select {
			case checks[i] = <-done[i]:
				continue
			case <-deadline.C:
				expired = true
			}
		}
		select {
		case checks[i] = <-done[i]:
		default:
			checks[i] = Check{Name: checks[i].Name, Status: StatusWarning, Message: "check did not finish in time", Severity: risk.Medium}
		}
	}

	sort.SliceStable(checks, func(a, b int) bool { return checks[a].Name < checks[b].Name })
	m := Score(checks)
	report := Report{Checks: checks, Metrics: m, Summary: Summarize(m), RanAt: e.now()}

	e.mu.Lock()
	e.last = &report
	e.mu.Unlock()

	metrics.SetAuditScore(m.OverallScore)
	logger.Guard("audit").WithFields(map[string]interface{}{
		"score":    m.OverallScore,
		"critical": m.CriticalIssues,
		"high":     m.HighIssues,
		"checks":   m.TotalChecks,
	}).Info("security audit completed")
	return report
}

// Last returns the most recent report.
func (e *Engine) Last() (Report, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Report{}, false
	}
	return *e.last, true
}
