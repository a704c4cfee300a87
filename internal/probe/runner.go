// Package probe executes single health checks and normalizes their results.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"controlroom/internal/models"
)

// Observation is the raw outcome a checker reports before the runner stamps
// timing information on it.
type Observation struct {
	Outcome models.Outcome
	Value   any
	Err     error
}

// Checker performs the kind-specific part of a probe.
type Checker interface {
	Check(ctx context.Context, p models.Probe) Observation
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, p models.Probe) Observation

// Check implements Checker.
func (f CheckerFunc) Check(ctx context.Context, p models.Probe) Observation {
	return f(ctx, p)
}

// ok builds a successful observation.
func ok(v any) Observation {
	return Observation{Outcome: models.OutcomeOK, Value: v}
}

// failed builds an error observation.
func failed(err error) Observation {
	return Observation{Outcome: models.OutcomeError, Err: err}
}

// parseFailed builds an error observation for unparsable responses.
func parseFailed(err error) Observation {
	return Observation{Outcome: models.OutcomeError, Err: fmt.Errorf("parse: %w", err)}
}

// Runner dispatches probes to checkers and enforces their timeouts.
type Runner struct {
	checkers map[models.ProbeKind]Checker
	log      *log.Logger
	now      func() time.Time
}

// NewRunner creates a runner with the default checker for every kind.
func NewRunner(logger *log.Logger) *Runner {
	cmd := ShellRunner{}
	return &Runner{
		checkers: map[models.ProbeKind]Checker{
			models.KindHTTP:        NewHTTPChecker(nil),
			models.KindProcessList: NewProcessChecker(nil, cmd),
			models.KindShellMetric: NewShellChecker(cmd),
			models.KindTCP:         NewTCPChecker(),
			models.KindSystem:      NewSystemChecker(),
			models.KindPrometheus:  NewPrometheusChecker(nil),
		},
		log: logger.With("module", "probe"),
		now: time.Now,
	}
}

// SetChecker replaces the checker used for a kind.
func (r *Runner) SetChecker(kind models.ProbeKind, c Checker) {
	r.checkers[kind] = c
}

// Run executes one probe and always returns a result within the probe's
// timeout. Failures, panics and timeouts are reported in the result.
func (r *Runner) Run(ctx context.Context, p models.Probe) models.ProbeResult {
	started := r.now()
	res := models.ProbeResult{
		ProbeID:   p.ID,
		Kind:      p.Kind,
		Timestamp: started.UTC(),
	}

	checker, found := r.checkers[p.Kind]
	if !found {
		return withError(res, models.OutcomeError, fmt.Errorf("no checker for kind %q", p.Kind))
	}

	timeout := time.Duration(p.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		return withError(res, models.OutcomeError, errors.New("timeout must be positive"))
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so a late checker never blocks after the runner moved on.
	done := make(chan Observation, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- Observation{Outcome: models.OutcomeError, Err: fmt.Errorf("probe panicked: %v", rec)}
			}
		}()
		done <- checker.Check(checkCtx, p)
	}()

	select {
	case obs := <-done:
		if obs.Err != nil && errors.Is(checkCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			res = timedOut(res, timeout)
			break
		}
		latency := r.now().Sub(started).Milliseconds()
		res.LatencyMs = &latency
		res.RawValue = obs.Value
		res.Outcome = obs.Outcome
		if res.Outcome == "" {
			res.Outcome = models.OutcomeOK
		}
		if obs.Err != nil {
			if res.Outcome == models.OutcomeOK {
				res.Outcome = models.OutcomeError
			}
			msg := obs.Err.Error()
			res.ErrorMessage = &msg
		}
	case <-checkCtx.Done():
		if ctx.Err() != nil {
			res = withError(res, models.OutcomeError, fmt.Errorf("probe cancelled: %w", ctx.Err()))
			break
		}
		res = timedOut(res, timeout)
	}

	r.log.Debug("probe finished",
		"probe", p.ID,
		"kind", p.Kind,
		"outcome", res.Outcome,
		"latency_ms", latencyField(res.LatencyMs),
	)
	return res
}

func latencyField(ms *int64) any {
	if ms == nil {
		return nil
	}
	return *ms
}

func timedOut(res models.ProbeResult, timeout time.Duration) models.ProbeResult {
	msg := fmt.Sprintf("probe timed out after %dms", timeout.Milliseconds())
	res.Outcome = models.OutcomeTimeout
	res.LatencyMs = nil
	res.RawValue = nil
	res.ErrorMessage = &msg
	return res
}

func withError(res models.ProbeResult, outcome models.Outcome, err error) models.ProbeResult {
	msg := err.Error()
	res.Outcome = outcome
	res.ErrorMessage = &msg
	return res
}
