// Package monitor runs aggregation cycles over the registered probes.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"controlroom/internal/alerts"
	"controlroom/internal/history"
	"controlroom/internal/models"
	"controlroom/internal/scoring"
)

const defaultInterval = 30 * time.Second

// ErrCycleInFlight is returned when a cycle is requested while another one
// has not finished.
var ErrCycleInFlight = errors.New("aggregation cycle already in flight")

// ProbeSource lists the probes to run. The returned slice must be a copy.
type ProbeSource interface {
	List() []models.Probe
}

// ProbeRunner executes one probe within its own timeout.
type ProbeRunner interface {
	Run(ctx context.Context, p models.Probe) models.ProbeResult
}

// Observer is notified after every completed cycle, in cycle order.
type Observer interface {
	ObserveCycle(snap models.AggregateSnapshot, events []models.AlertEvent)
}

// skipObserver is implemented by observers that count rejected cycles.
type skipObserver interface {
	CycleSkipped()
}

// Options configures an Aggregator.
type Options struct {
	// Interval between scheduled cycles. Zero uses the smallest probe
	// interval at Start.
	Interval time.Duration
	Policy   scoring.Policy
	History  *history.Ring[models.AggregateSnapshot]
	Emitter  *alerts.Emitter
}

// Aggregator fans probes out concurrently, scores the results, diffs them
// for alerts and keeps the history window.
type Aggregator struct {
	registry ProbeSource
	runner   ProbeRunner
	policy   scoring.Policy
	emitter  *alerts.Emitter
	history  *history.Ring[models.AggregateSnapshot]
	interval time.Duration
	log      *log.Logger
	now      func() time.Time

	cycleMu sync.Mutex

	obsMu     sync.RWMutex
	observers []Observer

	cron *cron.Cron
	wg     sync.WaitGroup
}

// New creates an aggregator over registry.
func New(registry ProbeSource, runner ProbeRunner, opts Options, logger *log.Logger) *Aggregator {
	if opts.History == nil {
		opts.History = history.NewRing[models.AggregateSnapshot](120)
	}
	if opts.Emitter == nil {
		opts.Emitter = alerts.NewEmitter(logger)
	}
	if opts.Policy == (scoring.Policy{}) {
		opts.Policy = scoring.DefaultPolicy()
	}
	return &Aggregator{
		registry: registry,
		runner:   runner,
		policy:   opts.Policy,
		emitter:  opts.Emitter,
		history:  opts.History,
		interval: opts.Interval,
		log:      logger.With("module", "aggregator"),
		now:      time.Now,
	}
}

// AddObserver registers an observer for completed cycles.
func (a *Aggregator) AddObserver(o Observer) {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	a.observers = append(a.observers, o)
}

// History exposes the snapshot window.
func (a *Aggregator) History() *history.Ring[models.AggregateSnapshot] {
	return a.history
}

// Latest returns the most recent snapshot.
func (a *Aggregator) Latest() (models.AggregateSnapshot, bool) {
	return a.history.Latest()
}

// RunOnce executes one aggregation cycle. It never fails because of a probe;
// the only error is ErrCycleInFlight.
func (a *Aggregator) RunOnce(ctx context.Context) (models.AggregateSnapshot, error) {
	if !a.cycleMu.TryLock() {
		a.notifySkipped()
		return models.AggregateSnapshot{}, ErrCycleInFlight
	}
	defer a.cycleMu.Unlock()

	probes := a.registry.List()
	started := a.now()

	// Probes are bounded by their own timeouts only.
	probeCtx := context.WithoutCancel(ctx)
	results := make([]models.ProbeResult, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, p models.Probe) {
			defer wg.Done()
			results[i] = a.runner.Run(probeCtx, p)
		}(i, p)
	}
	wg.Wait()

	perProbe := make(map[string]models.ProbeResult, len(probes))
	defs := make(map[string]models.Probe, len(probes))
	healthy := 0
	for i, p := range probes {
		res := results[i]
		res.ProbeID = p.ID
		perProbe[p.ID] = res
		defs[p.ID] = p
		if res.OK() {
			healthy++
		}
	}

	// An empty registry scores 100 and reports healthy.
	verdict := a.policy.Score(perProbe, defs)
	snap := models.AggregateSnapshot{
		Timestamp:     started.UTC(),
		PerProbe:      perProbe,
		OverallScore:  verdict.Score,
		OverallStatus: verdict.Status,
		HealthyCount:  healthy,
		TotalCount:    len(probes),
		DurationMs:    a.now().Sub(started).Milliseconds(),
	}

	events := a.emitter.Observe(probeCtx, snap, a.policy.ProbeStatuses(perProbe, defs))
	a.history.Append(snap)
	a.notify(snap, events)

	a.log.Info("cycle complete",
		"score", snap.OverallScore,
		"status", snap.OverallStatus,
		"healthy", snap.HealthyCount,
		"total", snap.TotalCount,
		"alerts", len(events),
		"duration_ms", snap.DurationMs,
	)
	return snap, nil
}

// Trigger runs an on-demand cycle outside the schedule.
func (a *Aggregator) Trigger(ctx context.Context) (models.AggregateSnapshot, error) {
	a.log.Debug("cycle triggered")
	return a.RunOnce(ctx)
}

func (a *Aggregator) notify(snap models.AggregateSnapshot, events []models.AlertEvent) {
	a.obsMu.RLock()
	defer a.obsMu.RUnlock()
	for _, o := range a.observers {
		o.ObserveCycle(snap, events)
	}
}

func (a *Aggregator) notifySkipped() {
	a.obsMu.RLock()
	defer a.obsMu.RUnlock()
	for _, o := range a.observers {
		if s, ok := o.(skipObserver); ok {
			s.CycleSkipped()
		}
	}
}

// Interval returns the scheduling interval Start uses.
func (a *Aggregator) Interval() time.Duration {
	if a.interval > 0 {
		return a.interval
	}
	smallest := time.Duration(0)
	for _, p := range a.registry.List() {
		d := time.Duration(p.IntervalMs) * time.Millisecond
		if d > 0 && (smallest == 0 || d < smallest) {
			smallest = d
		}
	}
	if smallest == 0 {
		return defaultInterval
	}
	return smallest
}

// Start runs a cycle immediately and then on every interval. A tick that
// fires while a cycle is still running is skipped.
func (a *Aggregator) Start() error {
	interval := a.Interval()
	a.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{a.log})))
	if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", interval), a.tick); err != nil {
		return fmt.Errorf("schedule cycles: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.tick()
	}()
	a.cron.Start()
	a.log.Info("aggregator started", "interval", interval)
	return nil
}

// Stop halts scheduling and waits for the current cycle to finish or ctx to
// expire. Running probes are not cancelled.
func (a *Aggregator) Stop(ctx context.Context) {
	var stopped context.Context
	if a.cron != nil {
		stopped = a.cron.Stop()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if stopped != nil {
			<-stopped.Done()
		}
		a.wg.Wait()
		// Wait out an on-demand cycle as well.
		a.cycleMu.Lock()
		a.cycleMu.Unlock()
	}()
	select {
	case <-done:
		a.log.Info("aggregator stopped")
	case <-ctx.Done():
		a.log.Warn("aggregator stop timed out")
	}
}

func (a *Aggregator) tick() {
	if _, err := a.RunOnce(context.Background()); err != nil {
		a.log.Debug("cycle skipped", "err", err)
	}
}

// cronLogger routes cron's messages to the aggregator logger.
type cronLogger struct {
	log *log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}
