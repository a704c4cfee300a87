package monitor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlroom/internal/alerts"
	"controlroom/internal/history"
	"controlroom/internal/models"
	"controlroom/internal/probe"
	"controlroom/internal/registry"
)

type staticCommand struct {
	out string
}

func (s staticCommand) Run(context.Context, string) ([]byte, error) {
	return []byte(s.out), nil
}

type fakeRunner struct {
	run func(ctx context.Context, p models.Probe) models.ProbeResult
}

func (f fakeRunner) Run(ctx context.Context, p models.Probe) models.ProbeResult {
	return f.run(ctx, p)
}

type recordingObserver struct {
	mu      sync.Mutex
	snaps   []models.AggregateSnapshot
	events  []models.AlertEvent
	skipped int
}

func (o *recordingObserver) ObserveCycle(snap models.AggregateSnapshot, events []models.AlertEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snaps = append(o.snaps, snap)
	o.events = append(o.events, events...)
}

func (o *recordingObserver) CycleSkipped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped++
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func mustRegister(t *testing.T, reg *registry.Registry, probes ...models.Probe) {
	t.Helper()
	for _, p := range probes {
		require.NoError(t, reg.Register(p))
	}
}

func okRunner() fakeRunner {
	return fakeRunner{run: func(_ context.Context, p models.Probe) models.ProbeResult {
		latency := int64(1)
		return models.ProbeResult{ProbeID: p.ID, Kind: p.Kind, Timestamp: time.Now(), Outcome: models.OutcomeOK, LatencyMs: &latency}
	}}
}

func TestRunOnceEmptyRegistry(t *testing.T) {
	agg := New(registry.New(), okRunner(), Options{}, quietLogger())

	snap, err := agg.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, snap.OverallScore)
	assert.Equal(t, models.StatusHealthy, snap.OverallStatus)
	assert.Equal(t, 0, snap.TotalCount)
	assert.Empty(t, snap.PerProbe)
}

func TestRunOnceCoversEveryProbe(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg,
		models.Probe{ID: "a", Kind: models.KindHTTP, Target: "http://a", TimeoutMs: 100},
		models.Probe{ID: "b", Kind: models.KindTCP, Target: "b:80", TimeoutMs: 100},
		models.Probe{ID: "c", Kind: models.KindShellMetric, Target: "echo 1", TimeoutMs: 100},
	)
	runner := fakeRunner{run: func(_ context.Context, p models.Probe) models.ProbeResult {
		res := models.ProbeResult{ProbeID: p.ID, Kind: p.Kind, Outcome: models.OutcomeOK, RawValue: 12.5}
		if p.ID == "b" {
			msg := "connection refused"
			res.Outcome = models.OutcomeError
			res.ErrorMessage = &msg
		}
		return res
	}}
	agg := New(reg, runner, Options{}, quietLogger())

	snap, err := agg.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TotalCount)
	assert.Equal(t, 2, snap.HealthyCount)
	assert.Len(t, snap.PerProbe, 3)
	assert.Equal(t, models.OutcomeError, snap.PerProbe["b"].Outcome)
	assert.Equal(t, 70, snap.OverallScore)
	assert.Equal(t, models.StatusWarning, snap.OverallStatus)
}

func TestRunOnceLatencyBoundedBySlowestProbe(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg,
		models.Probe{ID: "a", Kind: models.KindHTTP, Target: "http://a", TimeoutMs: 100},
		models.Probe{ID: "b", Kind: models.KindHTTP, Target: "http://b", TimeoutMs: 200},
		models.Probe{ID: "c", Kind: models.KindHTTP, Target: "http://c", TimeoutMs: 300},
	)
	runner := probe.NewRunner(quietLogger())
	runner.SetChecker(models.KindHTTP, probe.CheckerFunc(func(ctx context.Context, _ models.Probe) probe.Observation {
		<-ctx.Done()
		return probe.Observation{Err: ctx.Err()}
	}))
	agg := New(reg, runner, Options{}, quietLogger())

	started := time.Now()
	snap, err := agg.RunOnce(context.Background())
	elapsed := time.Since(started)

	require.NoError(t, err)
	assert.Less(t, elapsed, 550*time.Millisecond)
	for id, res := range snap.PerProbe {
		assert.Equal(t, models.OutcomeTimeout, res.Outcome, id)
		assert.Nil(t, res.LatencyMs, id)
	}
	assert.Equal(t, 10, snap.OverallScore)
	assert.Equal(t, models.StatusCritical, snap.OverallStatus)
}

func TestRunOnceMixedFleet(t *testing.T) {
	web := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer web.Close()

	reg := registry.New()
	mustRegister(t, reg,
		models.Probe{ID: "web", Kind: models.KindHTTP, Target: web.URL, TimeoutMs: 2000},
		models.Probe{ID: "pm2", Kind: models.KindProcessList, Target: "pm2 jlist", TimeoutMs: 2000, Penalty: 25},
		models.Probe{ID: "disk", Kind: models.KindShellMetric, Target: "df", TimeoutMs: 2000},
	)
	runner := probe.NewRunner(quietLogger())
	runner.SetChecker(models.KindProcessList, probe.NewProcessChecker(nil, staticCommand{
		out: `[{"name":"api","pm2_env":{"status":"online"}},{"name":"worker","pm2_env":{"status":"stopped"}}]`,
	}))
	runner.SetChecker(models.KindShellMetric, probe.NewShellChecker(staticCommand{out: "92%\n"}))

	obs := &recordingObserver{}
	agg := New(reg, runner, Options{}, quietLogger())
	agg.AddObserver(obs)

	snap, err := agg.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeOK, snap.PerProbe["web"].Outcome)
	require.NotNil(t, snap.PerProbe["web"].LatencyMs)
	assert.GreaterOrEqual(t, *snap.PerProbe["web"].LatencyMs, int64(50))
	assert.Equal(t, models.OutcomeDegraded, snap.PerProbe["pm2"].Outcome)
	assert.Equal(t, models.OutcomeOK, snap.PerProbe["disk"].Outcome)
	assert.Equal(t, 45, snap.OverallScore)
	assert.Equal(t, models.StatusCritical, snap.OverallStatus)
	assert.Equal(t, 2, snap.HealthyCount)

	latest, ok := agg.Latest()
	require.True(t, ok)
	assert.Equal(t, snap.Timestamp, latest.Timestamp)

	require.Len(t, obs.snaps, 1)
	require.NotEmpty(t, obs.events)
	assert.Equal(t, alerts.OverallEntity, obs.events[0].Entity())
	assert.Equal(t, models.StatusUnknown, obs.events[0].PreviousStatus)
	assert.Equal(t, models.StatusCritical, obs.events[0].NewStatus)
}

func TestTimeoutFlipEmitsSingleOverallTransition(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, models.Probe{ID: "api", Kind: models.KindHTTP, Target: "http://api", TimeoutMs: 100})

	var hang atomic.Bool
	runner := probe.NewRunner(quietLogger())
	runner.SetChecker(models.KindHTTP, probe.CheckerFunc(func(ctx context.Context, _ models.Probe) probe.Observation {
		if hang.Load() {
			<-ctx.Done()
			return probe.Observation{Err: ctx.Err()}
		}
		return probe.Observation{Outcome: models.OutcomeOK, Value: 200}
	}))

	emitter := alerts.NewEmitter(quietLogger())
	agg := New(reg, runner, Options{Emitter: emitter}, quietLogger())

	first, err := agg.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusHealthy, first.OverallStatus)
	assert.Equal(t, models.StatusHealthy, emitter.State(alerts.OverallEntity))

	var overall []models.AlertEvent
	emitter.Subscribe(alerts.ListenerFunc(func(_ context.Context, ev models.AlertEvent) error {
		if ev.ProbeID == nil {
			overall = append(overall, ev)
		}
		return nil
	}))

	hang.Store(true)
	second, err := agg.RunOnce(context.Background())
	require.NoError(t, err)

	res := second.PerProbe["api"]
	assert.Equal(t, models.OutcomeTimeout, res.Outcome)
	assert.Nil(t, res.LatencyMs)
	assert.Equal(t, 70, second.OverallScore)
	assert.Equal(t, models.StatusWarning, second.OverallStatus)

	require.Len(t, overall, 1)
	assert.Equal(t, models.StatusHealthy, overall[0].PreviousStatus)
	assert.Equal(t, models.StatusWarning, overall[0].NewStatus)
	assert.Equal(t, models.SeverityWarning, overall[0].Severity)
}

func TestRunOnceRejectsConcurrentCycle(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, models.Probe{ID: "slow", Kind: models.KindHTTP, Target: "http://slow", TimeoutMs: 5000})

	entered := make(chan struct{})
	release := make(chan struct{})
	runner := fakeRunner{run: func(_ context.Context, p models.Probe) models.ProbeResult {
		close(entered)
		<-release
		return models.ProbeResult{ProbeID: p.ID, Kind: p.Kind, Outcome: models.OutcomeOK}
	}}
	obs := &recordingObserver{}
	agg := New(reg, runner, Options{}, quietLogger())
	agg.AddObserver(obs)

	done := make(chan models.AggregateSnapshot)
	go func() {
		snap, _ := agg.RunOnce(context.Background())
		done <- snap
	}()
	<-entered

	_, err := agg.RunOnce(context.Background())
	assert.True(t, errors.Is(err, ErrCycleInFlight))

	// Registered mid-cycle, so not part of the running cycle.
	mustRegister(t, reg, models.Probe{ID: "late", Kind: models.KindHTTP, Target: "http://late", TimeoutMs: 100})

	close(release)
	snap := <-done
	assert.Equal(t, 1, snap.TotalCount)
	assert.NotContains(t, snap.PerProbe, "late")
	assert.Equal(t, 1, obs.skipped)
	assert.Equal(t, 1, agg.History().Len())
}

func TestHistoryKeepsNewestSnapshots(t *testing.T) {
	ring := history.NewRing[models.AggregateSnapshot](2)
	agg := New(registry.New(), okRunner(), Options{History: ring}, quietLogger())

	for i := 0; i < 3; i++ {
		_, err := agg.RunOnce(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, ring.Len())
}

func TestIntervalUsesSmallestProbeInterval(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg,
		models.Probe{ID: "a", Kind: models.KindHTTP, Target: "http://a", TimeoutMs: 100, IntervalMs: 15000},
		models.Probe{ID: "b", Kind: models.KindHTTP, Target: "http://b", TimeoutMs: 100, IntervalMs: 5000},
	)
	assert.Equal(t, 5*time.Second, New(reg, okRunner(), Options{}, quietLogger()).Interval())
	assert.Equal(t, time.Minute, New(reg, okRunner(), Options{Interval: time.Minute}, quietLogger()).Interval())
	assert.Equal(t, defaultInterval, New(registry.New(), okRunner(), Options{}, quietLogger()).Interval())
}

func TestStartRunsImmediateCycle(t *testing.T) {
	agg := New(registry.New(), okRunner(), Options{Interval: time.Hour}, quietLogger())
	require.NoError(t, agg.Start())
	defer agg.Stop(context.Background())

	require.Eventually(t, func() bool {
		_, ok := agg.Latest()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerRunsCycle(t *testing.T) {
	agg := New(registry.New(), okRunner(), Options{}, quietLogger())
	snap, err := agg.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusHealthy, snap.OverallStatus)
	assert.Equal(t, 1, agg.History().Len())
}

func TestCancelledCallerDoesNotFailProbes(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg,
		models.Probe{ID: "a", Kind: models.KindHTTP, Target: "http://a", TimeoutMs: 2000},
		models.Probe{ID: "b", Kind: models.KindHTTP, Target: "http://b", TimeoutMs: 2000},
	)
	runner := probe.NewRunner(quietLogger())
	runner.SetChecker(models.KindHTTP, probe.CheckerFunc(func(ctx context.Context, _ models.Probe) probe.Observation {
		select {
		case <-time.After(200 * time.Millisecond):
			return probe.Observation{Outcome: models.OutcomeOK, Value: 200}
		case <-ctx.Done():
			return probe.Observation{Err: ctx.Err()}
		}
	}))

	emitter := alerts.NewEmitter(quietLogger())
	agg := New(reg, runner, Options{Emitter: emitter}, quietLogger())

	first, err := agg.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.StatusHealthy, first.OverallStatus)

	var transitions []models.AlertEvent
	emitter.Subscribe(alerts.ListenerFunc(func(_ context.Context, ev models.AlertEvent) error {
		transitions = append(transitions, ev)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	defer cancel()

	second, err := agg.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusHealthy, second.OverallStatus)
	assert.Equal(t, 100, second.OverallScore)
	for id, res := range second.PerProbe {
		assert.Equal(t, models.OutcomeOK, res.Outcome, id)
	}
	assert.Empty(t, transitions)
}

func TestStopWaitsForRunningCycle(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, models.Probe{ID: "slow", Kind: models.KindHTTP, Target: "http://slow", TimeoutMs: 2000})

	entered := make(chan struct{})
	var once sync.Once
	runner := fakeRunner{run: func(ctx context.Context, p models.Probe) models.ProbeResult {
		once.Do(func() { close(entered) })
		time.Sleep(100 * time.Millisecond)
		outcome := models.OutcomeOK
		if ctx.Err() != nil {
			outcome = models.OutcomeError
		}
		return models.ProbeResult{ProbeID: p.ID, Kind: p.Kind, Outcome: outcome}
	}}
	agg := New(reg, runner, Options{Interval: time.Hour}, quietLogger())
	require.NoError(t, agg.Start())
	<-entered

	agg.Stop(context.Background())

	snap, ok := agg.Latest()
	require.True(t, ok)
	assert.Equal(t, models.OutcomeOK, snap.PerProbe["slow"].Outcome)
}
