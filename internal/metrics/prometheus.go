package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"controlroom/internal/models"
)

// Recorder publishes cycle results as Prometheus metrics.
type Recorder struct {
	overallScore  prometheus.Gauge
	overallStatus *prometheus.GaugeVec
	healthyProbes prometheus.Gauge
	totalProbes   prometheus.Gauge
	probeUp       *prometheus.GaugeVec
	probeLatency  *prometheus.GaugeVec
	probeValue    *prometheus.GaugeVec
	cycleDuration prometheus.Histogram
	cyclesSkipped prometheus.Counter
	alertsTotal   *prometheus.CounterVec
}

// NewRecorder registers the control room metrics on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		overallScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "controlroom_overall_score",
			Help: "Overall health score of the last cycle (0-100)",
		}),
		overallStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "controlroom_overall_status",
			Help: "1 for the current overall status, 0 for the others",
		}, []string{"status"}),
		healthyProbes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "controlroom_probes_healthy",
			Help: "Probes with an ok outcome in the last cycle",
		}),
		totalProbes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "controlroom_probes_total",
			Help: "Probes executed in the last cycle",
		}),
		probeUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "controlroom_probe_up",
			Help: "1 when the probe outcome was ok",
		}, []string{"probe", "kind"}),
		probeLatency: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "controlroom_probe_latency_ms",
			Help: "Probe latency of the last cycle in milliseconds",
		}, []string{"probe"}),
		probeValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "controlroom_probe_value",
			Help: "Numeric raw value reported by the probe",
		}, []string{"probe"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "controlroom_cycle_duration_seconds",
			Help:    "Wall time of aggregation cycles",
			Buckets: prometheus.DefBuckets,
		}),
		cyclesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "controlroom_cycles_skipped_total",
			Help: "Cycle requests rejected because a cycle was in flight",
		}),
		alertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "controlroom_alerts_total",
			Help: "Status transitions emitted",
		}, []string{"severity"}),
	}
}

// ObserveSnapshot records one cycle.
func (r *Recorder) ObserveSnapshot(snap models.AggregateSnapshot) {
	r.overallScore.Set(float64(snap.OverallScore))
	for _, s := range []models.Status{models.StatusHealthy, models.StatusWarning, models.StatusCritical} {
		v := 0.0
		if s == snap.OverallStatus {
			v = 1
		}
		r.overallStatus.WithLabelValues(string(s)).Set(v)
	}
	r.healthyProbes.Set(float64(snap.HealthyCount))
	r.totalProbes.Set(float64(snap.TotalCount))
	r.cycleDuration.Observe(float64(snap.DurationMs) / 1000)

	for id, res := range snap.PerProbe {
		up := 0.0
		if res.OK() {
			up = 1
		}
		r.probeUp.WithLabelValues(id, string(res.Kind)).Set(up)
		// Probes without a reading drop their series.
		if res.LatencyMs != nil {
			r.probeLatency.WithLabelValues(id).Set(float64(*res.LatencyMs))
		} else {
			r.probeLatency.DeleteLabelValues(id)
		}
		if v, ok := res.Value(); ok && res.OK() {
			r.probeValue.WithLabelValues(id).Set(v)
		} else {
			r.probeValue.DeleteLabelValues(id)
		}
	}
}

// ForgetProbe drops the series of an unregistered probe.
func (r *Recorder) ForgetProbe(id string) {
	r.probeUp.DeletePartialMatch(prometheus.Labels{"probe": id})
	r.probeLatency.DeleteLabelValues(id)
	r.probeValue.DeleteLabelValues(id)
}

// CycleSkipped counts a rejected cycle request.
func (r *Recorder) CycleSkipped() {
	r.cyclesSkipped.Inc()
}

// ObserveAlerts counts emitted transitions by severity.
func (r *Recorder) ObserveAlerts(events []models.AlertEvent) {
	for _, ev := range events {
		r.alertsTotal.WithLabelValues(string(ev.Severity)).Inc()
	}
}

// ObserveCycle records a completed cycle and its alerts.
func (r *Recorder) ObserveCycle(snap models.AggregateSnapshot, events []models.AlertEvent) {
	r.ObserveSnapshot(snap)
	r.ObserveAlerts(events)
}
