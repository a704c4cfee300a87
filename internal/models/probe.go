package models

// ProbeKind identifies how a probe reaches its target.
type ProbeKind string

const (
	KindHTTP        ProbeKind = "http"
	KindProcessList ProbeKind = "process-list"
	KindShellMetric ProbeKind = "shell-metric"
	KindTCP         ProbeKind = "tcp"
	KindSystem      ProbeKind = "system"
	KindPrometheus  ProbeKind = "prometheus"
)

// Valid reports whether the kind has a checker.
func (k ProbeKind) Valid() bool {
	switch k {
	case KindHTTP, KindProcessList, KindShellMetric, KindTCP, KindSystem, KindPrometheus:
		return true
	}
	return false
}

// ScoringStyle selects how a probe's result contributes to the overall score.
type ScoringStyle string

const (
	// ScoringResource reads a percentage from the result's raw value.
	ScoringResource ScoringStyle = "resource"
	// ScoringBinary applies a fixed penalty when the probe is not ok.
	ScoringBinary ScoringStyle = "binary"
)

// DefaultScoring returns the scoring style used when a probe does not set one.
func (k ProbeKind) DefaultScoring() ScoringStyle {
	switch k {
	case KindShellMetric, KindSystem, KindPrometheus:
		return ScoringResource
	default:
		return ScoringBinary
	}
}

// Probe defines a single health or metric check against one target.
type Probe struct {
	ID         string       `yaml:"id" json:"id"`
	Name       string       `yaml:"name" json:"name,omitempty"`
	Kind       ProbeKind    `yaml:"kind" json:"kind"`
	Target     string       `yaml:"target" json:"target"`
	TimeoutMs  int          `yaml:"timeout_ms" json:"timeout_ms"`
	IntervalMs int          `yaml:"interval_ms" json:"interval_ms"`
	Scoring    ScoringStyle `yaml:"scoring" json:"scoring,omitempty"`
	Penalty    int          `yaml:"penalty" json:"penalty,omitempty"`
}

// DisplayName falls back to the id when no name is configured.
func (p Probe) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
