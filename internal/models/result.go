package models

import "time"

// Outcome is the normalized result of one probe execution.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeDegraded Outcome = "degraded"
	OutcomeError    Outcome = "error"
	OutcomeTimeout  Outcome = "timeout"
)

// ProbeResult captures the outcome of a single probe execution.
type ProbeResult struct {
	ProbeID      string    `json:"probe_id"`
	Kind         ProbeKind `json:"kind"`
	Timestamp    time.Time `json:"timestamp"`
	Outcome      Outcome   `json:"outcome"`
	LatencyMs    *int64    `json:"latency_ms"`
	RawValue     any       `json:"raw_value,omitempty"`
	ErrorMessage *string   `json:"error_message"`
}

// OK reports whether the probe observably succeeded.
func (r ProbeResult) OK() bool {
	return r.Outcome == OutcomeOK
}

// Value returns the raw value as a float64 when it is numeric.
func (r ProbeResult) Value() (float64, bool) {
	switch v := r.RawValue.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
