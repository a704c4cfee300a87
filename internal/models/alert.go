package models

import "time"

// Severity grades an alert by the status it moved into.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SeverityFor maps a new status to the severity of the transition into it.
func SeverityFor(s Status) Severity {
	switch s {
	case StatusCritical:
		return SeverityCritical
	case StatusWarning:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// AlertEvent records a status transition of one probe, or of the overall
// verdict when ProbeID is nil.
type AlertEvent struct {
	ID             string    `json:"id"`
	ProbeID        *string   `json:"probe_id"`
	PreviousStatus Status    `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	Timestamp      time.Time `json:"timestamp"`
	Severity       Severity  `json:"severity"`
}

// Entity returns the probe id, or "overall".
func (e AlertEvent) Entity() string {
	if e.ProbeID == nil {
		return "overall"
	}
	return *e.ProbeID
}
