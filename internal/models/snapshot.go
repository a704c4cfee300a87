package models

import "time"

// Status is the bucketed health verdict of an entity.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// AggregateSnapshot stores the results of one aggregation cycle.
type AggregateSnapshot struct {
	Timestamp     time.Time              `json:"timestamp"`
	PerProbe      map[string]ProbeResult `json:"per_probe"`
	OverallScore  int                    `json:"overall_score"`
	OverallStatus Status                 `json:"overall_status"`
	HealthyCount  int                    `json:"healthy_count"`
	TotalCount    int                    `json:"total_count"`
	DurationMs    int64                  `json:"duration_ms"`
}
