package metrics

import (
	"math"
	"sort"
	"time"

	"controlroom/internal/models"
)

// ProbeUptime summarises the health of one probe over a history window.
type ProbeUptime struct {
	ID            string         `json:"id"`
	Kind          string         `json:"kind"`
	UptimePercent float64        `json:"uptime_percent"`
	TotalChecks   int            `json:"total_checks"`
	Passing       int            `json:"passing"`
	Failing       int            `json:"failing"`
	AvgLatencyMs  float64        `json:"avg_latency_ms"`
	LastOutcome   models.Outcome `json:"last_outcome,omitempty"`
	LastUpdated   string         `json:"last_updated,omitempty"`
}

// ComputeProbeUptime aggregates uptime statistics per probe from snapshots
// in any order.
func ComputeProbeUptime(snapshots []models.AggregateSnapshot) []ProbeUptime {
	type acc struct {
		kind         string
		passing      int
		failing      int
		latencySum   int64
		latencyCount int
		lastOutcome  models.Outcome
		lastTime     time.Time
	}
	state := make(map[string]*acc)
	for _, snap := range snapshots {
		for id, res := range snap.PerProbe {
			target := state[id]
			if target == nil {
				target = &acc{kind: string(res.Kind)}
				state[id] = target
			}
			if res.OK() {
				target.passing++
			} else {
				target.failing++
			}
			if res.LatencyMs != nil {
				target.latencySum += *res.LatencyMs
				target.latencyCount++
			}
			if !snap.Timestamp.Before(target.lastTime) {
				target.lastOutcome = res.Outcome
				target.lastTime = snap.Timestamp
			}
		}
	}
	if len(state) == 0 {
		return nil
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]ProbeUptime, 0, len(keys))
	for _, id := range keys {
		data := state[id]
		total := data.passing + data.failing
		uptime := 0.0
		if total > 0 {
			uptime = float64(data.passing) / float64(total) * 100
		}
		avg := 0.0
		if data.latencyCount > 0 {
			avg = float64(data.latencySum) / float64(data.latencyCount)
		}

		result := ProbeUptime{
			ID:            id,
			Kind:          data.kind,
			UptimePercent: round2(uptime),
			TotalChecks:   total,
			Passing:       data.passing,
			Failing:       data.failing,
			AvgLatencyMs:  round2(avg),
			LastOutcome:   data.lastOutcome,
		}
		if !data.lastTime.IsZero() {
			result.LastUpdated = data.lastTime.UTC().Format(time.RFC3339)
		}
		results = append(results, result)
	}
	return results
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
