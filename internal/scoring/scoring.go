// Package scoring rolls probe results into a bounded health verdict.
//
// One threshold table serves every probe:
//
//	resource value > CriticalAbove         -> -CriticalPenalty (30)
//	resource value in (WarningAbove, CriticalAbove] -> -WarningPenalty (15)
//	binary or unreadable resource, not ok  -> -probe penalty
//	score clamped to [0,100]
//	score >= HealthyFrom (80)              -> healthy
//	score >= WarningFrom (50)              -> warning
//	otherwise                              -> critical
package scoring

import (
	"sort"

	"controlroom/internal/models"
)

// Policy holds the thresholds of the scoring table.
type Policy struct {
	WarningAbove    float64
	CriticalAbove   float64
	WarningPenalty  int
	CriticalPenalty int
	DefaultPenalty  int
	HealthyFrom     int
	WarningFrom     int
}

// Verdict is the overall score and its status bucket.
type Verdict struct {
	Score  int
	Status models.Status
}

// DefaultPolicy returns the thresholds used across the control room.
func DefaultPolicy() Policy {
	return Policy{
		WarningAbove:    80,
		CriticalAbove:   90,
		WarningPenalty:  15,
		CriticalPenalty: 30,
		DefaultPenalty:  30,
		HealthyFrom:     80,
		WarningFrom:     50,
	}
}

// Score computes the overall verdict for one cycle. probes supplies the
// scoring style and penalty of each result; a result without a definition is
// scored as binary with the default penalty.
func (p Policy) Score(perProbe map[string]models.ProbeResult, probes map[string]models.Probe) Verdict {
	ids := make([]string, 0, len(perProbe))
	for id := range perProbe {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	score := 100
	for _, id := range ids {
		score -= p.Penalty(probes[id], perProbe[id])
		if score < 0 {
			score = 0
		}
	}
	return Verdict{Score: score, Status: p.StatusFor(score)}
}

// Penalty returns the points a single result subtracts from the score.
func (p Policy) Penalty(probe models.Probe, result models.ProbeResult) int {
	style := probe.Scoring
	if style == "" {
		style = result.Kind.DefaultScoring()
	}
	if style == models.ScoringResource && result.OK() {
		value, ok := result.Value()
		if !ok {
			return p.binaryPenalty(probe)
		}
		switch {
		case value > p.CriticalAbove:
			return p.CriticalPenalty
		case value > p.WarningAbove:
			return p.WarningPenalty
		default:
			return 0
		}
	}
	if result.OK() {
		return 0
	}
	return p.binaryPenalty(probe)
}

func (p Policy) binaryPenalty(probe models.Probe) int {
	if probe.Penalty > 0 {
		return probe.Penalty
	}
	return p.DefaultPenalty
}

// StatusFor buckets a score.
func (p Policy) StatusFor(score int) models.Status {
	switch {
	case score >= p.HealthyFrom:
		return models.StatusHealthy
	case score >= p.WarningFrom:
		return models.StatusWarning
	default:
		return models.StatusCritical
	}
}

// ProbeStatus derives the status of a single probe for transition tracking.
func (p Policy) ProbeStatus(probe models.Probe, result models.ProbeResult) models.Status {
	switch result.Outcome {
	case models.OutcomeDegraded:
		return models.StatusWarning
	case models.OutcomeError, models.OutcomeTimeout:
		return models.StatusCritical
	}
	style := probe.Scoring
	if style == "" {
		style = result.Kind.DefaultScoring()
	}
	if style != models.ScoringResource {
		return models.StatusHealthy
	}
	value, ok := result.Value()
	switch {
	case !ok:
		return models.StatusCritical
	case value > p.CriticalAbove:
		return models.StatusCritical
	case value > p.WarningAbove:
		return models.StatusWarning
	default:
		return models.StatusHealthy
	}
}

// ProbeStatuses applies ProbeStatus to every result of a cycle.
func (p Policy) ProbeStatuses(perProbe map[string]models.ProbeResult, probes map[string]models.Probe) map[string]models.Status {
	out := make(map[string]models.Status, len(perProbe))
	for id, result := range perProbe {
		out[id] = p.ProbeStatus(probes[id], result)
	}
	return out
}
