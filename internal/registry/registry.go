package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"controlroom/internal/models"
)

const (
	DefaultIntervalMs = 30000
	DefaultPenalty    = 30
)

var (
	// ErrDuplicateProbe is returned when a probe id is already registered.
	ErrDuplicateProbe = errors.New("duplicate probe id")
	// ErrProbeNotFound is returned when unregistering an unknown id.
	ErrProbeNotFound = errors.New("probe not found")
)

// ValidationError describes a rejected probe definition.
type ValidationError struct {
	ProbeID string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.ProbeID == "" {
		return fmt.Sprintf("invalid probe: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid probe %q: %s %s", e.ProbeID, e.Field, e.Reason)
}

// Registry owns the validated set of probes in registration order.
type Registry struct {
	mu     sync.RWMutex
	probes []models.Probe
	index  map[string]int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Validate checks a probe definition and returns it with defaults applied.
func Validate(p models.Probe) (models.Probe, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Target = strings.TrimSpace(p.Target)
	if p.ID == "" {
		return p, &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if p.Target == "" {
		return p, &ValidationError{ProbeID: p.ID, Field: "target", Reason: "must not be empty"}
	}
	if !p.Kind.Valid() {
		return p, &ValidationError{ProbeID: p.ID, Field: "kind", Reason: fmt.Sprintf("unknown kind %q", p.Kind)}
	}
	if p.TimeoutMs <= 0 {
		return p, &ValidationError{ProbeID: p.ID, Field: "timeout_ms", Reason: "must be positive"}
	}
	if p.IntervalMs < 0 {
		return p, &ValidationError{ProbeID: p.ID, Field: "interval_ms", Reason: "must not be negative"}
	}
	if p.IntervalMs == 0 {
		p.IntervalMs = DefaultIntervalMs
	}
	switch p.Scoring {
	case "":
		p.Scoring = p.Kind.DefaultScoring()
	case models.ScoringResource, models.ScoringBinary:
	default:
		return p, &ValidationError{ProbeID: p.ID, Field: "scoring", Reason: fmt.Sprintf("unknown style %q", p.Scoring)}
	}
	if p.Penalty < 0 || p.Penalty > 100 {
		return p, &ValidationError{ProbeID: p.ID, Field: "penalty", Reason: "must be within [0,100]"}
	}
	if p.Penalty == 0 {
		p.Penalty = DefaultPenalty
	}
	return p, nil
}

// Register validates and adds a probe.
func (r *Registry) Register(p models.Probe) error {
	probe, err := Validate(p)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[probe.ID]; exists {
		return fmt.Errorf("register %s: %w", probe.ID, ErrDuplicateProbe)
	}
	r.index[probe.ID] = len(r.probes)
	r.probes = append(r.probes, probe)
	return nil
}

// Unregister removes a probe by id, keeping the order of the rest.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.index[id]
	if !ok {
		return fmt.Errorf("unregister %s: %w", id, ErrProbeNotFound)
	}
	next := make([]models.Probe, 0, len(r.probes)-1)
	next = append(next, r.probes[:pos]...)
	next = append(next, r.probes[pos+1:]...)
	r.probes = next

	delete(r.index, id)
	for i := pos; i < len(r.probes); i++ {
		r.index[r.probes[i].ID] = i
	}
	return nil
}

// List returns a copy of the registered probes in registration order.
func (r *Registry) List() []models.Probe {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Probe, len(r.probes))
	copy(out, r.probes)
	return out
}

// Get returns a probe by id.
func (r *Registry) Get(id string) (models.Probe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.index[id]
	if !ok {
		return models.Probe{}, false
	}
	return r.probes[pos], true
}

// Len returns the number of registered probes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.probes)
}
