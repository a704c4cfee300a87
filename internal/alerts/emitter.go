// Package alerts turns consecutive snapshots into status-transition events.
package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"controlroom/internal/models"
)

// OverallEntity is the state-machine key of the overall verdict.
const OverallEntity = "overall"

// Listener receives alert events. Errors are logged by the emitter and never
// stop delivery to other listeners.
type Listener interface {
	HandleAlert(ctx context.Context, ev models.AlertEvent) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev models.AlertEvent) error

// HandleAlert implements Listener.
func (f ListenerFunc) HandleAlert(ctx context.Context, ev models.AlertEvent) error {
	return f(ctx, ev)
}

// Emitter keeps the last status of every tracked entity and emits an event
// each time it changes.
type Emitter struct {
	log *log.Logger
	now func() time.Time

	mu        sync.Mutex
	states    map[string]models.Status
	listeners []Listener
}

// NewEmitter creates an emitter with every entity in the unknown state.
func NewEmitter(logger *log.Logger) *Emitter {
	return &Emitter{
		log:    logger.With("module", "alerts"),
		now:    time.Now,
		states: make(map[string]models.Status),
	}
}

// Subscribe adds a listener. Listeners are called in subscription order.
func (e *Emitter) Subscribe(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// State returns the recorded status of an entity.
func (e *Emitter) State(entity string) models.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.states[entity]; ok {
		return s
	}
	return models.StatusUnknown
}

// Observe diffs one snapshot against the recorded states, delivers the
// resulting events and returns them. probeStatuses holds the per-probe
// verdicts of the snapshot; probes absent from it are forgotten.
func (e *Emitter) Observe(ctx context.Context, snap models.AggregateSnapshot, probeStatuses map[string]models.Status) []models.AlertEvent {
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = e.now().UTC()
	}

	e.mu.Lock()
	var events []models.AlertEvent
	if ev, changed := e.transitionLocked(OverallEntity, nil, snap.OverallStatus, ts); changed {
		events = append(events, ev)
	}

	ids := make([]string, 0, len(probeStatuses))
	for id := range probeStatuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		probeID := id
		if ev, changed := e.transitionLocked(id, &probeID, probeStatuses[id], ts); changed {
			events = append(events, ev)
		}
	}

	for entity := range e.states {
		if entity == OverallEntity {
			continue
		}
		if _, tracked := probeStatuses[entity]; !tracked {
			delete(e.states, entity)
		}
	}
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, ev := range events {
		e.log.Info("status transition",
			"entity", ev.Entity(),
			"from", ev.PreviousStatus,
			"to", ev.NewStatus,
			"severity", ev.Severity,
		)
		e.deliver(ctx, listeners, ev)
	}
	return events
}

func (e *Emitter) transitionLocked(entity string, probeID *string, status models.Status, ts time.Time) (models.AlertEvent, bool) {
	prev, seen := e.states[entity]
	if !seen {
		prev = models.StatusUnknown
	}
	if prev == status {
		return models.AlertEvent{}, false
	}
	e.states[entity] = status
	return models.AlertEvent{
		ID:             uuid.NewString(),
		ProbeID:        probeID,
		PreviousStatus: prev,
		NewStatus:      status,
		Timestamp:      ts,
		Severity:       models.SeverityFor(status),
	}, true
}

func (e *Emitter) deliver(ctx context.Context, listeners []Listener, ev models.AlertEvent) {
	for _, l := range listeners {
		if err := l.HandleAlert(ctx, ev); err != nil {
			e.log.Warn("alert delivery failed", "entity", ev.Entity(), "alert_id", ev.ID, "err", err)
		}
	}
}
