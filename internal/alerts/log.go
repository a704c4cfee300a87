package alerts

import (
	"context"

	"controlroom/internal/history"
	"controlroom/internal/models"
)

// Log keeps the most recent alert events in memory.
type Log struct {
	ring *history.Ring[models.AlertEvent]
}

// NewLog creates a log holding at most capacity events.
func NewLog(capacity int) *Log {
	return &Log{ring: history.NewRing[models.AlertEvent](capacity)}
}

// HandleAlert implements Listener.
func (l *Log) HandleAlert(_ context.Context, ev models.AlertEvent) error {
	l.ring.Append(ev)
	return nil
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(_ context.Context, limit int) ([]models.AlertEvent, error) {
	return l.ring.Recent(limit), nil
}
