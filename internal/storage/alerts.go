package storage

import (
	"context"
	"database/sql"
	"fmt"

	"controlroom/internal/models"
)

// AlertStore is the sqlite alert journal. It doubles as an alert listener.
type AlertStore struct {
	db *sql.DB
}

// OpenAlertStore opens and migrates the journal at path.
func OpenAlertStore(path string) (*AlertStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("open alert journal: %w", err)
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &AlertStore{db: db}, nil
}

// Close releases the database.
func (s *AlertStore) Close() error {
	return s.db.Close()
}

// HandleAlert appends the event to the journal.
func (s *AlertStore) HandleAlert(ctx context.Context, ev models.AlertEvent) error {
	return s.Insert(ctx, ev)
}

// Insert stores one event. Re-inserting an id is a no-op.
func (s *AlertStore) Insert(ctx context.Context, ev models.AlertEvent) error {
	var probeID sql.NullString
	if ev.ProbeID != nil {
		probeID = sql.NullString{String: *ev.ProbeID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO alert_events(id,probe_id,previous_status,new_status,severity,ts) VALUES(?,?,?,?,?,?)`,
		ev.ID, probeID, string(ev.PreviousStatus), string(ev.NewStatus), string(ev.Severity), ev.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", ev.ID, err)
	}
	return nil
}

// Recent returns up to limit events, newest first. limit <= 0 returns all.
func (s *AlertStore) Recent(ctx context.Context, limit int) ([]models.AlertEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,probe_id,previous_status,new_status,severity,ts FROM alert_events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	events := []models.AlertEvent{}
	for rows.Next() {
		var (
			ev       models.AlertEvent
			probeID  sql.NullString
			previous string
			next     string
			severity string
		)
		if err := rows.Scan(&ev.ID, &probeID, &previous, &next, &severity, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if probeID.Valid {
			id := probeID.String
			ev.ProbeID = &id
		}
		ev.PreviousStatus = models.Status(previous)
		ev.NewStatus = models.Status(next)
		ev.Severity = models.Severity(severity)
		events = append(events, ev)
	}
	return events, rows.Err()
}
