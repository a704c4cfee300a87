package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlroom/internal/models"
)

func newTestStore(t *testing.T) *AlertStore {
	t.Helper()
	store, err := OpenAlertStore(filepath.Join(t.TempDir(), "data", "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

func TestAlertStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []models.AlertEvent{
		{ID: "a1", PreviousStatus: models.StatusUnknown, NewStatus: models.StatusHealthy, Severity: models.SeverityInfo, Timestamp: now},
		{ID: "a2", ProbeID: strPtr("disk"), PreviousStatus: models.StatusHealthy, NewStatus: models.StatusCritical, Severity: models.SeverityCritical, Timestamp: now.Add(time.Minute)},
		{ID: "a3", PreviousStatus: models.StatusHealthy, NewStatus: models.StatusWarning, Severity: models.SeverityWarning, Timestamp: now.Add(time.Minute)},
	}
	for _, ev := range events {
		require.NoError(t, store.HandleAlert(ctx, ev))
	}

	got, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a3", got[0].ID)
	assert.Nil(t, got[0].ProbeID)
	assert.Equal(t, "a2", got[1].ID)
	require.NotNil(t, got[1].ProbeID)
	assert.Equal(t, "disk", *got[1].ProbeID)
	assert.Equal(t, models.StatusCritical, got[1].NewStatus)
	assert.Equal(t, models.SeverityCritical, got[1].Severity)
	assert.True(t, now.Add(time.Minute).Equal(got[1].Timestamp))
	assert.Equal(t, models.StatusUnknown, got[2].PreviousStatus)
}

func TestAlertStoreRecentLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Insert(ctx, models.AlertEvent{
			ID: id, PreviousStatus: models.StatusHealthy, NewStatus: models.StatusWarning,
			Severity: models.SeverityWarning, Timestamp: time.Now(),
		}))
	}

	got, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestAlertStoreIgnoresDuplicateIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ev := models.AlertEvent{ID: "same", PreviousStatus: models.StatusUnknown, NewStatus: models.StatusHealthy, Severity: models.SeverityInfo, Timestamp: time.Now()}

	require.NoError(t, store.Insert(ctx, ev))
	require.NoError(t, store.Insert(ctx, ev))

	got, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestAlertStoreEmptyJournal(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
