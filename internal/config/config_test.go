package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlroom/internal/models"
	"controlroom/internal/registry"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadParsesProbes(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9090"
cycle_interval: 15s
history_capacity: 10
probes:
  - id: web
    kind: http
    target: https://example.com/health
    timeout_ms: 2000
  - id: disk
    kind: shell-metric
    target: "df --output=pcent / | tail -1"
    timeout_ms: 1000
    interval_ms: 60000
  - id: pm2
    kind: process-list
    target: pm2 jlist
    timeout_ms: 3000
    penalty: 25
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 15*time.Second, cfg.CycleInterval)
	assert.Equal(t, 10, cfg.HistoryCapacity)
	assert.Equal(t, 200, cfg.AlertCapacity)
	require.Len(t, cfg.Probes, 3)

	assert.Equal(t, models.ScoringBinary, cfg.Probes[0].Scoring)
	assert.Equal(t, registry.DefaultIntervalMs, cfg.Probes[0].IntervalMs)
	assert.Equal(t, models.ScoringResource, cfg.Probes[1].Scoring)
	assert.Equal(t, 60000, cfg.Probes[1].IntervalMs)
	assert.Equal(t, 25, cfg.Probes[2].Penalty)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	ids := []string{}
	for _, p := range reg.List() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"web", "disk", "pm2"}, ids)
}

func TestLoadRejectsInvalidProbe(t *testing.T) {
	path := writeConfig(t, `
probes:
  - id: web
    kind: ftp
    target: ftp://example.com
    timeout_ms: 1000
`)
	_, err := Load(path)
	require.Error(t, err)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, path, loadErr.Path)

	var validation *registry.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "kind", validation.Field)
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	path := writeConfig(t, `
probes:
  - {id: web, kind: http, target: "http://a", timeout_ms: 1000}
  - {id: web, kind: http, target: "http://b", timeout_ms: 1000}
`)
	_, err := Load(path)
	assert.True(t, errors.Is(err, registry.ErrDuplicateProbe))
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "probes: [\n")
	_, err := Load(path)

	var loadErr *LoadError
	assert.True(t, errors.As(err, &loadErr))
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("CONTROLROOM_LISTEN_ADDR", ":7070")
	t.Setenv("CONTROLROOM_CYCLE_INTERVAL", "45s")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("CONTROLROOM_PROBES", `[{"id":"api","kind":"tcp","target":"db.internal:5432","timeout_ms":500}]`)

	path := writeConfig(t, `
listen_addr: ":9090"
probes:
  - {id: web, kind: http, target: "http://a", timeout_ms: 1000}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, 45*time.Second, cfg.CycleInterval)
	assert.True(t, cfg.Telegram.Enabled())
	require.Len(t, cfg.Probes, 2)
	assert.Equal(t, "api", cfg.Probes[1].ID)
	assert.Equal(t, models.KindTCP, cfg.Probes[1].Kind)
}

func TestLoadRejectsBadProbeEnvironment(t *testing.T) {
	t.Setenv("CONTROLROOM_PROBES", "{not a list")
	_, err := Load("")

	var loadErr *LoadError
	assert.True(t, errors.As(err, &loadErr))
}

func TestTelegramEnabledNeedsBothFields(t *testing.T) {
	assert.False(t, Telegram{BotToken: "x"}.Enabled())
	assert.False(t, Telegram{ChatID: "1"}.Enabled())
	assert.True(t, Telegram{BotToken: "x", ChatID: "1"}.Enabled())
}
