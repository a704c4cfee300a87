package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"controlroom/internal/models"
	"controlroom/internal/registry"
)

// Config represents the control room startup configuration.
type Config struct {
	ListenAddr      string         `yaml:"listen_addr" env:"CONTROLROOM_LISTEN_ADDR"`
	CycleInterval   time.Duration  `yaml:"cycle_interval" env:"CONTROLROOM_CYCLE_INTERVAL"`
	HistoryCapacity int            `yaml:"history_capacity" env:"CONTROLROOM_HISTORY_CAPACITY"`
	AlertCapacity   int            `yaml:"alert_capacity" env:"CONTROLROOM_ALERT_CAPACITY"`
	LogLevel        string         `yaml:"log_level" env:"CONTROLROOM_LOG_LEVEL"`
	AlertsDBPath    string         `yaml:"alerts_db_path" env:"CONTROLROOM_ALERTS_DB_PATH"`
	Telegram        Telegram       `yaml:"telegram"`
	Probes          []models.Probe `yaml:"probes"`
}

// Telegram holds the bot credentials of the alert relay. Both must be set
// for the relay to be enabled.
type Telegram struct {
	BotToken string `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	ChatID   string `yaml:"chat_id" env:"TELEGRAM_CHAT_ID"`
}

// Enabled reports whether the relay has credentials.
func (t Telegram) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// LoadError is returned for any configuration problem. It is fatal at
// startup.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load config: %v", e.Err)
	}
	return fmt.Sprintf("load config %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// DefaultConfig returns the defaults used when no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		HistoryCapacity: 120,
		AlertCapacity:   200,
		LogLevel:        "info",
	}
}

// Load reads the YAML file at path, applies environment overrides and
// validates every probe. Missing files fall back to defaults.
func Load(path string) (Config, error) {
	cfg, err := load(path)
	if err != nil {
		return Config{}, &LoadError{Path: path, Err: err}
	}
	return cfg, nil
}

func load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if raw := os.Getenv("CONTROLROOM_PROBES"); raw != "" {
		var extra []models.Probe
		// JSON is a subset of YAML, so both list forms decode here.
		if err := yaml.Unmarshal([]byte(raw), &extra); err != nil {
			return Config{}, fmt.Errorf("parse CONTROLROOM_PROBES: %w", err)
		}
		cfg.Probes = append(cfg.Probes, extra...)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}
	if cfg.CycleInterval < 0 {
		return Config{}, fmt.Errorf("cycle_interval must not be negative")
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultConfig().HistoryCapacity
	}
	if cfg.AlertCapacity <= 0 {
		cfg.AlertCapacity = DefaultConfig().AlertCapacity
	}

	seen := make(map[string]struct{}, len(cfg.Probes))
	for i, p := range cfg.Probes {
		valid, err := registry.Validate(p)
		if err != nil {
			return Config{}, fmt.Errorf("probe %d: %w", i, err)
		}
		if _, dup := seen[valid.ID]; dup {
			return Config{}, fmt.Errorf("probe %d: %w: %s", i, registry.ErrDuplicateProbe, valid.ID)
		}
		seen[valid.ID] = struct{}{}
		cfg.Probes[i] = valid
	}
	return cfg, nil
}

// Registry builds a registry holding the configured probes in file order.
func (c Config) Registry() (*registry.Registry, error) {
	reg := registry.New()
	for _, p := range c.Probes {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
