package main

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"controlroom/internal/alerts"
	"controlroom/internal/config"
	"controlroom/internal/history"
	"controlroom/internal/models"
	"controlroom/internal/monitor"
	"controlroom/internal/probe"
	"controlroom/internal/registry"
	"controlroom/internal/scoring"
)

var (
	configPath string
	envFile    string
	logLevel   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "controlroom",
		Short:         "Health monitoring control room",
		Long:          "Runs health probes against services and hosts, scores the results and raises alerts on status changes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file (YAML)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newServeCmd(), newCheckCmd())
	return root
}

// app holds the components shared by every command.
type app struct {
	cfg        config.Config
	log        *log.Logger
	registry   *registry.Registry
	emitter    *alerts.Emitter
	alertLog   *alerts.Log
	aggregator *monitor.Aggregator
}

func newApp() (*app, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger := newLogger(cfg.LogLevel)

	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	emitter := alerts.NewEmitter(logger)
	alertLog := alerts.NewLog(cfg.AlertCapacity)
	emitter.Subscribe(alertLog)

	agg := monitor.New(reg, probe.NewRunner(logger), monitor.Options{
		Interval: cfg.CycleInterval,
		Policy:   scoring.DefaultPolicy(),
		History:  history.NewRing[models.AggregateSnapshot](cfg.HistoryCapacity),
		Emitter:  emitter,
	}, logger)

	logger.Info("configuration loaded", "path", configPath, "probes", reg.Len())
	return &app{
		cfg:        cfg,
		log:        logger,
		registry:   reg,
		emitter:    emitter,
		alertLog:   alertLog,
		aggregator: agg,
	}, nil
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05",
	})
	parsed, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		logger.Warn("invalid log level, defaulting to info", "level", level)
		parsed = log.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
