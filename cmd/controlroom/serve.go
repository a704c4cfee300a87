package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"controlroom/internal/broadcast"
	"controlroom/internal/metrics"
	"controlroom/internal/notifier"
	"controlroom/internal/server"
	"controlroom/internal/storage"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled cycles and serve the dashboard API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if addr != "" {
				a.cfg.ListenAddr = addr
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "address for the web server (overrides listen_addr)")
	return cmd
}

func serve(parent context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(promReg)

	hub := broadcast.NewHub(a.log, a.aggregator.Latest)
	defer hub.Close()

	a.emitter.Subscribe(hub)
	a.aggregator.AddObserver(recorder)
	a.aggregator.AddObserver(hub)

	var alertSource server.AlertSource = a.alertLog
	if a.cfg.AlertsDBPath != "" {
		store, err := storage.OpenAlertStore(a.cfg.AlertsDBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		a.emitter.Subscribe(store)
		alertSource = store
		a.log.Info("alert journal enabled", "path", a.cfg.AlertsDBPath)
	}

	if a.cfg.Telegram.Enabled() {
		tg := notifier.NewTelegram(notifier.Options{
			Token:  a.cfg.Telegram.BotToken,
			ChatID: a.cfg.Telegram.ChatID,
		}, a.log)
		a.emitter.Subscribe(tg)
		go tg.Run(ctx)
		a.log.Info("telegram relay enabled")
	}

	srv := server.New(server.Options{
		Addr:       a.cfg.ListenAddr,
		Registry:   a.registry,
		Cycler:     a.aggregator,
		Alerts:     alertSource,
		AlertLimit: a.cfg.AlertCapacity,
		Broadcast:  hub,
		Metrics:    promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg}),
		Forget:     []server.ProbeForgetter{recorder},
		Logger:     a.log,
	})

	if err := a.aggregator.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case runErr = <-errCh:
		a.log.Error("server error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("server shutdown", "err", err)
	}
	a.aggregator.Stop(shutdownCtx)
	return runErr
}
