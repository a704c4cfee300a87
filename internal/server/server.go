// Package server exposes the dashboard API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"controlroom/internal/history"
	"controlroom/internal/models"
	"controlroom/internal/registry"
)

// Cycler runs and exposes aggregation cycles.
type Cycler interface {
	Trigger(ctx context.Context) (models.AggregateSnapshot, error)
	Latest() (models.AggregateSnapshot, bool)
	History() *history.Ring[models.AggregateSnapshot]
}

// AlertSource returns recent alert events, newest first.
type AlertSource interface {
	Recent(ctx context.Context, limit int) ([]models.AlertEvent, error)
}

// ProbeForgetter drops per-probe state when a probe is unregistered.
type ProbeForgetter interface {
	ForgetProbe(id string)
}

// Options wires the server to the rest of the control room.
type Options struct {
	Addr       string
	Registry   *registry.Registry
	Cycler     Cycler
	Alerts     AlertSource
	AlertLimit int
	// Broadcast serves GET /ws.
	Broadcast http.Handler
	// Metrics serves GET /metrics.
	Metrics http.Handler
	Forget  []ProbeForgetter
	Logger  *log.Logger
}

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server wraps HTTP serving of the API.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	registry   *registry.Registry
	cycler     Cycler
	alerts     AlertSource
	alertLimit int
	forget     []ProbeForgetter
	log        *log.Logger
}

// New creates a configured HTTP server.
func New(opts Options) *Server {
	logger := opts.Logger.With("module", "server")
	if opts.AlertLimit <= 0 {
		opts.AlertLimit = 200
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		router:     router,
		registry:   opts.Registry,
		cycler:     opts.Cycler,
		alerts:     opts.Alerts,
		alertLimit: opts.AlertLimit,
		forget:     opts.Forget,
		log:        logger,
	}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.registerRoutes(opts.Broadcast, opts.Metrics)
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	s.log.Info("listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(broadcast, metricsHandler http.Handler) {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/history", s.handleHistory)
	s.router.GET("/uptime", s.handleUptime)
	s.router.GET("/alerts", s.handleAlerts)
	s.router.GET("/probes", s.handleListProbes)
	s.router.POST("/probes", s.handleRegisterProbe)
	s.router.DELETE("/probes/:id", s.handleUnregisterProbe)
	s.router.POST("/cycle", s.handleCycle)
	if broadcast != nil {
		s.router.GET("/ws", gin.WrapH(broadcast))
	}
	if metricsHandler != nil {
		s.router.GET("/metrics", gin.WrapH(metricsHandler))
	}
}

func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency", time.Since(started),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("request", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}

func abortWithError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}

// statusCode maps domain errors to HTTP status codes.
func statusCode(err error) int {
	var validation *registry.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrDuplicateProbe):
		return http.StatusConflict
	case errors.Is(err, registry.ErrProbeNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
