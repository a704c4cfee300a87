package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"controlroom/internal/metrics"
	"controlroom/internal/models"
	"controlroom/internal/monitor"
)

func (s *Server) handleStatus(c *gin.Context) {
	snap, ok := s.cycler.Latest()
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"timestamp":      nil,
			"per_probe":      map[string]models.ProbeResult{},
			"overall_score":  nil,
			"overall_status": models.StatusUnknown,
			"healthy_count":  0,
			"total_count":    s.registry.Len(),
		})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleHistory(c *gin.Context) {
	ring := s.cycler.History()
	c.JSON(http.StatusOK, ring.Recent(parseLimit(c, ring.Cap())))
}

func (s *Server) handleUptime(c *gin.Context) {
	ring := s.cycler.History()
	c.JSON(http.StatusOK, metrics.ComputeProbeUptime(ring.Recent(parseLimit(c, ring.Cap()))))
}

func (s *Server) handleAlerts(c *gin.Context) {
	if s.alerts == nil {
		c.JSON(http.StatusOK, []models.AlertEvent{})
		return
	}
	events, err := s.alerts.Recent(c.Request.Context(), parseLimit(c, s.alertLimit))
	if err != nil {
		s.log.Error("read alerts", "err", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []models.AlertEvent{}
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleListProbes(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.List())
}

func (s *Server) handleRegisterProbe(c *gin.Context) {
	var p models.Probe
	if err := c.ShouldBindJSON(&p); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.registry.Register(p); err != nil {
		abortWithError(c, statusCode(err), err)
		return
	}
	registered, _ := s.registry.Get(strings.TrimSpace(p.ID))
	s.log.Info("probe registered", "probe", registered.ID, "kind", registered.Kind)
	c.JSON(http.StatusCreated, registered)
}

func (s *Server) handleUnregisterProbe(c *gin.Context) {
	id := c.Param("id")
	if err := s.registry.Unregister(id); err != nil {
		abortWithError(c, statusCode(err), err)
		return
	}
	for _, f := range s.forget {
		f.ForgetProbe(id)
	}
	s.log.Info("probe unregistered", "probe", id)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCycle(c *gin.Context) {
	snap, err := s.cycler.Trigger(c.Request.Context())
	if errors.Is(err, monitor.ErrCycleInFlight) {
		abortWithError(c, http.StatusConflict, err)
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// parseLimit reads ?limit=N, clamped to (0, fallback].
func parseLimit(c *gin.Context, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}
