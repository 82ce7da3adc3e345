package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/moderation-engine/internal/dto"
	"github.com/noah-isme/moderation-engine/internal/service"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency checked by the readiness endpoint.
type Pinger func(ctx context.Context) error

type automatonStatus interface {
	Status() dto.AutomatonStatus
}

// HealthHandler exposes observability endpoints.
type HealthHandler struct {
	metrics   *service.MetricsService
	automaton automatonStatus
	checks    map[string]Pinger
}

// NewHealthHandler constructs a health handler. checks maps a dependency name
// to its ping function.
func NewHealthHandler(metrics *service.MetricsService, automaton automatonStatus, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{metrics: metrics, automaton: automaton, checks: checks}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *HealthHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for liveness usage.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready pings every dependency and reports the automaton generation.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	body := gin.H{"status": "ok", "dependencies": deps}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if h.automaton != nil {
		snap := h.automaton.Status()
		body["automaton"] = gin.H{"generation": snap.Generation, "stale": snap.Stale, "rules": snap.Rules}
	}
	c.JSON(status, body)
}
