package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/capforge/api/internal/capability"
	"github.com/capforge/api/internal/llm"
	"github.com/gin-gonic/gin"
)

// ServiceName and Version identify the API in health responses.
const (
	ServiceName = "capforge-api"
	Version     = "0.1.0"
)

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db      Pinger
	redis   Pinger
	nats    Pinger
	breaker *llm.CircuitBreaker
	maps    capability.Source
}

// NewHealthHandler creates a new health handler. Any dependency may be nil
// when it is not configured.
func NewHealthHandler(db, redis, nats Pinger, breaker *llm.CircuitBreaker, maps capability.Source) *HealthHandler {
	return &HealthHandler{
		db:      db,
		redis:   redis,
		nats:    nats,
		breaker: breaker,
		maps:    maps,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Health returns basic health status
// @Summary Liveness
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: ServiceName,
		Version: Version,
	})
}

// DeepHealth returns health status with dependency checks
// @Summary Readiness with dependency checks
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health/deep [get]
func (h *HealthHandler) DeepHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	deps := make(map[string]string)
	allHealthy := true

	check := func(name string, p Pinger) {
		if p == nil {
			deps[name] = "not configured"
			return
		}
		if err := p.Ping(ctx); err != nil {
			deps[name] = "unhealthy: " + err.Error()
			allHealthy = false
			return
		}
		deps[name] = "healthy"
	}
	check("database", h.db)
	check("redis", h.redis)
	check("nats", h.nats)

	// an open circuit degrades generation but the API still answers
	if h.breaker != nil {
		deps["llm_circuit"] = h.breaker.State().String()
	}
	if h.maps != nil {
		if m := h.maps.Current(); m == nil || m.IsEmpty() {
			deps["capability_map"] = "empty"
		} else {
			deps["capability_map"] = "loaded"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:       status,
		Service:      ServiceName,
		Version:      Version,
		Dependencies: deps,
	})
}
