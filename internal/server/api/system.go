package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/looplj/reportflow/internal/build"
	"github.com/looplj/reportflow/internal/cache"
	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/llm/provider"
	"github.com/looplj/reportflow/internal/objects"
	"github.com/looplj/reportflow/internal/orchestrator"
	"github.com/looplj/reportflow/internal/ratelimit"
	"github.com/looplj/reportflow/internal/resilience"
)

type SystemHandlersParams struct {
	fx.In

	Store       *cache.Store[orchestrator.Result]
	Broadcaster *cache.Broadcaster[orchestrator.Result]
	Breaker     *resilience.CircuitBreaker
	Limiter     *ratelimit.Limiter
	Registry    *provider.Registry
	Recorder    *events.Recorder
}

type SystemHandlers struct {
	Store       *cache.Store[orchestrator.Result]
	Broadcaster *cache.Broadcaster[orchestrator.Result]
	Breaker     *resilience.CircuitBreaker
	Limiter     *ratelimit.Limiter
	Registry    *provider.Registry
	Recorder    *events.Recorder
}

func NewSystemHandlers(params SystemHandlersParams) *SystemHandlers {
	return &SystemHandlers{
		Store:       params.Store,
		Broadcaster: params.Broadcaster,
		Breaker:     params.Breaker,
		Limiter:     params.Limiter,
		Registry:    params.Registry,
		Recorder:    params.Recorder,
	}
}

func (h *SystemHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": build.GetBuildInfo().Version,
		"time":    time.Now().UTC(),
	})
}

type Diagnostics struct {
	Cache     cache.Stats                `json:"cache"`
	Circuits  []resilience.ProviderStats `json:"circuits"`
	RateLimit ratelimit.Status           `json:"rate_limit"`
	Providers []string                   `json:"providers"`
	Events    []events.Event             `json:"events"`
}

// Diagnostics returns the cache, circuit and limiter state with the recent events.
func (h *SystemHandlers) Diagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, Diagnostics{
		Cache:     h.Store.Stats(),
		Circuits:  h.Breaker.Snapshot(),
		RateLimit: h.Limiter.Status(),
		Providers: h.Registry.Providers(),
		Events:    h.Recorder.Events(),
	})
}

// InvalidateCache removes every entry whose key contains the pattern query on every
// instance; an empty pattern clears the cache.
func (h *SystemHandlers) InvalidateCache(c *gin.Context) {
	pattern := c.Query("pattern")
	removed := h.Broadcaster.Invalidate(c.Request.Context(), pattern)

	c.JSON(http.StatusOK, objects.InvalidateResponse{Pattern: pattern, Removed: removed})
}

// ResetCircuit closes the circuit of a provider.
func (h *SystemHandlers) ResetCircuit(c *gin.Context) {
	h.Breaker.Reset(c.Request.Context(), c.Param("provider"))
	c.JSON(http.StatusOK, h.Breaker.Stats(c.Param("provider")))
}
