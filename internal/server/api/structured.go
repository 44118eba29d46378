package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/looplj/reportflow/internal/gateway"
	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/objects"
	"github.com/looplj/reportflow/internal/orchestrator"
)

// structuredChainTask is the task name used to resolve the default chain.
const structuredChainTask = "structured"

type StructuredHandlersParams struct {
	fx.In

	Gateway      *gateway.Gateway
	Orchestrator *orchestrator.Orchestrator
}

type StructuredHandlers struct {
	Gateway      *gateway.Gateway
	Orchestrator *orchestrator.Orchestrator
}

func NewStructuredHandlers(params StructuredHandlersParams) *StructuredHandlers {
	return &StructuredHandlers{
		Gateway:      params.Gateway,
		Orchestrator: params.Orchestrator,
	}
}

// Generate runs a structured generation over the configured fallback chain.
func (h *StructuredHandlers) Generate(c *gin.Context) {
	ctx := c.Request.Context()

	var req objects.StructuredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, err)
		return
	}

	jsonReq, err := toJSONRequest(req)
	if err != nil {
		JSONError(c, http.StatusBadRequest, err)
		return
	}

	task := req.Task
	if task == "" {
		task = structuredChainTask
	}

	chain, err := h.Orchestrator.Settings().FallbackChain(task)
	if err != nil {
		JSONError(c, StatusOf(err), err)
		return
	}

	result, err := h.Gateway.ExecuteJSON(ctx, chain, jsonReq)
	if err != nil {
		JSONError(c, StatusOf(err), err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func toJSONRequest(req objects.StructuredRequest) (gateway.JSONRequest, error) {
	jsonReq := gateway.JSONRequest{
		Prompt:            req.Prompt,
		SystemInstruction: req.SystemInstruction,
		Temperature:       req.Temperature,
		SkipCache:         req.SkipCache,
	}

	if len(req.Schema) > 0 {
		schema, err := llm.NewSchema(req.Schema)
		if err != nil {
			return jsonReq, fmt.Errorf("invalid schema: %w", err)
		}

		jsonReq.Schema = schema
	}

	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil {
			return jsonReq, fmt.Errorf("invalid ttl: %w", err)
		}

		jsonReq.TTL = ttl
	}

	return jsonReq, nil
}
