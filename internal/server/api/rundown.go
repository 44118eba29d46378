package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/looplj/reportflow/internal/objects"
	"github.com/looplj/reportflow/internal/rundown"
)

type RundownHandlersParams struct {
	fx.In

	Generator *rundown.Generator
}

type RundownHandlers struct {
	Generator *rundown.Generator
}

func NewRundownHandlers(params RundownHandlersParams) *RundownHandlers {
	return &RundownHandlers{
		Generator: params.Generator,
	}
}

// Generate runs every rundown section. A newer request for the same stage aborts the one in
// flight, which then answers with the sections settled so far and an aborted status.
func (h *RundownHandlers) Generate(c *gin.Context) {
	ctx := c.Request.Context()

	var req objects.RundownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, err)
		return
	}

	if !req.Stream {
		result, err := h.Generator.Generate(ctx, req.Stage, req.Prompt, nil)
		if err != nil {
			_ = c.Error(err)
			c.JSON(StatusOf(err), gin.H{
				"error":   errorResponse(StatusOf(err), err).Error,
				"rundown": result,
			})

			return
		}

		c.JSON(http.StatusOK, result)

		return
	}

	w := newSSEWriter(c)

	result, err := h.Generator.Generate(ctx, req.Stage, req.Prompt, func(section rundown.SectionResult, _ map[string]rundown.SectionResult) {
		w.write("section", section)
	})
	if err != nil {
		w.error(StatusOf(err), err)
		return
	}

	w.write("result", result)
}

// Abort cancels the rundown in flight for the stage query parameter.
func (h *RundownHandlers) Abort(c *gin.Context) {
	h.Generator.Abort(c.Query("stage"))
	c.Status(http.StatusNoContent)
}
