package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/fx"

	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/objects"
	"github.com/looplj/reportflow/internal/orchestrator"
)

type TaskHandlersParams struct {
	fx.In

	Orchestrator *orchestrator.Orchestrator
}

type TaskHandlers struct {
	Orchestrator *orchestrator.Orchestrator
}

func NewTaskHandlers(params TaskHandlersParams) *TaskHandlers {
	return &TaskHandlers{
		Orchestrator: params.Orchestrator,
	}
}

type TaskInfo struct {
	Name      string          `json:"name"`
	Mode      llm.RequestMode `json:"mode"`
	Cacheable bool            `json:"cacheable"`
	TwoPhase  bool            `json:"two_phase,omitempty"`
	Model     string          `json:"model,omitempty"`
}

// ListTasks returns the task catalog with the model each task resolves to.
func (h *TaskHandlers) ListTasks(c *gin.Context) {
	settings := h.Orchestrator.Settings()

	tasks := lo.Map(orchestrator.TaskNames(), func(name string, _ int) TaskInfo {
		cfg, _ := orchestrator.LookupTask(name)
		info := TaskInfo{Name: name, Mode: cfg.Mode, Cacheable: cfg.Cacheable, TwoPhase: cfg.TwoPhase}

		if resolved, err := settings.Resolve(name); err == nil {
			info.Model = resolved.Provider + "/" + resolved.Model
		}

		return info
	})

	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// RunTask runs a single task. With stream set the response is a server sent event stream of
// chunk events followed by a result or error event.
func (h *TaskHandlers) RunTask(c *gin.Context) {
	ctx := c.Request.Context()
	task := c.Param("task")

	var req objects.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, err)
		return
	}

	in := orchestrator.Input{
		Prompt:            req.Prompt,
		SystemInstruction: req.SystemInstruction,
		SkipCache:         req.SkipCache,
	}

	if !req.Stream {
		result, err := h.Orchestrator.RunTask(ctx, task, in)
		if err != nil {
			JSONError(c, StatusOf(err), err)
			return
		}

		c.JSON(http.StatusOK, result)

		return
	}

	w := newSSEWriter(c)
	in.OnChunk = func(chunk string) {
		w.write("chunk", chunk)
	}

	result, err := h.Orchestrator.RunTask(ctx, task, in)
	if err != nil {
		log.Warn(ctx, "streamed task failed", log.String("task", task), log.Cause(err))
		w.error(StatusOf(err), err)

		return
	}

	w.write("result", result)
}
