// Package rundown generates the sections of a case rundown concurrently. Every section settles
// on its own; a failed section is reported inline instead of failing the batch.
package rundown

import (
	"context"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/orchestrator"
	"github.com/looplj/reportflow/internal/pkg/xcontext"
)

// Runner runs a single task.
type Runner interface {
	RunTask(ctx context.Context, task string, in orchestrator.Input) (*orchestrator.Result, error)
}

// Section is one part of a rundown.
type Section struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Task  string `json:"task"`
}

// DefaultSections are generated when no sections are given.
var DefaultSections = []Section{
	{Key: "differential", Title: "Differential diagnosis", Task: orchestrator.TaskRundownDifferential},
	{Key: "workup", Title: "Recommended workup", Task: orchestrator.TaskRundownWorkup},
	{Key: "pitfalls", Title: "Pitfalls", Task: orchestrator.TaskRundownPitfalls},
	{Key: "classification", Title: "Classification", Task: orchestrator.TaskRundownClassification},
}

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusAborted Status = "aborted"
)

// SectionResult is the settled state of a section. Failed sections carry "Error: ..." as
// their content.
type SectionResult struct {
	Section

	Status   Status        `json:"status"`
	Content  string        `json:"content"`
	Sources  []llm.Source  `json:"sources,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Rundown is the outcome of a batch, keyed by section key.
type Rundown struct {
	Stage      string                   `json:"stage"`
	Generation uint64                   `json:"generation"`
	Sections   map[string]SectionResult `json:"sections"`
}

// DefaultStage is the stage of callers that do not name one.
const DefaultStage = "default"

// Generator runs rundown batches. Each stage has its own controller, so a new batch only
// supersedes the previous batch of the same stage.
type Generator struct {
	runner   Runner
	sections []Section
	sink     events.Sink

	mu     sync.Mutex
	stages map[string]*stage
}

type stage struct {
	controller *xcontext.Controller
	users      int
}

type Option func(*Generator)

func WithSections(sections ...Section) Option {
	return func(g *Generator) {
		g.sections = sections
	}
}

func WithEventSink(sink events.Sink) Option {
	return func(g *Generator) {
		g.sink = sink
	}
}

func NewGenerator(runner Runner, opts ...Option) *Generator {
	g := &Generator{
		runner:   runner,
		sections: DefaultSections,
		stages:   make(map[string]*stage),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

func stageKey(name string) string {
	if name == "" {
		return DefaultStage
	}

	return name
}

// acquire returns the controller of a stage, kept alive until the matching release.
func (g *Generator) acquire(name string) *xcontext.Controller {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.stages[name]
	if !ok {
		st = &stage{controller: xcontext.NewController()}
		g.stages[name] = st
	}

	st.users++

	return st.controller
}

func (g *Generator) release(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.stages[name]
	if !ok {
		return
	}

	st.users--
	if st.users == 0 {
		delete(g.stages, name)
	}
}

// Abort cancels the batch in flight for the stage, if any.
func (g *Generator) Abort(name string) {
	g.mu.Lock()
	st, ok := g.stages[stageKey(name)]
	g.mu.Unlock()

	if ok {
		st.controller.Abort()
	}
}

// Generate runs every section concurrently and returns once all of them settled. Starting a
// new batch aborts the previous batch of the same stage. onUpdate, if set, observes each
// section as it settles and the map it sees only grows. The error is non nil only when the
// batch was aborted.
func (g *Generator) Generate(
	ctx context.Context,
	stageName string,
	prompt string,
	onUpdate func(section SectionResult, snapshot map[string]SectionResult),
) (*Rundown, error) {
	stageName = stageKey(stageName)

	controller := g.acquire(stageName)
	defer g.release(stageName)

	batchCtx, generation := controller.Begin(ctx)
	defer controller.End(batchCtx)

	var (
		mu      sync.Mutex
		results = make(map[string]SectionResult, len(g.sections))
	)

	for _, section := range g.sections {
		results[section.Key] = SectionResult{Section: section, Status: StatusPending}
	}

	events.Emit(ctx, g.sink, events.RundownStart, events.Data{
		"stage":      stageName,
		"sections":   len(g.sections),
		"generation": generation,
	})

	var group errgroup.Group

	for _, section := range g.sections {
		group.Go(func() error {
			settled := g.runSection(batchCtx, section, prompt)

			mu.Lock()
			results[section.Key] = settled
			snapshot := maps.Clone(results)
			mu.Unlock()

			events.Emit(ctx, g.sink, events.RundownSection, events.Data{
				"section":     section.Key,
				"task":        section.Task,
				"status":      string(settled.Status),
				"duration_ms": settled.Duration.Milliseconds(),
			})

			if onUpdate != nil {
				onUpdate(settled, snapshot)
			}

			return nil
		})
	}

	_ = group.Wait()

	rundown := &Rundown{Stage: stageName, Generation: generation, Sections: results}

	events.Emit(ctx, g.sink, events.RundownDone, events.Data{"generation": generation})

	if err := batchCtx.Err(); err != nil {
		log.Debug(ctx, "rundown aborted",
			log.String("stage", stageName),
			log.Any("generation", generation),
			log.Cause(context.Cause(batchCtx)),
		)

		return rundown, llm.Aborted(context.Cause(batchCtx))
	}

	return rundown, nil
}

func (g *Generator) runSection(ctx context.Context, section Section, prompt string) SectionResult {
	start := time.Now()
	settled := SectionResult{Section: section}

	result, err := g.runner.RunTask(ctx, section.Task, orchestrator.Input{Prompt: prompt})
	settled.Duration = time.Since(start)

	switch {
	case err == nil:
		settled.Status = StatusDone
		settled.Content = result.Text
		settled.Sources = result.Sources
	case llm.IsAborted(err):
		settled.Status = StatusAborted
		settled.Content = "Error: " + err.Error()
	default:
		log.Warn(ctx, "rundown section failed", log.String("section", section.Key), log.Cause(err))

		settled.Status = StatusFailed
		settled.Content = "Error: " + err.Error()
	}

	return settled
}
