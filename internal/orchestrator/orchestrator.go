// Package orchestrator runs logical report tasks against the configured provider with caching,
// retries and circuit breaking.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/looplj/reportflow/internal/cache"
	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/resilience"
)

// TransportSource resolves the transport of a provider configuration.
type TransportSource interface {
	Transport(cfg llm.ProviderConfig) (llm.Transport, error)
}

// Input is the caller side of a task invocation.
type Input struct {
	Prompt string

	// SystemInstruction overrides the task default when set.
	SystemInstruction string

	// OnChunk receives every streamed chunk, in order.
	OnChunk func(chunk string)

	// SkipCache forces a fresh call; the result still refreshes the cache.
	SkipCache bool
}

// Result is the outcome of a task. Which fields are set depends on the task mode.
type Result struct {
	Task     string          `json:"task"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Text     string          `json:"text,omitempty"`
	JSON     json.RawMessage `json:"json,omitempty"`
	Sources  []llm.Source    `json:"sources,omitempty"`
	Image    *llm.Image      `json:"image,omitempty"`
}

type Orchestrator struct {
	mu       sync.RWMutex
	settings Settings

	transports TransportSource
	engine     *resilience.Engine
	store      *cache.Store[Result]
	ttl        cache.TTLConfig
	sink       events.Sink
}

type Option func(*Orchestrator)

func WithEventSink(sink events.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

func WithTTLConfig(ttl cache.TTLConfig) Option {
	return func(o *Orchestrator) {
		o.ttl = ttl
	}
}

func New(
	settings Settings,
	transports TransportSource,
	engine *resilience.Engine,
	store *cache.Store[Result],
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		settings:   settings,
		transports: transports,
		engine:     engine,
		store:      store,
		ttl:        cache.DefaultTTLConfig(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (o *Orchestrator) Settings() Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.settings
}

// UpdateSettings replaces the settings used by subsequent tasks.
func (o *Orchestrator) UpdateSettings(settings Settings) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.settings = settings
}

func (o *Orchestrator) Engine() *resilience.Engine {
	return o.engine
}

func (o *Orchestrator) Store() *cache.Store[Result] {
	return o.store
}

func (o *Orchestrator) Transports() TransportSource {
	return o.transports
}

// RunTask runs task with the active provider. Failures are returned as *ConfigError or
// *TaskError, except aborts which are returned as is.
func (o *Orchestrator) RunTask(ctx context.Context, task string, in Input) (*Result, error) {
	if name, ok := TaskName(task); ok {
		task = name
	}

	cfg, err := o.Settings().Resolve(task)
	if err != nil {
		log.Warn(ctx, "task not configured", log.String("task", task), log.Cause(err))
		return nil, err
	}

	if err := llm.AbortedFromContext(ctx); err != nil {
		return nil, err
	}

	taskCfg, ok := LookupTask(task)
	if !ok {
		return nil, &ConfigError{Task: task, Reason: "unknown task"}
	}

	transport, err := o.transports.Transport(cfg)
	if err != nil {
		return nil, &ConfigError{Task: task, Reason: "provider unavailable", Err: err}
	}

	fields := events.Data{"task": task, "provider": cfg.Provider, "model": cfg.Model}
	events.Emit(ctx, o.sink, events.TaskStart, fields)

	log.Debug(ctx, "task started",
		log.String("task", task),
		log.String("provider", cfg.Provider),
		log.String("model", cfg.Model),
	)

	start := time.Now()
	run := &taskRun{
		o:         o,
		task:      task,
		cfg:       cfg,
		taskCfg:   taskCfg,
		transport: transport,
		caps:      transport.Capabilities(),
		req:       o.request(cfg, taskCfg, in),
		in:        in,
	}

	result, err := run.execute(ctx)
	elapsed := time.Since(start)

	if err != nil {
		if llm.IsAborted(err) {
			events.Emit(ctx, o.sink, events.TaskAborted, withData(fields, "duration_ms", elapsed.Milliseconds()))
			log.Debug(ctx, "task aborted", log.String("task", task), log.String("provider", cfg.Provider))

			return nil, err
		}

		events.Emit(ctx, o.sink, events.TaskFailure, withData(withData(fields,
			"duration_ms", elapsed.Milliseconds()),
			"error", err.Error()),
		)
		log.Error(ctx, "task failed",
			log.String("task", task),
			log.String("provider", cfg.Provider),
			log.String("model", cfg.Model),
			log.Duration("elapsed", elapsed),
			log.Cause(err),
		)

		return nil, &TaskError{Task: task, Provider: cfg.Provider, Model: cfg.Model, Err: err}
	}

	events.Emit(ctx, o.sink, events.TaskSuccess, withData(fields, "duration_ms", elapsed.Milliseconds()))
	log.Info(ctx, "task succeeded",
		log.String("task", task),
		log.String("provider", cfg.Provider),
		log.String("model", cfg.Model),
		log.Duration("elapsed", elapsed),
	)

	return result, nil
}

// RunJSON runs a JSON mode task and decodes its document into T.
func RunJSON[T any](ctx context.Context, o *Orchestrator, task string, in Input) (T, error) {
	var zero T

	result, err := o.RunTask(ctx, task, in)
	if err != nil {
		return zero, err
	}

	if len(result.JSON) == 0 {
		return zero, &TaskError{
			Task:     task,
			Provider: result.Provider,
			Model:    result.Model,
			Err:      fmt.Errorf("task did not produce a JSON document"),
		}
	}

	var value T
	if err := json.Unmarshal(result.JSON, &value); err != nil {
		return zero, &TaskError{
			Task:     task,
			Provider: result.Provider,
			Model:    result.Model,
			Err:      &llm.ParseError{Provider: result.Provider, Reason: "decode result", Err: err},
		}
	}

	return value, nil
}

// CacheKey is the key a cacheable task result is stored under.
func CacheKey(task string, cfg llm.ProviderConfig, req *llm.Request) string {
	return cache.Key(task, cfg.Provider, cfg.Model, req.SystemInstruction, req.Prompt)
}

func (o *Orchestrator) request(cfg llm.ProviderConfig, taskCfg TaskConfig, in Input) *llm.Request {
	system := in.SystemInstruction
	if strings.TrimSpace(system) == "" {
		system = taskCfg.SystemInstruction
	}

	return &llm.Request{
		Model:             cfg.Model,
		Prompt:            in.Prompt,
		SystemInstruction: system,
		Temperature:       taskCfg.Temperature,
	}
}

type taskRun struct {
	o         *Orchestrator
	task      string
	cfg       llm.ProviderConfig
	taskCfg   TaskConfig
	transport llm.Transport
	caps      llm.Capabilities
	req       *llm.Request
	in        Input
}

func (r *taskRun) execute(ctx context.Context) (*Result, error) {
	produce := r.call
	if r.taskCfg.TwoPhase {
		produce = r.twoPhase
	}

	if !r.taskCfg.Cacheable || r.taskCfg.Mode == llm.ModeStream || r.o.store == nil {
		result, err := produce(ctx)
		if err != nil {
			return nil, err
		}

		return &result, nil
	}

	result, err := r.o.store.WithCache(ctx, CacheKey(r.task, r.cfg, r.req), produce, cache.CallOptions{
		TTL:     r.o.ttl.Duration(r.taskCfg.TTL),
		Refresh: r.in.SkipCache,
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// call dispatches the task mode to the transport behind the retry engine.
func (r *taskRun) call(ctx context.Context) (Result, error) {
	return r.retry(ctx, r.taskCfg.Mode, r.req)
}

func (r *taskRun) retry(ctx context.Context, mode llm.RequestMode, req *llm.Request) (Result, error) {
	return resilience.RetryWithBackoff(ctx, r.o.engine, r.cfg.Provider, func(ctx context.Context) (Result, error) {
		return r.dispatch(ctx, mode, req)
	})
}

func (r *taskRun) dispatch(ctx context.Context, mode llm.RequestMode, req *llm.Request) (Result, error) {
	result := Result{Task: r.task, Provider: r.cfg.Provider, Model: r.cfg.Model}

	if !r.caps.Supports(mode) {
		return result, &llm.CapabilityError{Provider: r.cfg.Provider, Capability: string(mode)}
	}

	switch mode {
	case llm.ModeJSON:
		doc, err := r.transport.GenerateJSON(ctx, req, r.taskCfg.Schema)
		if err != nil {
			return result, err
		}

		result.JSON = doc
	case llm.ModeStream:
		text, err := r.stream(ctx, req)
		if err != nil {
			return result, err
		}

		result.Text = text
	case llm.ModeGrounding:
		grounded, err := r.transport.GenerateWithGrounding(ctx, req)
		if err != nil {
			return result, err
		}

		result.Text = grounded.Text
		result.Sources = grounded.Sources
	case llm.ModeImage:
		image, err := r.transport.GenerateImage(ctx, req)
		if err != nil {
			return result, err
		}

		result.Image = image
	default:
		text, err := r.transport.Generate(ctx, req)
		if err != nil {
			return result, err
		}

		result.Text = text
	}

	return result, nil
}

func (r *taskRun) stream(ctx context.Context, req *llm.Request) (string, error) {
	stream, err := r.transport.GenerateStream(ctx, req)
	if err != nil {
		return "", err
	}

	defer func() {
		if err := stream.Close(); err != nil {
			log.Debug(ctx, "close stream", log.String("task", r.task), log.Cause(err))
		}
	}()

	var (
		sb        strings.Builder
		delivered int
	)

	for stream.Next() {
		if err := llm.AbortedFromContext(ctx); err != nil {
			return "", err
		}

		chunk := stream.Current()
		sb.WriteString(chunk)

		if r.in.OnChunk != nil {
			r.in.OnChunk(chunk)
			delivered++
		}
	}

	if err := stream.Err(); err != nil {
		if delivered > 0 && !llm.IsAborted(err) {
			return "", &llm.PartialStreamError{Provider: r.cfg.Provider, Delivered: delivered, Err: err}
		}

		return "", err
	}

	if err := llm.AbortedFromContext(ctx); err != nil {
		return "", err
	}

	return sb.String(), nil
}

func withData(data events.Data, key string, value any) events.Data {
	out := make(events.Data, len(data)+1)
	maps.Copy(out, data)
	out[key] = value

	return out
}
