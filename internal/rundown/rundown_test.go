package rundown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/orchestrator"
	"github.com/looplj/reportflow/internal/pkg/xcontext"
)

type runnerFunc func(ctx context.Context, task string, in orchestrator.Input) (*orchestrator.Result, error)

func (f runnerFunc) RunTask(ctx context.Context, task string, in orchestrator.Input) (*orchestrator.Result, error) {
	return f(ctx, task, in)
}

func TestGenerate_SettlesEverySection(t *testing.T) {
	recorder := events.NewRecorder(0)

	runner := runnerFunc(func(_ context.Context, task string, in orchestrator.Input) (*orchestrator.Result, error) {
		if task == orchestrator.TaskRundownPitfalls {
			return nil, &orchestrator.TaskError{Task: task, Provider: "p", Model: "m", Err: errors.New("boom")}
		}

		return &orchestrator.Result{Text: task + ": " + in.Prompt}, nil
	})

	var (
		mu      sync.Mutex
		updates []string
		sizes   []int
	)

	generator := NewGenerator(runner, WithEventSink(recorder))

	rundown, err := generator.Generate(context.Background(), "", "liver lesion", func(section SectionResult, snapshot map[string]SectionResult) {
		mu.Lock()
		defer mu.Unlock()

		updates = append(updates, section.Key)

		settled := 0
		for _, s := range snapshot {
			if s.Status != StatusPending {
				settled++
			}
		}

		sizes = append(sizes, settled)
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, rundown.Generation)
	require.Len(t, rundown.Sections, len(DefaultSections))

	require.ElementsMatch(t, []string{"differential", "workup", "pitfalls", "classification"}, updates)
	require.ElementsMatch(t, []int{1, 2, 3, 4}, sizes)

	differential := rundown.Sections["differential"]
	require.Equal(t, StatusDone, differential.Status)
	require.Equal(t, orchestrator.TaskRundownDifferential+": liver lesion", differential.Content)

	pitfalls := rundown.Sections["pitfalls"]
	require.Equal(t, StatusFailed, pitfalls.Status)
	require.Contains(t, pitfalls.Content, "Error: ")
	require.Contains(t, pitfalls.Content, "boom")

	require.Equal(t, 4, recorder.Count(events.RundownSection))
	require.Equal(t, 1, recorder.Count(events.RundownDone))
}

func TestGenerate_RunsConcurrently(t *testing.T) {
	var (
		mu      sync.Mutex
		started int
		release = make(chan struct{})
	)

	runner := runnerFunc(func(ctx context.Context, task string, _ orchestrator.Input) (*orchestrator.Result, error) {
		mu.Lock()
		started++
		if started == len(DefaultSections) {
			close(release)
		}
		mu.Unlock()

		select {
		case <-release:
			return &orchestrator.Result{Text: task}, nil
		case <-time.After(5 * time.Second):
			return nil, errors.New("sections did not run concurrently")
		}
	})

	rundown, err := NewGenerator(runner).Generate(context.Background(), "", "x", nil)
	require.NoError(t, err)

	for _, section := range rundown.Sections {
		assert.Equal(t, StatusDone, section.Status, section.Key)
	}
}

func TestGenerate_NewBatchAbortsPrevious(t *testing.T) {
	firstStarted := make(chan struct{})

	var once sync.Once

	runner := runnerFunc(func(ctx context.Context, task string, in orchestrator.Input) (*orchestrator.Result, error) {
		if in.Prompt == "second" {
			return &orchestrator.Result{Text: "ok"}, nil
		}

		once.Do(func() { close(firstStarted) })
		<-ctx.Done()

		return nil, llm.Aborted(ctx.Err())
	})

	generator := NewGenerator(runner, WithSections(Section{Key: "only", Task: orchestrator.TaskRundownWorkup}))

	type outcome struct {
		rundown *Rundown
		err     error
	}

	done := make(chan outcome, 1)

	go func() {
		rundown, err := generator.Generate(context.Background(), "", "first", nil)
		done <- outcome{rundown, err}
	}()

	<-firstStarted

	second, err := generator.Generate(context.Background(), "", "second", nil)
	require.NoError(t, err)
	require.Equal(t, StatusDone, second.Sections["only"].Status)

	first := <-done
	require.ErrorIs(t, first.err, llm.ErrAborted)
	require.ErrorIs(t, first.err, xcontext.ErrSuperseded)
	require.Equal(t, StatusAborted, first.rundown.Sections["only"].Status)
}

func TestGenerator_Abort(t *testing.T) {
	started := make(chan struct{})

	runner := runnerFunc(func(ctx context.Context, _ string, _ orchestrator.Input) (*orchestrator.Result, error) {
		close(started)
		<-ctx.Done()

		return nil, llm.Aborted(ctx.Err())
	})

	generator := NewGenerator(runner, WithSections(Section{Key: "only", Task: orchestrator.TaskRundownWorkup}))

	go func() {
		<-started
		generator.Abort("")
	}()

	rundown, err := generator.Generate(context.Background(), "", "x", nil)
	require.ErrorIs(t, err, xcontext.ErrStopped)
	require.Equal(t, StatusAborted, rundown.Sections["only"].Status)
}

func TestGenerate_StagesAreIndependent(t *testing.T) {
	started := make(chan string, 2)
	release := make(chan struct{})

	runner := runnerFunc(func(ctx context.Context, _ string, in orchestrator.Input) (*orchestrator.Result, error) {
		started <- in.Prompt

		select {
		case <-release:
			return &orchestrator.Result{Text: in.Prompt}, nil
		case <-ctx.Done():
			return nil, llm.Aborted(context.Cause(ctx))
		}
	})

	generator := NewGenerator(runner, WithSections(Section{Key: "only", Task: orchestrator.TaskRundownWorkup}))

	type outcome struct {
		rundown *Rundown
		err     error
	}

	run := func(stage, prompt string) <-chan outcome {
		done := make(chan outcome, 1)

		go func() {
			rundown, err := generator.Generate(context.Background(), stage, prompt, nil)
			done <- outcome{rundown, err}
		}()

		return done
	}

	a := run("client-a", "a")
	b := run("client-b", "b")
	c := run("client-c", "c")

	for range 3 {
		<-started
	}

	generator.Abort("client-c")

	resC := <-c
	require.ErrorIs(t, resC.err, xcontext.ErrStopped)

	close(release)

	resA, resB := <-a, <-b
	require.NoError(t, resA.err)
	require.NoError(t, resB.err)
	assert.Equal(t, "a", resA.rundown.Sections["only"].Content)
	assert.Equal(t, "client-a", resA.rundown.Stage)
	assert.Equal(t, "b", resB.rundown.Sections["only"].Content)
	assert.EqualValues(t, 1, resB.rundown.Generation)

	generator.mu.Lock()
	defer generator.mu.Unlock()
	assert.Empty(t, generator.stages)
}
