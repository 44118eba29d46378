package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hokaccha/go-prettyjson"
	"github.com/samber/lo"
	"go.uber.org/fx"

	"github.com/looplj/reportflow/conf"
	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/orchestrator"
	"github.com/looplj/reportflow/internal/server/dependencies"
)

func handleRunCommand(args []string) {
	skipCache := false
	args = lo.Filter(args, func(arg string, _ int) bool {
		if arg == "--skip-cache" {
			skipCache = true
			return false
		}

		return true
	})

	if len(args) < 2 {
		fmt.Println("Usage: reportflow run <task> <prompt|->")
		fmt.Println("")
		fmt.Println("Tasks:")

		for _, name := range orchestrator.TaskNames() {
			fmt.Println("  " + name)
		}

		os.Exit(1)
	}

	task := args[0]

	prompt := strings.Join(args[1:], " ")
	if prompt == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read prompt: %v\n", err)
			os.Exit(1)
		}

		prompt = string(b)
	}

	if err := runTask(task, prompt, skipCache, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runTask(task, prompt string, skipCache bool, out io.Writer) error {
	var orch *orchestrator.Orchestrator

	app := fx.New(
		fx.NopLogger,
		fx.Provide(conf.Load),
		dependencies.Module,
		fx.Populate(&orch),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		_ = app.Stop(stopCtx)
	}()

	streamed := false

	result, err := orch.RunTask(ctx, task, orchestrator.Input{
		Prompt:    prompt,
		SkipCache: skipCache,
		OnChunk: func(chunk string) {
			streamed = true
			_, _ = fmt.Fprint(out, chunk)
		},
	})
	if err != nil {
		if llm.IsAborted(err) {
			return fmt.Errorf("aborted: %w", err)
		}

		return err
	}

	if streamed {
		_, _ = fmt.Fprintln(out)
		return nil
	}

	return printResult(out, result)
}

func printResult(out io.Writer, result *orchestrator.Result) error {
	switch {
	case len(result.JSON) > 0:
		b, err := prettyjson.Format(result.JSON)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintln(out, string(b))
	case result.Image != nil:
		if result.Image.URL != "" {
			_, _ = fmt.Fprintln(out, result.Image.URL)
		} else {
			_, _ = fmt.Fprintf(out, "data:%s;base64,%s\n", result.Image.MimeType, result.Image.Data)
		}
	default:
		_, _ = fmt.Fprintln(out, result.Text)
	}

	if len(result.Sources) > 0 {
		_, _ = fmt.Fprintln(out, "\nSources:")

		for _, source := range result.Sources {
			_, _ = fmt.Fprintf(out, "  - %s (%s)\n", source.Title, source.URI)
		}
	}

	return nil
}
