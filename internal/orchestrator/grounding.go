package orchestrator

import (
	"context"
	"regexp"

	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/log"
)

// IndeterminateMarker is what a model answers when it cannot decide without retrieval.
const IndeterminateMarker = "[INDETERMINATE]"

var (
	indeterminatePattern = regexp.MustCompile(`\[INDETERMINATE[^\]]*\]`)
	determinationPattern = regexp.MustCompile(`\[(CONSISTENT|INCONSISTENT)[^\]]*\]`)
)

const groundingInstruction = "\n\nThe previous answer was indeterminate. Use web search to consult current " +
	"guidelines and resolve it. Answer with exactly one determination in the form " +
	"[CONSISTENT: reason] or [INCONSISTENT: reason]."

// twoPhase answers without grounding first and, if the answer is indeterminate, retries once
// with grounding and splices the determination into the first answer.
func (r *taskRun) twoPhase(ctx context.Context) (Result, error) {
	first, err := r.retry(ctx, llm.ModeNormal, r.req)
	if err != nil {
		return first, err
	}

	marker := indeterminatePattern.FindStringIndex(first.Text)
	if marker == nil {
		return first, nil
	}

	data := events.Data{"task": r.task, "provider": r.cfg.Provider, "model": r.cfg.Model}

	if !r.caps.SupportsGrounding {
		events.Emit(ctx, r.o.sink, events.GroundingFallback, withData(data, "reason", "unsupported"))
		return first, nil
	}

	events.Emit(ctx, r.o.sink, events.GroundingRetry, data)

	amended := *r.req
	amended.Prompt = r.req.Prompt + groundingInstruction

	grounded, err := r.retry(ctx, llm.ModeGrounding, &amended)
	if err != nil {
		if llm.IsAborted(err) {
			return grounded, err
		}

		log.Warn(ctx, "grounded retry failed, keeping ungrounded answer",
			log.String("task", r.task),
			log.String("provider", r.cfg.Provider),
			log.Cause(err),
		)
		events.Emit(ctx, r.o.sink, events.GroundingFallback, withData(data, "reason", "error"))

		return first, nil
	}

	determination := determinationPattern.FindString(grounded.Text)
	if determination == "" {
		events.Emit(ctx, r.o.sink, events.GroundingFallback, withData(data, "reason", "indeterminate"))
		return first, nil
	}

	spliced := first
	spliced.Text = first.Text[:marker[0]] + determination + first.Text[marker[1]:]
	spliced.Sources = grounded.Sources

	events.Emit(ctx, r.o.sink, events.GroundingResolved, withData(data, "sources", len(grounded.Sources)))

	return spliced, nil
}
