package orchestrator

import (
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/looplj/reportflow/internal/cache"
	"github.com/looplj/reportflow/internal/llm"
)

const (
	TaskCategorizeInput       = "categorizeInput"
	TaskDraftReport           = "draftReport"
	TaskRefineReport          = "refineReport"
	TaskGenerateImpression    = "generateImpression"
	TaskFinalReview           = "finalReview"
	TaskGetAppropriateness    = "getAppropriateness"
	TaskGetGuidance           = "getGuidance"
	TaskSearchGuidelines      = "searchGuidelines"
	TaskIllustrateFindings    = "illustrateFindings"
	TaskRundownDifferential   = "rundownDifferential"
	TaskRundownWorkup         = "rundownWorkup"
	TaskRundownPitfalls       = "rundownPitfalls"
	TaskRundownClassification = "rundownClassification"
)

// TaskConfig is the static configuration of a task type.
type TaskConfig struct {
	Mode        llm.RequestMode
	Schema      *llm.Schema
	Temperature *float64
	Cacheable   bool
	TTL         cache.TTLPreset

	// TwoPhase tasks run ungrounded first and retry with grounding when the answer is
	// indeterminate.
	TwoPhase bool

	// SystemInstruction is used when the caller provides none.
	SystemInstruction string
}

var categorizeSchema = llm.MustSchema(`{
	"type": "object",
	"properties": {
		"findings": {"type": "string"},
		"history": {"type": "string"},
		"indication": {"type": "string"},
		"modality": {"type": "string"}
	},
	"required": ["findings", "history", "indication", "modality"]
}`)

var reviewSchema = llm.MustSchema(`{
	"type": "object",
	"properties": {
		"issues": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"severity": {"type": "string", "enum": ["critical", "major", "minor"]},
					"description": {"type": "string"},
					"suggestion": {"type": "string"}
				},
				"required": ["severity", "description"]
			}
		},
		"summary": {"type": "string"},
		"score": {"type": "integer", "minimum": 0, "maximum": 10}
	},
	"required": ["issues", "summary", "score"]
}`)

var tasks = map[string]TaskConfig{
	TaskCategorizeInput: {
		Mode:              llm.ModeJSON,
		Schema:            categorizeSchema,
		Temperature:       lo.ToPtr(0.1),
		Cacheable:         true,
		TTL:               cache.TTLMedium,
		SystemInstruction: "Split the clinical input into findings, history, indication and modality.",
	},
	TaskDraftReport: {
		Mode:              llm.ModeStream,
		Temperature:       lo.ToPtr(0.3),
		SystemInstruction: "Draft a structured radiology report from the categorized input.",
	},
	TaskRefineReport: {
		Mode:        llm.ModeNormal,
		Temperature: lo.ToPtr(0.3),
		Cacheable:   true,
		TTL:         cache.TTLShort,
	},
	TaskGenerateImpression: {
		Mode:        llm.ModeNormal,
		Temperature: lo.ToPtr(0.2),
		Cacheable:   true,
		TTL:         cache.TTLShort,
	},
	TaskFinalReview: {
		Mode:        llm.ModeJSON,
		Schema:      reviewSchema,
		Temperature: lo.ToPtr(0.0),
		Cacheable:   true,
		TTL:         cache.TTLShort,
	},
	TaskGetAppropriateness: {
		Mode:        llm.ModeNormal,
		Temperature: lo.ToPtr(0.0),
		Cacheable:   true,
		TTL:         cache.TTLMedium,
		TwoPhase:    true,
		SystemInstruction: "Judge whether the requested study is appropriate for the indication. " +
			"Answer with [CONSISTENT: reason] or [INCONSISTENT: reason], or [INDETERMINATE] when unsure.",
	},
	TaskGetGuidance: {
		Mode:        llm.ModeNormal,
		Temperature: lo.ToPtr(0.0),
		Cacheable:   true,
		TTL:         cache.TTLLong,
		TwoPhase:    true,
	},
	TaskSearchGuidelines: {
		Mode:      llm.ModeGrounding,
		Cacheable: true,
		TTL:       cache.TTLLong,
	},
	TaskIllustrateFindings: {
		Mode: llm.ModeImage,
	},
	TaskRundownDifferential:   rundownTask("List the differential diagnosis, most likely first."),
	TaskRundownWorkup:         rundownTask("Recommend the next imaging or laboratory workup."),
	TaskRundownPitfalls:       rundownTask("List the common interpretive pitfalls and mimics."),
	TaskRundownClassification: rundownTask("Give the applicable classification or grading system."),
}

func rundownTask(instruction string) TaskConfig {
	return TaskConfig{
		Mode:              llm.ModeNormal,
		Temperature:       lo.ToPtr(0.2),
		Cacheable:         true,
		TTL:               cache.TTLLong,
		SystemInstruction: instruction,
	}
}

var taskNamesByLower = lo.SliceToMap(lo.Keys(tasks), func(name string) (string, string) {
	return strings.ToLower(name), name
})

// TaskName returns the catalog spelling of a task type. Names are case insensitive.
func TaskName(name string) (string, bool) {
	canonical, ok := taskNamesByLower[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// LookupTask returns the configuration of a task type. Names are case insensitive.
func LookupTask(name string) (TaskConfig, bool) {
	canonical, ok := TaskName(name)
	if !ok {
		return TaskConfig{}, false
	}

	return tasks[canonical], true
}

// TaskNames returns the known task types, sorted.
func TaskNames() []string {
	names := lo.Keys(tasks)
	slices.Sort(names)

	return names
}
