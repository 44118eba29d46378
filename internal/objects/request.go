package objects

import "encoding/json"

// TaskRequest is the body of POST /v1/tasks/:task.
type TaskRequest struct {
	Prompt            string `json:"prompt" binding:"required"`
	SystemInstruction string `json:"system,omitempty"`
	Stream            bool   `json:"stream,omitempty"`
	SkipCache         bool   `json:"skip_cache,omitempty"`
}

// RundownRequest is the body of POST /v1/rundown.
type RundownRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	Stream bool   `json:"stream,omitempty"`

	// Stage scopes supersession and aborts to one caller workflow, e.g. a session id.
	Stage string `json:"stage,omitempty"`
}

// StructuredRequest is the body of POST /v1/structured.
type StructuredRequest struct {
	Prompt            string          `json:"prompt" binding:"required"`
	SystemInstruction string          `json:"system,omitempty"`
	Schema            json.RawMessage `json:"schema,omitempty"`
	Temperature       *float64        `json:"temperature,omitempty"`

	// Task selects the per task fallback chain; defaults to the active provider chain.
	Task      string `json:"task,omitempty"`
	TTL       string `json:"ttl,omitempty"`
	SkipCache bool   `json:"skip_cache,omitempty"`
}

type InvalidateResponse struct {
	Pattern string `json:"pattern"`
	Removed int    `json:"removed"`
}
