package llm

// RequestMode selects the transport method used for a task.
type RequestMode string

const (
	ModeNormal    RequestMode = "normal"
	ModeJSON      RequestMode = "json"
	ModeStream    RequestMode = "stream"
	ModeGrounding RequestMode = "grounding"
	ModeImage     RequestMode = "image"
)

// Request is the provider independent input of every transport call.
type Request struct {
	Model             string   `json:"model"`
	Prompt            string   `json:"prompt"`
	SystemInstruction string   `json:"system_instruction,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
}

// Source is a retrieval reference returned by a grounded generation.
type Source struct {
	Title string `json:"title,omitempty"`
	URI   string `json:"uri"`
}

// GroundedResult is the answer of a grounded generation.
type GroundedResult struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// Image references a generated image, either hosted or inline.
type Image struct {
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
}

// Capabilities describes what a provider transport supports.
type Capabilities struct {
	SupportsGrounding bool `json:"supports_grounding"`
	SupportsImageGen  bool `json:"supports_image_gen"`
	SupportsJSONMode  bool `json:"supports_json_mode"`
}

// Supports reports whether the transport can serve the mode natively.
func (c Capabilities) Supports(mode RequestMode) bool {
	switch mode {
	case ModeGrounding:
		return c.SupportsGrounding
	case ModeImage:
		return c.SupportsImageGen
	default:
		return true
	}
}

// ProviderConfig identifies a provider, the model to use and its credentials.
type ProviderConfig struct {
	Provider string `conf:"provider" yaml:"provider" json:"provider"`
	Model    string `conf:"model" yaml:"model" json:"model"`
	APIKey   string `conf:"api_key" yaml:"-" json:"-"`
	BaseURL  string `conf:"base_url" yaml:"base_url" json:"base_url,omitempty"`
}
