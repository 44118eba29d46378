package orchestrator

import (
	"strings"

	"github.com/looplj/reportflow/internal/llm"
)

// Credential holds the access settings of one provider.
type Credential struct {
	APIKey  string `conf:"api_key" yaml:"-" json:"-"`
	BaseURL string `conf:"base_url" yaml:"base_url" json:"base_url,omitempty"`
}

// Settings selects the active provider and the model of every task.
type Settings struct {
	Active       string                `conf:"active" yaml:"active" json:"active"`
	DefaultModel string                `conf:"default_model" yaml:"default_model" json:"default_model"`
	Credentials  map[string]Credential `conf:"credentials" yaml:"credentials" json:"credentials"`

	// TaskModels maps task types to models. Keys are matched case insensitively.
	TaskModels map[string]string `conf:"task_models" yaml:"task_models" json:"task_models"`

	// Fallback is the ordered provider chain used by structured requests.
	Fallback []llm.ProviderConfig `conf:"fallback" yaml:"fallback" json:"fallback"`
}

// Resolve returns the provider configuration of task.
func (s Settings) Resolve(task string) (llm.ProviderConfig, error) {
	provider := strings.ToLower(strings.TrimSpace(s.Active))
	if provider == "" {
		return llm.ProviderConfig{}, &ConfigError{Task: task, Reason: "no active provider"}
	}

	model := s.modelFor(task)
	if model == "" {
		return llm.ProviderConfig{}, &ConfigError{Task: task, Reason: "no model assigned"}
	}

	cred := s.credential(provider)

	return llm.ProviderConfig{
		Provider: provider,
		Model:    model,
		APIKey:   cred.APIKey,
		BaseURL:  cred.BaseURL,
	}, nil
}

// FallbackChain returns the configured chain with credentials filled in from the provider
// credentials. Without a configured chain the active provider is used for the given task.
func (s Settings) FallbackChain(task string) ([]llm.ProviderConfig, error) {
	if len(s.Fallback) == 0 {
		cfg, err := s.Resolve(task)
		if err != nil {
			return nil, err
		}

		return []llm.ProviderConfig{cfg}, nil
	}

	chain := make([]llm.ProviderConfig, 0, len(s.Fallback))
	for _, cfg := range s.Fallback {
		cfg.Provider = strings.ToLower(cfg.Provider)
		if cfg.Model == "" {
			return nil, &ConfigError{Task: task, Reason: "fallback provider " + cfg.Provider + " has no model"}
		}

		cred := s.credential(cfg.Provider)
		if cfg.APIKey == "" {
			cfg.APIKey = cred.APIKey
		}

		if cfg.BaseURL == "" {
			cfg.BaseURL = cred.BaseURL
		}

		chain = append(chain, cfg)
	}

	return chain, nil
}

func (s Settings) modelFor(task string) string {
	for name, model := range s.TaskModels {
		if strings.EqualFold(name, task) && model != "" {
			return model
		}
	}

	return s.DefaultModel
}

func (s Settings) credential(provider string) Credential {
	for name, cred := range s.Credentials {
		if strings.EqualFold(name, provider) {
			return cred
		}
	}

	return Credential{}
}
