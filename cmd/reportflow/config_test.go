package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/looplj/reportflow/conf"
	"github.com/looplj/reportflow/internal/cache"
	"github.com/looplj/reportflow/internal/llm"
	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/orchestrator"
	"github.com/looplj/reportflow/internal/ratelimit"
	"github.com/looplj/reportflow/internal/resilience"
	"github.com/looplj/reportflow/internal/server"
)

func validConfig() conf.Config {
	return conf.Config{
		APIServer:  server.Config{Port: 8090},
		Log:        log.DefaultConfig(),
		Cache:      cache.DefaultConfig(),
		RateLimit:  ratelimit.DefaultConfig(),
		Resilience: resilience.DefaultConfig(),
		Providers: orchestrator.Settings{
			Active:       "gemini",
			DefaultModel: "gemini-2.5-flash",
		},
	}
}

func TestValidateConfig(t *testing.T) {
	assert.Empty(t, validateConfig(validConfig()))

	cfg := validConfig()
	cfg.APIServer.Port = 0
	cfg.Providers.Active = "nope"
	cfg.Providers.Fallback = []llm.ProviderConfig{{Provider: "openrouter"}}
	cfg.Cache.Shared.Mode = "redis"

	errs := validateConfig(cfg)
	assert.Contains(t, errs, "server.port must be between 1 and 65535")
	assert.Contains(t, errs, "providers.fallback[0].model cannot be empty")
	assert.Contains(t, errs, "cache.shared.redis.addr or url is required for mode redis")
	assert.Len(t, errs, 4)

	cfg = validConfig()
	cfg.Providers.DefaultModel = ""
	cfg.Providers.TaskModels = map[string]string{orchestrator.TaskDraftReport: "gemini-2.5-pro"}
	assert.Len(t, validateConfig(cfg), len(orchestrator.TaskNames())-1)
}
