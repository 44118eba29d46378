package main

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/andreazorzetto/yh/highlight"
	"github.com/hokaccha/go-prettyjson"
	"gopkg.in/yaml.v3"

	"github.com/looplj/reportflow/conf"
	"github.com/looplj/reportflow/internal/llm/provider/gemini"
	"github.com/looplj/reportflow/internal/llm/provider/openai"
	"github.com/looplj/reportflow/internal/metrics"
	"github.com/looplj/reportflow/internal/orchestrator"
	"github.com/looplj/reportflow/internal/pkg/xcache"
)

func handleConfigCommand() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: reportflow config <preview|validate|get>")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "preview":
		configPreview()
	case "validate":
		configValidate()
	case "get":
		configGet()
	default:
		fmt.Println("Usage: reportflow config <preview|validate|get>")
		os.Exit(1)
	}
}

func configPreview() {
	format := "yml"

	for i := 3; i < len(os.Args); i++ {
		if os.Args[i] == "--format" || os.Args[i] == "-f" {
			if i+1 < len(os.Args) {
				format = os.Args[i+1]
			}
		}
	}

	config, err := conf.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var output string

	switch format {
	case "json":
		b, err := prettyjson.Marshal(config)
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}

		output = string(b)
	case "yml", "yaml":
		b, err := yaml.Marshal(config)
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}

		output, err = highlight.Highlight(bytes.NewBuffer(b))
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Unsupported format: %s\n", format)
		os.Exit(1)
	}

	fmt.Println(output)
}

func configValidate() {
	config, err := conf.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	errors := validateConfig(config)

	if len(errors) == 0 {
		fmt.Println("Configuration is valid!")
		return
	}

	fmt.Println("Configuration validation failed:")

	for _, err := range errors {
		fmt.Printf("  - %s\n", err)
	}

	os.Exit(1)
}

var knownProviders = []string{
	gemini.ProviderGemini,
	openai.ProviderOpenAI,
	openai.ProviderOpenRouter,
	openai.ProviderDeepSeek,
}

func validateConfig(config conf.Config) []string {
	var errors []string

	if config.APIServer.Port <= 0 || config.APIServer.Port > 65535 {
		errors = append(errors, "server.port must be between 1 and 65535")
	}

	if config.Log.Name == "" {
		errors = append(errors, "log.name cannot be empty")
	}

	if config.APIServer.CORS.Enabled && len(config.APIServer.CORS.AllowedOrigins) == 0 {
		errors = append(errors, "server.cors.allowed_origins cannot be empty when CORS is enabled")
	}

	if config.Cache.MaxSize <= 0 {
		errors = append(errors, "cache.max_size must be positive")
	}

	switch config.Cache.Shared.Mode {
	case "", xcache.ModeMemory:
	case xcache.ModeRedis, xcache.ModeTwoLevel:
		if !config.Cache.Shared.Redis.Enabled() {
			errors = append(errors, "cache.shared.redis.addr or url is required for mode "+config.Cache.Shared.Mode)
		}
	default:
		errors = append(errors, "cache.shared.mode must be one of memory, redis, two-level")
	}

	if config.RateLimit.MaxConcurrent <= 0 || config.RateLimit.MaxPerMinute <= 0 {
		errors = append(errors, "rate_limit.max_concurrent and rate_limit.max_per_minute must be positive")
	}

	if config.Resilience.Breaker.Threshold <= 0 {
		errors = append(errors, "resilience.breaker.threshold must be positive")
	}

	errors = append(errors, validateProviders(config.Providers)...)

	if config.Metrics.Enabled {
		switch config.Metrics.Exporter.Type {
		case metrics.ExporterStdout, metrics.ExporterOTLPHTTP:
		default:
			errors = append(errors, "metrics.exporter.type must be stdout or otlphttp")
		}
	}

	return errors
}

func validateProviders(settings orchestrator.Settings) []string {
	var errors []string

	if !slices.Contains(knownProviders, strings.ToLower(strings.TrimSpace(settings.Active))) {
		errors = append(errors, fmt.Sprintf("providers.active must be one of %v", knownProviders))
	}

	for _, task := range orchestrator.TaskNames() {
		if _, err := settings.Resolve(task); err != nil {
			errors = append(errors, err.Error())
		}
	}

	for i, cfg := range settings.Fallback {
		if !slices.Contains(knownProviders, strings.ToLower(cfg.Provider)) {
			errors = append(errors, fmt.Sprintf("providers.fallback[%d].provider %q is unknown", i, cfg.Provider))
		}

		if cfg.Model == "" {
			errors = append(errors, fmt.Sprintf("providers.fallback[%d].model cannot be empty", i))
		}
	}

	return errors
}

func configGet() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: reportflow config get <key>")
		fmt.Println("")
		fmt.Println("Available keys:")
		fmt.Println("  server.port              Server port number")
		fmt.Println("  server.name              Server name")
		fmt.Println("  providers.active         Active provider")
		fmt.Println("  providers.default_model  Default model")
		fmt.Println("  cache.max_size           Result cache capacity")
		fmt.Println("  cache.shared.mode        Shared cache tier mode")
		os.Exit(1)
	}

	key := os.Args[3]

	config, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var value any

	switch key {
	case "server.port":
		value = config.APIServer.Port
	case "server.name":
		value = config.APIServer.Name
	case "server.base_path":
		value = config.APIServer.BasePath
	case "server.debug":
		value = config.APIServer.Debug
	case "providers.active":
		value = config.Providers.Active
	case "providers.default_model":
		value = config.Providers.DefaultModel
	case "cache.max_size":
		value = config.Cache.MaxSize
	case "cache.shared.mode":
		value = config.Cache.Shared.Mode
	case "resilience.breaker.threshold":
		value = config.Resilience.Breaker.Threshold
	case "rate_limit.max_concurrent":
		value = config.RateLimit.MaxConcurrent
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}

	fmt.Println(value)
}
