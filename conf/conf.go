// Package conf loads the reportflow configuration from config.yml and REPORTFLOW_ environment
// variables.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/looplj/reportflow/internal/cache"
	"github.com/looplj/reportflow/internal/llm/provider/gemini"
	"github.com/looplj/reportflow/internal/llm/provider/openai"
	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/metrics"
	"github.com/looplj/reportflow/internal/orchestrator"
	"github.com/looplj/reportflow/internal/pkg/httpclient"
	"github.com/looplj/reportflow/internal/ratelimit"
	"github.com/looplj/reportflow/internal/resilience"
	"github.com/looplj/reportflow/internal/server"
)

const EnvPrefix = "REPORTFLOW"

type Config struct {
	fx.Out `yaml:"-" json:"-"`

	APIServer  server.Config         `conf:"server" yaml:"server" json:"server"`
	Log        log.Config            `conf:"log" yaml:"log" json:"log"`
	Cache      cache.Config          `conf:"cache" yaml:"cache" json:"cache"`
	RateLimit  ratelimit.Config      `conf:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	Resilience resilience.Config     `conf:"resilience" yaml:"resilience" json:"resilience"`
	Providers  orchestrator.Settings `conf:"providers" yaml:"providers" json:"providers"`
	HTTPClient httpclient.Config     `conf:"http_client" yaml:"http_client" json:"http_client"`
	Metrics    metrics.Config        `conf:"metrics" yaml:"metrics" json:"metrics"`
}

// Load reads config.yml from the working directory, ./conf or /etc/reportflow. A missing
// file is not an error.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("./conf")
	v.AddConfigPath("/etc/reportflow/")

	return load(v)
}

// LoadFile reads the configuration from path.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	return load(v)
}

func load(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config

	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "conf"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.name", "reportflow")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.llm_request_timeout", 10*time.Minute)
	v.SetDefault("server.trace.trace_header", "RF-Trace-Id")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.cors.enabled", false)
	v.SetDefault("server.cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("server.cors.allowed_headers", []string{"Content-Type", "Authorization", "RF-Trace-Id"})
	v.SetDefault("server.cors.max_age", 12*time.Hour)

	logCfg := log.DefaultConfig()
	v.SetDefault("log.name", logCfg.Name)
	v.SetDefault("log.level", logCfg.Level)
	v.SetDefault("log.encoding", logCfg.Encoding)
	v.SetDefault("log.output", logCfg.Output)
	v.SetDefault("log.include_stacks", false)
	v.SetDefault("log.file.path", "logs/reportflow.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 10)

	cacheCfg := cache.DefaultConfig()
	v.SetDefault("cache.max_size", cacheCfg.MaxSize)
	v.SetDefault("cache.default_ttl", cacheCfg.DefaultTTL)
	v.SetDefault("cache.cleanup_interval", cacheCfg.CleanupInterval)
	v.SetDefault("cache.pending_timeout", cacheCfg.PendingTimeout)
	v.SetDefault("cache.ttl.short", cacheCfg.TTL.Short)
	v.SetDefault("cache.ttl.medium", cacheCfg.TTL.Medium)
	v.SetDefault("cache.ttl.long", cacheCfg.TTL.Long)
	v.SetDefault("cache.shared.mode", "")
	v.SetDefault("cache.shared.memory.expiration", 5*time.Minute)
	v.SetDefault("cache.shared.memory.cleanup_interval", 10*time.Minute)
	v.SetDefault("cache.shared.redis.addr", "")
	v.SetDefault("cache.shared.redis.url", "")
	v.SetDefault("cache.shared.redis.password", "")
	v.SetDefault("cache.shared.redis.key_prefix", "reportflow:")
	v.SetDefault("cache.shared.redis.expiration", 30*time.Minute)
	v.SetDefault("cache.shared.redis.dial_timeout", 5*time.Second)

	limitCfg := ratelimit.DefaultConfig()
	v.SetDefault("rate_limit.max_concurrent", limitCfg.MaxConcurrent)
	v.SetDefault("rate_limit.max_per_minute", limitCfg.MaxPerMinute)

	resilienceCfg := resilience.DefaultConfig()
	v.SetDefault("resilience.breaker.threshold", resilienceCfg.Breaker.Threshold)
	v.SetDefault("resilience.breaker.reset_window", resilienceCfg.Breaker.ResetWindow)
	v.SetDefault("resilience.retry.max_retries", resilienceCfg.Retry.MaxRetries)
	v.SetDefault("resilience.retry.base_delay", resilienceCfg.Retry.BaseDelay)
	v.SetDefault("resilience.retry.max_delay", resilienceCfg.Retry.MaxDelay)
	v.SetDefault("resilience.retry.max_jitter", resilienceCfg.Retry.MaxJitter)
	v.SetDefault("resilience.fallback_retries", resilienceCfg.FallbackRetries)

	v.SetDefault("providers.active", gemini.ProviderGemini)
	v.SetDefault("providers.default_model", "gemini-2.5-flash")

	for _, provider := range []string{
		gemini.ProviderGemini,
		openai.ProviderOpenAI,
		openai.ProviderOpenRouter,
		openai.ProviderDeepSeek,
	} {
		v.SetDefault("providers.credentials."+provider+".api_key", "")
		v.SetDefault("providers.credentials."+provider+".base_url", "")
	}

	v.SetDefault("http_client.timeout", 2*time.Minute)
	v.SetDefault("http_client.proxy_url", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.exporter.type", metrics.ExporterStdout)
	v.SetDefault("metrics.exporter.endpoint", "")
	v.SetDefault("metrics.exporter.interval", time.Minute)
}
