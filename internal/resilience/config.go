package resilience

// Config groups the breaker and retry settings.
type Config struct {
	Breaker BreakerPolicy `conf:"breaker" yaml:"breaker" json:"breaker"`
	Retry   RetryPolicy   `conf:"retry" yaml:"retry" json:"retry"`

	// FallbackRetries is the retry budget of each provider in a fallback chain.
	FallbackRetries int `conf:"fallback_retries" yaml:"fallback_retries" json:"fallback_retries"`
}

func DefaultConfig() Config {
	return Config{
		Breaker:         DefaultBreakerPolicy(),
		Retry:           DefaultRetryPolicy(),
		FallbackRetries: 2,
	}
}
