package cache

import "time"

// TTLPreset names a cache lifetime category.
type TTLPreset string

const (
	// TTLShort suits iterative drafts.
	TTLShort TTLPreset = "short"
	// TTLMedium suits classification style answers.
	TTLMedium TTLPreset = "medium"
	// TTLLong suits stable reference data.
	TTLLong TTLPreset = "long"
)

type TTLConfig struct {
	Short  time.Duration `conf:"short" yaml:"short" json:"short"`
	Medium time.Duration `conf:"medium" yaml:"medium" json:"medium"`
	Long   time.Duration `conf:"long" yaml:"long" json:"long"`
}

func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Short:  5 * time.Minute,
		Medium: 30 * time.Minute,
		Long:   24 * time.Hour,
	}
}

// Duration resolves a preset, falling back to the defaults for unset values.
func (c TTLConfig) Duration(preset TTLPreset) time.Duration {
	def := DefaultTTLConfig()

	pick := func(v, fallback time.Duration) time.Duration {
		if v > 0 {
			return v
		}

		return fallback
	}

	switch preset {
	case TTLShort:
		return pick(c.Short, def.Short)
	case TTLMedium:
		return pick(c.Medium, def.Medium)
	case TTLLong:
		return pick(c.Long, def.Long)
	default:
		return 0
	}
}
