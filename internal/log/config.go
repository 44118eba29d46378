package log

// Config configures the logger.
type Config struct {
	// Name is attached to every record as the "logger" field.
	Name string `conf:"name" yaml:"name" json:"name"`

	// Level is one of debug, info, warn, error, panic, fatal.
	Level string `conf:"level" yaml:"level" json:"level"`

	// Encoding is json or console.
	Encoding string `conf:"encoding" yaml:"encoding" json:"encoding"`

	// Output is stdio or file.
	Output string `conf:"output" yaml:"output" json:"output"`

	// IncludeStacks adds stack traces to error level records.
	IncludeStacks bool `conf:"include_stacks" yaml:"include_stacks" json:"include_stacks"`

	File FileConfig `conf:"file" yaml:"file" json:"file"`
}

// FileConfig configures the rotating file output.
type FileConfig struct {
	Path       string `conf:"path" yaml:"path" json:"path"`
	MaxSize    int    `conf:"max_size" yaml:"max_size" json:"max_size"`
	MaxAge     int    `conf:"max_age" yaml:"max_age" json:"max_age"`
	MaxBackups int    `conf:"max_backups" yaml:"max_backups" json:"max_backups"`
	LocalTime  bool   `conf:"local_time" yaml:"local_time" json:"local_time"`
}

const (
	EncodingJSON    = "json"
	EncodingConsole = "console"

	OutputStdio = "stdio"
	OutputFile  = "file"
)

// DefaultConfig returns the config used before configuration is loaded.
func DefaultConfig() Config {
	return Config{
		Name:     "reportflow",
		Level:    "info",
		Encoding: EncodingJSON,
		Output:   OutputStdio,
	}
}
