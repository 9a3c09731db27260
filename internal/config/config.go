// Package config loads the orchestrator's global options.
//
// Command-line parsing and configuration build-up are external
// collaborators to the scheduling core; this package is that collaborator.
// It never reaches into the scheduler directly; it only produces a Config
// value the core consumes.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// InputSpec is an opaque reference to one input file as consumed by the
// core. The core never interprets path beyond passing it to the demuxer
// collaborator.
type InputSpec struct {
	Path           string        `koanf:"path"`
	RecordingTime  time.Duration `koanf:"recording_time"`
	StartTime      time.Duration `koanf:"start_time"`
	Loop           int           `koanf:"loop"`
}

// OutputSpec is an opaque reference to one output file.
type OutputSpec struct {
	Path string `koanf:"path"`
}

// Config mirrors the CLI surface consumed by the orchestrator.
type Config struct {
	Inputs  []InputSpec  `koanf:"inputs"`
	Outputs []OutputSpec `koanf:"outputs"`

	CopyTS       bool          `koanf:"copyts"`
	StartAtZero  bool          `koanf:"start_at_zero"`
	StatsPeriod  time.Duration `koanf:"stats_period"`
	Benchmark    bool          `koanf:"benchmark"`
	BenchmarkAll bool          `koanf:"benchmark_all"`
	MaxErrorRate float64       `koanf:"max_error_rate"`
	ProgressURL  string        `koanf:"progress"`
	XError       bool          `koanf:"xerror"`
	LogLevel     string        `koanf:"loglevel"`
	ExitOnError  bool          `koanf:"exit_on_error"`
	Interactive  bool          `koanf:"interactive"`
	VStatsFile   string        `koanf:"vstats_file"`
}

// defaultStatsPeriod matches ffmpeg's default stats_period of 1 second; any
// configured value below 1ms is clamped up to 1ms to avoid a
// busy-spinning reporter.
const defaultStatsPeriod = time.Second
const minStatsPeriod = time.Millisecond

func defaults() Config {
	return Config{
		StatsPeriod:  defaultStatsPeriod,
		MaxErrorRate: 2.0 / 3,
		LogLevel:     "info",
		ExitOnError:  false,
	}
}

// Load reads configuration from an optional YAML file, then environment
// variables (prefix FFCORE_), in that precedence order, layered over
// built-in defaults. It validates the result before returning.
func Load(yamlPath string) (*Config, error) {
	k := koanf.New(".")

	def := defaults()
	defMap := map[string]interface{}{
		"stats_period":   def.StatsPeriod.String(),
		"max_error_rate": def.MaxErrorRate,
		"loglevel":       def.LogLevel,
		"exit_on_error":  def.ExitOnError,
	}
	if err := k.Load(confmap.Provider(defMap, "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if yamlPath != "" {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", yamlPath, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: "FFCORE_",
		TransformFunc: func(key, v string) (string, any) {
			key = strings.TrimPrefix(key, "FFCORE_")
			return strings.ToLower(strings.ReplaceAll(key, "_", ".")), v
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.StatsPeriod < minStatsPeriod {
		c.StatsPeriod = minStatsPeriod
	}
}

// Validate enforces that at least one input and one output must be
// present before the main loop starts.
func (c *Config) Validate() error {
	if len(c.Inputs) == 0 {
		return fmt.Errorf("config: at least one input file is required")
	}
	if len(c.Outputs) == 0 {
		return fmt.Errorf("config: at least one output file is required")
	}
	if c.MaxErrorRate < 0 || c.MaxErrorRate > 1 {
		return fmt.Errorf("config: max_error_rate must be within [0,1], got %f", c.MaxErrorRate)
	}
	return nil
}
