// Package config loads gcl command-line configuration from a YAML file,
// GCL_* environment variables and command flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gogpu/gcl"
	"github.com/gogpu/gcl/driver"
)

// Config is the gcl CLI configuration.
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	Logging LoggingConfig `mapstructure:"logging"`
	Bench   BenchConfig   `mapstructure:"bench"`
}

// DeviceConfig selects and opens the device.
type DeviceConfig struct {
	Backend    string `mapstructure:"backend"`
	Validation bool   `mapstructure:"validation"`
	// Prefer restricts adapter selection: any, discrete or integrated.
	Prefer string `mapstructure:"prefer"`
	Label  string `mapstructure:"label"`
}

// MemoryConfig bounds device memory.
type MemoryConfig struct {
	BudgetMB int `mapstructure:"budget_mb"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BenchConfig holds run and bench defaults.
type BenchConfig struct {
	Elements int `mapstructure:"elements"`
	Reps     int `mapstructure:"reps"`
	// TimeoutMS bounds each dispatch; 0 waits forever.
	TimeoutMS int `mapstructure:"timeout_ms"`
}

// Flag names bound into the configuration by Load.
var flagKeys = map[string]string{
	"backend":    "device.backend",
	"validation": "device.validation",
	"prefer":     "device.prefer",
	"budget":     "memory.budget_mb",
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"elements":   "bench.elements",
	"reps":       "bench.reps",
	"timeout":    "bench.timeout_ms",
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Prefer: "any",
			Label:  "gcl",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		Bench: BenchConfig{
			Elements: 1 << 20,
			Reps:     100,
		},
	}
}

// Load reads configuration from cfgFile (or $HOME/.gcl/config.yaml and
// ./config.yaml when empty), GCL_* environment variables such as
// GCL_DEVICE_BACKEND, and the flags of flags that were set.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".gcl"))
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("GCL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if !slices.Contains([]string{"any", "discrete", "integrated"}, c.Device.Prefer) {
		return fmt.Errorf("device.prefer must be one of any, discrete, integrated; got %q", c.Device.Prefer)
	}
	if c.Memory.BudgetMB < 0 {
		return errors.New("memory.budget_mb must not be negative")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if !slices.Contains([]string{"text", "json"}, c.Logging.Format) {
		return fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format)
	}
	if c.Bench.Elements <= 0 || c.Bench.Elements > 1<<30 {
		return fmt.Errorf("bench.elements must be in 1..%d; got %d", 1<<30, c.Bench.Elements)
	}
	if c.Bench.Reps <= 0 {
		return errors.New("bench.reps must be positive")
	}
	if c.Bench.TimeoutMS < 0 {
		return errors.New("bench.timeout_ms must not be negative")
	}
	return nil
}

// Options converts the device and memory settings to gcl options.
func (c *Config) Options() []gcl.Option {
	opts := []gcl.Option{
		gcl.WithBackend(c.Device.Backend),
		gcl.WithValidation(c.Device.Validation),
		gcl.WithMemoryBudget(c.Memory.BudgetMB),
		gcl.WithLabel(c.Device.Label),
	}
	if c.Device.Prefer != "any" {
		prefer := c.Device.Prefer
		opts = append(opts, gcl.WithAdapterFilter(func(info driver.AdapterInfo) bool {
			return info.Kind() == prefer
		}))
	}
	return opts
}

// NewLogger builds the logger described by the logging settings.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", s)
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("device.backend", cfg.Device.Backend)
	v.SetDefault("device.validation", cfg.Device.Validation)
	v.SetDefault("device.prefer", cfg.Device.Prefer)
	v.SetDefault("device.label", cfg.Device.Label)

	v.SetDefault("memory.budget_mb", cfg.Memory.BudgetMB)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("bench.elements", cfg.Bench.Elements)
	v.SetDefault("bench.reps", cfg.Bench.Reps)
	v.SetDefault("bench.timeout_ms", cfg.Bench.TimeoutMS)
}
