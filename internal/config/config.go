// Package config loads the settings of the gpuwaste command.
//
// Settings are layered: built-in defaults, then the TOML file, then
// GPUWASTE_* environment variables. Command-line flags are applied by the
// caller on top of the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/gogpu/gpuwaste"
	"github.com/gogpu/gpuwaste/capture"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "gpuwaste"

	// PathEnv names the configuration file when Load gets no path.
	PathEnv = "GPUWASTE_CONFIG"

	// DefaultPath is read when neither a path nor PathEnv is given. A
	// missing default file is not an error.
	DefaultPath = "~/.config/gpuwaste/config.toml"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Duration is a time.Duration written as "90s" or "10m" in TOML and in
// the environment.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the full configuration of the command.
type Config struct {
	// ModulePath lists extra shader directories. GPUWASTE_MODULE_PATH is
	// read by the local capture provider itself.
	ModulePath []string `toml:"module_path" ignored:"true"`

	RemoteAddress  string   `toml:"remote_address" envconfig:"REMOTE_ADDRESS"`
	Workers        int      `toml:"workers" envconfig:"WORKERS"`
	Timeout        Duration `toml:"timeout" envconfig:"TIMEOUT"`
	RequestTimeout Duration `toml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`

	Log    LogConfig    `toml:"log" envconfig:"LOG"`
	Output OutputConfig `toml:"output" envconfig:"OUTPUT"`

	Thresholds gpuwaste.Thresholds `toml:"thresholds" ignored:"true"`
}

// LogConfig selects the command's logger.
type LogConfig struct {
	Level  string `toml:"level" envconfig:"LEVEL"`
	Format string `toml:"format" envconfig:"FORMAT"`
}

// OutputConfig selects how reports are printed.
type OutputConfig struct {
	Format  string `toml:"format" envconfig:"FORMAT"`
	NoColor bool   `toml:"no_color" envconfig:"NO_COLOR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RemoteAddress:  capture.DefaultRemoteAddress,
		Timeout:        Duration(600 * time.Second),
		RequestTimeout: Duration(30 * time.Second),
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
		Output: OutputConfig{
			Format: FormatText,
		},
		Thresholds: gpuwaste.DefaultThresholds(),
	}
}

// Load builds the configuration from the file at path, or from PathEnv
// or DefaultPath when path is empty, and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := true
	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path == "" {
		path, explicit = DefaultPath, false
	}
	if err := cfg.readFile(path, explicit); err != nil {
		return nil, err
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string, required bool) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: %w", err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var (
			de *toml.DecodeError
			se *toml.StrictMissingError
		)
		if errors.As(err, &se) {
			return fmt.Errorf("config: %s: unknown keys\n%s", expanded, se.String())
		}
		if errors.As(err, &de) {
			row, col := de.Position()
			return fmt.Errorf("config: %s:%d:%d: %w", expanded, row, col, err)
		}
		return fmt.Errorf("config: %s: %w", expanded, err)
	}
	return nil
}

// Validate checks the values that have a closed set or a sign.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative, got %d", c.Workers)
	}
	if c.Timeout < 0 || c.RequestTimeout < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log level: %w", err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	switch c.Output.Format {
	case FormatText, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("config: unknown output format %q", c.Output.Format)
	}
	return nil
}

// SearchPath returns ModulePath with ~ expanded.
func (c *Config) SearchPath() []string {
	dirs := make([]string, 0, len(c.ModulePath))
	for _, d := range c.ModulePath {
		if e, err := homedir.Expand(d); err == nil {
			d = e
		}
		dirs = append(dirs, d)
	}
	return dirs
}

// OpenOptions returns the capture provider options.
func (c *Config) OpenOptions() capture.OpenOptions {
	return capture.OpenOptions{
		SearchPath:     c.SearchPath(),
		RequestTimeout: time.Duration(c.RequestTimeout),
	}
}

// EngineOptions returns the engine options for the given detectors.
func (c *Config) EngineOptions(detectors ...string) []gpuwaste.Option {
	opts := []gpuwaste.Option{
		gpuwaste.WithWorkers(c.Workers),
		gpuwaste.WithThresholds(c.Thresholds),
		gpuwaste.WithTimeout(time.Duration(c.Timeout)),
	}
	if len(detectors) > 0 {
		opts = append(opts, gpuwaste.WithDetectors(detectors...))
	}
	return opts
}
