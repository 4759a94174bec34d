package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Config holds all collate configuration.
type Config struct {
	Correlate CorrelateConfig `yaml:"correlate"`
	Flush     FlushConfig     `yaml:"flush"`
	Input     InputConfig     `yaml:"input"`
	Output    OutputConfig    `yaml:"output"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// CorrelateConfig holds the correlator options.
type CorrelateConfig struct {
	UniqueField    string   `yaml:"unique_field"`
	Target         string   `yaml:"target"`
	Fields         []string `yaml:"fields"`
	StreamIdentity string   `yaml:"stream_identity"`
	Tag            string   `yaml:"tag"`
	Type           string   `yaml:"type"`
	// Shards > 1 partitions streams over that many correlators
	Shards int `yaml:"shards"`
}

// FlushConfig holds the periodic flush schedule.
type FlushConfig struct {
	Schedule string `yaml:"schedule"` // cron expression or "@every 5s"; empty disables
}

// InputConfig holds source settings.
type InputConfig struct {
	Paths  []string `yaml:"paths"` // empty reads stdin
	Follow bool     `yaml:"follow"`
	Host   string   `yaml:"host"`
}

// OutputConfig holds sink settings.
type OutputConfig struct {
	Stdout       bool   `yaml:"stdout"`
	WebSocketURL string `yaml:"websocket_url"`

	// WebSocketRate caps record envelopes per second; zero is unlimited
	WebSocketRate  float64 `yaml:"websocket_rate"`
	WebSocketBurst int     `yaml:"websocket_burst"`

	SQL SQLConfig `yaml:"sql"`
}

// SQLConfig holds the SQL sink settings. An empty driver disables the sink.
type SQLConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, mysql
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9090"; empty disables the endpoint
}

// Default returns the configuration used when a file leaves a setting out.
func Default() Config {
	return Config{
		Correlate: CorrelateConfig{
			Shards: 1,
		},
		Output: OutputConfig{
			Stdout: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path (if any) over the defaults and then applies
// COLLATE_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides settings from the environment. List values are comma separated.
func applyEnv(cfg *Config) error {
	setString(&cfg.Correlate.UniqueField, "COLLATE_UNIQUE_FIELD")
	setString(&cfg.Correlate.Target, "COLLATE_TARGET")
	setList(&cfg.Correlate.Fields, "COLLATE_FIELDS")
	setString(&cfg.Correlate.StreamIdentity, "COLLATE_STREAM_IDENTITY")
	setString(&cfg.Correlate.Tag, "COLLATE_TAG")
	setString(&cfg.Correlate.Type, "COLLATE_TYPE")
	setString(&cfg.Flush.Schedule, "COLLATE_FLUSH_SCHEDULE")
	setList(&cfg.Input.Paths, "COLLATE_INPUT_PATHS")
	setString(&cfg.Input.Host, "COLLATE_INPUT_HOST")
	setString(&cfg.Output.WebSocketURL, "COLLATE_WEBSOCKET_URL")
	setString(&cfg.Output.SQL.Driver, "COLLATE_SQL_DRIVER")
	setString(&cfg.Output.SQL.DSN, "COLLATE_SQL_DSN")
	setString(&cfg.Output.SQL.Table, "COLLATE_SQL_TABLE")
	setString(&cfg.Log.Level, "COLLATE_LOG_LEVEL")
	setString(&cfg.Metrics.Listen, "COLLATE_METRICS_LISTEN")

	if v := os.Getenv("COLLATE_SHARDS"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("COLLATE_SHARDS: %w", err)
		}
		cfg.Correlate.Shards = n
	}
	if v := os.Getenv("COLLATE_INPUT_FOLLOW"); v != "" {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("COLLATE_INPUT_FOLLOW: %w", err)
		}
		cfg.Input.Follow = b
	}
	if v := os.Getenv("COLLATE_WEBSOCKET_RATE"); v != "" {
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return fmt.Errorf("COLLATE_WEBSOCKET_RATE: %w", err)
		}
		cfg.Output.WebSocketRate = f
	}
	if v := os.Getenv("COLLATE_OUTPUT_STDOUT"); v != "" {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("COLLATE_OUTPUT_STDOUT: %w", err)
		}
		cfg.Output.Stdout = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

// Validate checks the settings the correlator cannot run without.
func (c Config) Validate() error {
	var errs []error
	if c.Correlate.UniqueField == "" {
		errs = append(errs, errors.New("correlate.unique_field is required"))
	}
	if c.Correlate.Target == "" {
		errs = append(errs, errors.New("correlate.target is required"))
	}
	if len(c.Correlate.Fields) == 0 {
		errs = append(errs, errors.New("correlate.fields is required"))
	}
	if c.Correlate.Shards < 1 {
		errs = append(errs, fmt.Errorf("correlate.shards must be at least 1, got %d", c.Correlate.Shards))
	}
	if c.Output.WebSocketRate < 0 {
		errs = append(errs, fmt.Errorf("output.websocket_rate must not be negative, got %v", c.Output.WebSocketRate))
	}
	switch c.Output.SQL.Driver {
	case "", "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("output.sql.driver %q is not supported", c.Output.SQL.Driver))
	}
	if c.Output.SQL.Driver != "" && c.Output.SQL.DSN == "" {
		errs = append(errs, errors.New("output.sql.dsn is required when a driver is set"))
	}
	return errors.Join(errs...)
}
