// Package config loads bridge configuration from an optional YAML file
// with environment variable overrides. Environment always wins, so a
// deployment can ship a base config file and tweak per-instance settings
// without editing it.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes "30s"-style YAML scalars into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Service Service `yaml:"service"`
	Source  Source  `yaml:"source"`
	State   State   `yaml:"state"`
	Batch   Batch   `yaml:"batch"`
	Logging Logging `yaml:"logging"`
	Metrics Metrics `yaml:"metrics"`
}

// Service configures the external labeling service.
type Service struct {
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	Namespace string   `yaml:"namespace"` // chain id namespace, e.g. "eip155"
	Network   string   `yaml:"network"`   // metrics/log label only
	Onchain   bool     `yaml:"onchain"`
	Timeout   Duration `yaml:"timeout"`
}

// Source configures where candidate records come from.
type Source struct {
	Mode        string `yaml:"mode"` // "postgres" | "parquet"
	PostgresDSN string `yaml:"postgres_dsn"`
	ParquetURL  string `yaml:"parquet_url"` // file://, s3://, gs://
}

// State configures the local state directory: ledger database, checkpoint
// file, failure exports.
type State struct {
	Dir        string `yaml:"dir"`
	Checkpoint bool   `yaml:"checkpoint"`
}

// Batch configures batch execution.
type Batch struct {
	Size    int      `yaml:"size"`
	Workers int      `yaml:"workers"`
	Delay   Duration `yaml:"delay"`
}

type Logging struct {
	Format string `yaml:"format"` // "json" | "text"
	Level  string `yaml:"level"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// MustLoad reads configuration and exits on anything unusable.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// Load reads the optional YAML file named by CONFIG_FILE, applies
// environment overrides, fills defaults, and validates.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Service: Service{
			Namespace: "eip155",
			Network:   "mainnet",
			Timeout:   Duration(30 * time.Second),
		},
		Source: Source{
			Mode: "postgres",
		},
		State: State{
			Dir:        "./bridge_state",
			Checkpoint: true,
		},
		Batch: Batch{
			Size:    1000,
			Workers: 10,
			Delay:   Duration(time.Second),
		},
		Logging: Logging{
			Format: "text",
			Level:  "info",
		},
		Metrics: Metrics{
			Address: ":9090",
		},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Service.BaseURL, "SERVICE_BASE_URL")
	setString(&cfg.Service.APIKey, "SERVICE_API_KEY")
	setString(&cfg.Service.Namespace, "CHAIN_NAMESPACE")
	setString(&cfg.Service.Network, "NETWORK")
	setBool(&cfg.Service.Onchain, "ONCHAIN")
	setDuration(&cfg.Service.Timeout, "SERVICE_TIMEOUT")

	setString(&cfg.Source.Mode, "SOURCE_MODE")
	setString(&cfg.Source.PostgresDSN, "SOURCE_DSN")
	setString(&cfg.Source.ParquetURL, "SOURCE_PARQUET_URL")

	setString(&cfg.State.Dir, "STATE_DIR")
	setBool(&cfg.State.Checkpoint, "CHECKPOINT_ENABLED")

	setInt(&cfg.Batch.Size, "BATCH_SIZE")
	setInt(&cfg.Batch.Workers, "BATCH_WORKERS")
	setDuration(&cfg.Batch.Delay, "BATCH_DELAY")

	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Level, "LOG_LEVEL")

	setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	setString(&cfg.Metrics.Address, "METRICS_ADDRESS")
}

func (c Config) validate() error {
	if c.Service.BaseURL == "" {
		return fmt.Errorf("service base URL is required (SERVICE_BASE_URL)")
	}
	switch c.Source.Mode {
	case "postgres":
		if c.Source.PostgresDSN == "" {
			return fmt.Errorf("postgres source requires a DSN (SOURCE_DSN)")
		}
	case "parquet":
		if c.Source.ParquetURL == "" {
			return fmt.Errorf("parquet source requires a bucket URL (SOURCE_PARQUET_URL)")
		}
	default:
		return fmt.Errorf("unknown source mode %q", c.Source.Mode)
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Batch.Size)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch workers must be positive, got %d", c.Batch.Workers)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = Duration(parsed)
		}
	}
}
