package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVICE_BASE_URL", "https://labels.example.com")
	t.Setenv("SOURCE_DSN", "postgres://sourcify@localhost/sourcify")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Namespace != "eip155" {
		t.Errorf("Namespace = %q, want eip155", cfg.Service.Namespace)
	}
	if cfg.Batch.Size != 1000 || cfg.Batch.Workers != 10 {
		t.Errorf("batch defaults = %+v", cfg.Batch)
	}
	if !cfg.State.Checkpoint {
		t.Error("checkpointing disabled by default")
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
service:
  base_url: https://labels.example.com
  onchain: true
source:
  mode: parquet
  parquet_url: file:///data/candidates
batch:
  size: 250
  delay: 2s
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("BATCH_SIZE", "500") // env wins over file

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.Service.Onchain {
		t.Error("Onchain = false, want true from file")
	}
	if cfg.Source.Mode != "parquet" || cfg.Source.ParquetURL == "" {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Batch.Size != 500 {
		t.Errorf("Size = %d, want env override 500", cfg.Batch.Size)
	}
	if cfg.Batch.Delay.Std() != 2*time.Second {
		t.Errorf("Delay = %v, want 2s from file", cfg.Batch.Delay.Std())
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base URL", func(c *Config) { c.Service.BaseURL = "" }},
		{"postgres without DSN", func(c *Config) { c.Source.PostgresDSN = "" }},
		{"unknown source mode", func(c *Config) { c.Source.Mode = "kafka" }},
		{"zero batch size", func(c *Config) { c.Batch.Size = 0 }},
		{"zero workers", func(c *Config) { c.Batch.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			cfg.Service.BaseURL = "https://labels.example.com"
			cfg.Source.PostgresDSN = "postgres://localhost/sourcify"
			tt.mutate(&cfg)
			if err := cfg.validate(); err == nil {
				t.Error("validate passed, want error")
			}
		})
	}
}
