package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load consults so host settings don't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANALYZER_CONFIG", "PORT", "SERVER_WRITE_TIMEOUT", "MAX_UPLOAD_MB", "LOG_LEVEL", "LOG_FORMAT",
		"MODEL_NAME", "MODEL_TIMEOUT", "GEMINI_API_KEY", "CHUNK_TOKENS", "TOKEN_ENCODING",
		"THROTTLE_INTERVAL", "THROTTLE_BURST", "PIPELINE_BUDGET", "STORE_BACKEND", "ANALYSES_DIR",
		"UPLOAD_DIR", "GCS_BUCKET", "GCS_PREFIX", "DATABASE_URL", "BQ_PROJECT", "BQ_DATASET",
		"NOTION_TOKEN", "NOTION_DATABASE_ID", "JWT_SECRET", "JOB_WORKERS", "JOB_MAX_RETRIES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Pipeline.ChunkTokens != 4000 {
		t.Errorf("ChunkTokens = %d, want 4000", cfg.Pipeline.ChunkTokens)
	}
	if cfg.Model.Timeout != 60*time.Second {
		t.Errorf("Model.Timeout = %v, want 60s", cfg.Model.Timeout)
	}
	if cfg.Pipeline.ThrottleInterval != time.Second {
		t.Errorf("ThrottleInterval = %v, want 1s", cfg.Pipeline.ThrottleInterval)
	}
	if cfg.Store.Backend != BackendFile || cfg.Store.Dir != "data/analyses" {
		t.Errorf("unexpected store defaults: %+v", cfg.Store)
	}
	if cfg.Pipeline.Budget != 0 {
		t.Errorf("Budget should default to none, got %v", cfg.Pipeline.Budget)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHUNK_TOKENS", "1200")
	t.Setenv("MODEL_TIMEOUT", "15s")
	t.Setenv("PIPELINE_BUDGET", "10m")
	t.Setenv("THROTTLE_BURST", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Pipeline.ChunkTokens != 1200 {
		t.Errorf("ChunkTokens = %d, want 1200", cfg.Pipeline.ChunkTokens)
	}
	if cfg.Model.Timeout != 15*time.Second {
		t.Errorf("Model.Timeout = %v, want 15s", cfg.Model.Timeout)
	}
	if cfg.Pipeline.Budget != 10*time.Minute {
		t.Errorf("Budget = %v, want 10m", cfg.Pipeline.Budget)
	}
	if cfg.Pipeline.ThrottleBurst != 1 {
		t.Errorf("invalid int should keep default, got %d", cfg.Pipeline.ThrottleBurst)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "analyzer.yaml")
	yamlBody := `
model:
  name: gemini-2.5-pro
  timeout: 30s
store:
  backend: gcs
  bucket: statements-bucket
pipeline:
  chunk_tokens: 2000
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANALYZER_CONFIG", path)
	t.Setenv("CHUNK_TOKENS", "3000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Model.Name != "gemini-2.5-pro" || cfg.Model.Timeout != 30*time.Second {
		t.Errorf("yaml model settings not applied: %+v", cfg.Model)
	}
	if cfg.Store.Backend != BackendGCS || cfg.Store.Bucket != "statements-bucket" {
		t.Errorf("yaml store settings not applied: %+v", cfg.Store)
	}
	if cfg.Pipeline.ChunkTokens != 3000 {
		t.Errorf("env should win over yaml, got %d", cfg.Pipeline.ChunkTokens)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"zero chunk budget", func(c *Config) { c.Pipeline.ChunkTokens = 0 }, "chunk_tokens"},
		{"gcs without bucket", func(c *Config) { c.Store.Backend = BackendGCS }, "store.bucket"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }, "postgres_dsn"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "s3" }, "unknown store backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestMask(t *testing.T) {
	if got := mask(""); got != "" {
		t.Errorf("mask(\"\") = %q", got)
	}
	if got := mask("abc"); got != "***" {
		t.Errorf("mask(short) = %q", got)
	}
	if got := mask("sk-123456789"); got != "***6789" {
		t.Errorf("mask(long) = %q", got)
	}
}
