package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendFile     = "file"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
)

// Config is the full runtime configuration of the analyzer binaries.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Model    ModelConfig    `yaml:"model"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Store    StoreConfig    `yaml:"store"`
	BigQuery BigQueryConfig `yaml:"bigquery"`
	Notion   NotionConfig   `yaml:"notion"`
	Auth     AuthConfig     `yaml:"auth"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"` // 0 keeps long SSE responses open
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxUploadMB  int64         `yaml:"max_upload_mb"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ModelConfig configures the language-model service.
type ModelConfig struct {
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
	// APIKey is only a fallback; requests normally carry their own credential.
	APIKey string `yaml:"api_key"`
}

// PipelineConfig holds chunking and scheduling parameters.
type PipelineConfig struct {
	ChunkTokens      int           `yaml:"chunk_tokens"`
	Encoding         string        `yaml:"encoding"`
	ThrottleInterval time.Duration `yaml:"throttle_interval"`
	ThrottleBurst    int           `yaml:"throttle_burst"`
	Budget           time.Duration `yaml:"budget"` // 0 means no overall deadline
}

// StoreConfig selects where saved analyses and uploads live.
type StoreConfig struct {
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	UploadDir   string `yaml:"upload_dir"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BigQueryConfig enables run auditing when ProjectID is set.
type BigQueryConfig struct {
	ProjectID string `yaml:"project_id"`
	Dataset   string `yaml:"dataset"`
}

// NotionConfig enables publishing analyses to a Notion database.
type NotionConfig struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
}

// AuthConfig enables bearer-token auth on the API when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// JobsConfig sizes the in-memory job queue.
type JobsConfig struct {
	Workers    int `yaml:"workers"`
	Buffer     int `yaml:"buffer"`
	MaxRetries int `yaml:"max_retries"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        "8080",
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
			MaxUploadMB: 32,
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Model: ModelConfig{
			Name:    "gemini-2.5-flash",
			Timeout: 60 * time.Second,
		},
		Pipeline: PipelineConfig{
			ChunkTokens:      4000,
			Encoding:         "r50k_base",
			ThrottleInterval: time.Second,
			ThrottleBurst:    1,
		},
		Store: StoreConfig{
			Backend:   BackendFile,
			Dir:       "data/analyses",
			UploadDir: "uploads",
			Prefix:    "analyses/",
		},
		BigQuery: BigQueryConfig{Dataset: "statements"},
		Jobs:     JobsConfig{Workers: 2, Buffer: 100, MaxRetries: 3},
	}
}

// Load reads an optional .env file, an optional YAML file named by
// ANALYZER_CONFIG, and finally environment overrides.
func Load() (Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("ANALYZER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getenvDefault("PORT", cfg.Server.Port)
	cfg.Server.WriteTimeout = getenvDurationDefault("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.MaxUploadMB = int64(getenvIntDefault("MAX_UPLOAD_MB", int(cfg.Server.MaxUploadMB)))

	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)

	cfg.Model.Name = getenvDefault("MODEL_NAME", cfg.Model.Name)
	cfg.Model.Timeout = getenvDurationDefault("MODEL_TIMEOUT", cfg.Model.Timeout)
	cfg.Model.APIKey = getenvDefault("GEMINI_API_KEY", cfg.Model.APIKey)

	cfg.Pipeline.ChunkTokens = getenvIntDefault("CHUNK_TOKENS", cfg.Pipeline.ChunkTokens)
	cfg.Pipeline.Encoding = getenvDefault("TOKEN_ENCODING", cfg.Pipeline.Encoding)
	cfg.Pipeline.ThrottleInterval = getenvDurationDefault("THROTTLE_INTERVAL", cfg.Pipeline.ThrottleInterval)
	cfg.Pipeline.ThrottleBurst = getenvIntDefault("THROTTLE_BURST", cfg.Pipeline.ThrottleBurst)
	cfg.Pipeline.Budget = getenvDurationDefault("PIPELINE_BUDGET", cfg.Pipeline.Budget)

	cfg.Store.Backend = getenvDefault("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Dir = getenvDefault("ANALYSES_DIR", cfg.Store.Dir)
	cfg.Store.UploadDir = getenvDefault("UPLOAD_DIR", cfg.Store.UploadDir)
	cfg.Store.Bucket = getenvDefault("GCS_BUCKET", cfg.Store.Bucket)
	cfg.Store.Prefix = getenvDefault("GCS_PREFIX", cfg.Store.Prefix)
	cfg.Store.PostgresDSN = getenvDefault("DATABASE_URL", cfg.Store.PostgresDSN)

	cfg.BigQuery.ProjectID = getenvDefault("BQ_PROJECT", cfg.BigQuery.ProjectID)
	cfg.BigQuery.Dataset = getenvDefault("BQ_DATASET", cfg.BigQuery.Dataset)

	cfg.Notion.Token = getenvDefault("NOTION_TOKEN", cfg.Notion.Token)
	cfg.Notion.DatabaseID = getenvDefault("NOTION_DATABASE_ID", cfg.Notion.DatabaseID)

	cfg.Auth.JWTSecret = getenvDefault("JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.Jobs.Workers = getenvIntDefault("JOB_WORKERS", cfg.Jobs.Workers)
	cfg.Jobs.MaxRetries = getenvIntDefault("JOB_MAX_RETRIES", cfg.Jobs.MaxRetries)
}

// Validate checks the combination of settings.
func (c Config) Validate() error {
	var problems []string

	if c.Pipeline.ChunkTokens <= 0 {
		problems = append(problems, "pipeline.chunk_tokens must be positive")
	}
	if c.Model.Timeout <= 0 {
		problems = append(problems, "model.timeout must be positive")
	}
	if c.Jobs.Workers <= 0 {
		problems = append(problems, "jobs.workers must be positive")
	}

	switch c.Store.Backend {
	case BackendFile:
		if c.Store.Dir == "" {
			problems = append(problems, "store.dir is required for the file backend")
		}
	case BackendGCS:
		if c.Store.Bucket == "" {
			problems = append(problems, "store.bucket is required for the gcs backend")
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			problems = append(problems, "store.postgres_dsn is required for the postgres backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}

	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// MarshalZerologObject logs the configuration with secrets masked.
func (c Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("port", c.Server.Port).
		Str("log_level", c.Log.Level).
		Str("model", c.Model.Name).
		Dur("model_timeout", c.Model.Timeout).
		Str("model_api_key", mask(c.Model.APIKey)).
		Int("chunk_tokens", c.Pipeline.ChunkTokens).
		Str("encoding", c.Pipeline.Encoding).
		Dur("throttle_interval", c.Pipeline.ThrottleInterval).
		Dur("budget", c.Pipeline.Budget).
		Str("store_backend", c.Store.Backend).
		Str("store_dir", c.Store.Dir).
		Str("bucket", c.Store.Bucket).
		Str("postgres_dsn", mask(c.Store.PostgresDSN)).
		Str("bq_project", c.BigQuery.ProjectID).
		Str("notion_token", mask(c.Notion.Token)).
		Bool("auth_enabled", c.Auth.JWTSecret != "")
}

// mask shows only the last four characters of a secret.
func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "***"
	}
	return "***" + secret[len(secret)-4:]
}
