package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// HTTP Configuration:
// - HTTP_ADDR: Listen address (default: :8080)
//
// Storage Configuration:
// - UPLOAD_DIR: Directory for uploaded media and highlight reels (default: ./uploads)
// - DATA_DIR: Directory for the job database (default: ./data)
//
// Inference Configuration:
// - INFERENCE_API_URL: Base URL of the inference service (required)
// - INFERENCE_API_KEY: Bearer token, optional for unauthenticated deployments
// - INFERENCE_TIMEOUT: Request timeout in seconds (default: 120)
//
// Search Configuration:
// - ELASTICSEARCH_URL: Comma-separated node addresses (default: http://localhost:9200)
// - ELASTICSEARCH_INDEX: Index name (default: media_files)
//
// Orchestrator Configuration:
// - ORCHESTRATOR_WORKERS: Worker pool size (default: 4)
// - ORCHESTRATOR_MAX_ATTEMPTS: Attempts per task before permanent failure (default: 3)
// - ORCHESTRATOR_BACKOFF_BASE: First retry delay, doubled per attempt (default: 500ms)
// - ORCHESTRATOR_MAX_ACTIVE_JOBS: Admission cap on non-terminal jobs (default: 32)
// - ORCHESTRATOR_TASK_TIMEOUT: Per-attempt capability timeout (default: 5m)
//
// Reindex Configuration:
// - REINDEX_CRON_EXPR: Search reindex sweep schedule (default: @every 5m)

type Config struct {
	HTTP         HTTPConfig         `json:"http"`
	Storage      StorageConfig      `json:"storage"`
	Inference    InferenceConfig    `json:"inference"`
	Search       SearchConfig       `json:"search"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Reindex      ReindexConfig      `json:"reindex"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type StorageConfig struct {
	UploadDir string `json:"upload_dir"`
	DataDir   string `json:"data_dir"`
}

// InferenceConfig holds the connection settings for the inference service
// that runs the actual models.
type InferenceConfig struct {
	APIURL  string `json:"api_url"`
	APIKey  string `json:"api_key"`
	Timeout int    `json:"timeout"`
}

type SearchConfig struct {
	Addresses []string `json:"addresses"`
	Index     string   `json:"index"`
}

type OrchestratorConfig struct {
	Workers       int           `json:"workers"`
	MaxAttempts   int           `json:"max_attempts"`
	BackoffBase   time.Duration `json:"backoff_base"`
	MaxActiveJobs int           `json:"max_active_jobs"`
	TaskTimeout   time.Duration `json:"task_timeout"`
}

type ReindexConfig struct {
	CronExpr string `json:"cron_expr"`
}

// DBPath is the SQLite database file under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "analyzer.db")
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options. A .env file in the working directory is loaded
// first; variables already exported win over it.
func NewFromEnv(opts ...Option) (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		Storage: StorageConfig{
			UploadDir: getEnvString("UPLOAD_DIR", "./uploads"),
			DataDir:   getEnvString("DATA_DIR", "./data"),
		},
		Inference: InferenceConfig{
			APIURL:  getEnvString("INFERENCE_API_URL", ""),
			APIKey:  getEnvString("INFERENCE_API_KEY", ""),
			Timeout: getEnvInt("INFERENCE_TIMEOUT", 120),
		},
		Search: SearchConfig{
			Addresses: splitList(getEnvString("ELASTICSEARCH_URL", "http://localhost:9200")),
			Index:     getEnvString("ELASTICSEARCH_INDEX", "media_files"),
		},
		Orchestrator: OrchestratorConfig{
			Workers:       getEnvInt("ORCHESTRATOR_WORKERS", 4),
			MaxAttempts:   getEnvInt("ORCHESTRATOR_MAX_ATTEMPTS", 3),
			BackoffBase:   getEnvDuration("ORCHESTRATOR_BACKOFF_BASE", 500*time.Millisecond),
			MaxActiveJobs: getEnvInt("ORCHESTRATOR_MAX_ACTIVE_JOBS", 32),
			TaskTimeout:   getEnvDuration("ORCHESTRATOR_TASK_TIMEOUT", 5*time.Minute),
		},
		Reindex: ReindexConfig{
			CronExpr: getEnvString("REINDEX_CRON_EXPR", "@every 5m"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Inference.APIURL == "" {
		return fmt.Errorf("INFERENCE_API_URL is required")
	}
	if c.Inference.Timeout < 1 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be at least 1 second")
	}
	if c.Orchestrator.Workers < 1 {
		return fmt.Errorf("ORCHESTRATOR_WORKERS must be at least 1")
	}
	if c.Orchestrator.MaxAttempts < 1 {
		return fmt.Errorf("ORCHESTRATOR_MAX_ATTEMPTS must be at least 1")
	}
	if c.Orchestrator.MaxActiveJobs < 1 {
		return fmt.Errorf("ORCHESTRATOR_MAX_ACTIVE_JOBS must be at least 1")
	}
	if len(c.Search.Addresses) == 0 {
		return fmt.Errorf("ELASTICSEARCH_URL is required")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment variables with
// default, accepting time.ParseDuration syntax like 500ms or 2m
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	ret := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ret = append(ret, trimmed)
		}
	}
	return ret
}
