// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ArchiveConfig selects where ledger exports are written.
type ArchiveConfig struct {
	Backend  string // file | s3 | gcs
	Dir      string
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// Config holds process configuration.
type Config struct {
	DBDriver      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RulesPath     string
	SubmitRPS     float64
	SubmitBurst   int
	LogLevel      string
	LogFormat     string
	OTelEnabled   bool
	OTelEndpoint  string
	OTelInsecure  bool
	Archive       ArchiveConfig
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		DBDriver:      strings.ToLower(getenv("WORKINSURANCE_DB_DRIVER", "sqlite")),
		DatabaseURL:   getenv("WORKINSURANCE_DATABASE_URL", "file:workinsurance.db"),
		RedisAddr:     os.Getenv("WORKINSURANCE_REDIS_ADDR"),
		RedisPassword: os.Getenv("WORKINSURANCE_REDIS_PASSWORD"),
		RulesPath:     os.Getenv("WORKINSURANCE_RULES_PATH"),
		SubmitRPS:     getfloat("WORKINSURANCE_SUBMIT_RPS", 0),
		SubmitBurst:   getint("WORKINSURANCE_SUBMIT_BURST", 1),
		LogLevel:      getenv("LOG_LEVEL", "INFO"),
		LogFormat:     getenv("LOG_FORMAT", "text"),
		OTelEnabled:   os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:  getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelInsecure:  os.Getenv("OTEL_INSECURE") == "true",
		Archive: ArchiveConfig{
			Backend:  strings.ToLower(getenv("WORKINSURANCE_ARCHIVE_BACKEND", "file")),
			Dir:      getenv("WORKINSURANCE_ARCHIVE_DIR", "archive"),
			Bucket:   os.Getenv("WORKINSURANCE_ARCHIVE_BUCKET"),
			Region:   os.Getenv("WORKINSURANCE_ARCHIVE_REGION"),
			Endpoint: os.Getenv("WORKINSURANCE_ARCHIVE_ENDPOINT"),
			Prefix:   os.Getenv("WORKINSURANCE_ARCHIVE_PREFIX"),
		},
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.DBDriver)
	}
	if c.SubmitRPS < 0 {
		return fmt.Errorf("config: submit rate must not be negative")
	}
	switch c.Archive.Backend {
	case "file":
	case "s3", "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("config: archive backend %s requires WORKINSURANCE_ARCHIVE_BUCKET", c.Archive.Backend)
		}
	default:
		return fmt.Errorf("config: unsupported archive backend %q", c.Archive.Backend)
	}
	return nil
}

// SQLDriverName maps the configured driver to its database/sql name.
func (c *Config) SQLDriverName() string {
	if c.DBDriver == "postgres" {
		return "postgres"
	}
	return "sqlite"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getfloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
