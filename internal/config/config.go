package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	ModelManifest  string        `mapstructure:"MODEL_MANIFEST"`
	StorageRoot    string        `mapstructure:"STORAGE_ROOT"`
	PipelineSource string        `mapstructure:"PIPELINE_SOURCE"`
	Workers        int           `mapstructure:"PIPELINE_WORKERS"`
	Queue          int           `mapstructure:"PIPELINE_QUEUE"`
	Timeout        time.Duration `mapstructure:"PIPELINE_TIMEOUT"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	MetricsEnabled bool          `mapstructure:"METRICS_ENABLED"`
	TracingEnabled bool          `mapstructure:"TRACING_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MODEL_MANIFEST", "STORAGE_ROOT",
	"PIPELINE_SOURCE", "PIPELINE_WORKERS", "PIPELINE_QUEUE", "PIPELINE_TIMEOUT",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "BODY_LIMIT", "METRICS_ENABLED", "TRACING_ENABLED",
}

// Load reads the environment, and .env when present. It does not validate;
// call Validate, and RequireDatabase for commands that need Postgres.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MODEL_MANIFEST", "models/manifest.yaml")
	v.SetDefault("STORAGE_ROOT", "static")
	v.SetDefault("PIPELINE_SOURCE", "mednexus-risk-pipeline/v1")
	v.SetDefault("PIPELINE_WORKERS", 4)
	v.SetDefault("PIPELINE_QUEUE", 16)
	v.SetDefault("PIPELINE_TIMEOUT", "30s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("TRACING_ENABLED", false)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	origins := v.GetString("CORS_ORIGINS")
	cfg.CORSOrigins = nil
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be > 0, got %d", c.Workers)
	}
	if c.Queue < 0 {
		return fmt.Errorf("PIPELINE_QUEUE must be >= 0, got %d", c.Queue)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("PIPELINE_TIMEOUT must be positive, got %s", c.Timeout)
	}
	if c.PipelineSource == "" || len(c.PipelineSource) > 300 {
		return fmt.Errorf("PIPELINE_SOURCE must be 1-300 characters")
	}
	if c.ModelManifest == "" {
		return fmt.Errorf("MODEL_MANIFEST is required")
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("STORAGE_ROOT is required")
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// RequireDatabase reports whether DATABASE_URL is set.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}
