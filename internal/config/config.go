package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	LogPretty   bool     `mapstructure:"LOG_PRETTY"`

	// Object storage (MinIO / S3-compatible)
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"S3_SECRET_KEY"`
	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3UseSSL    bool   `mapstructure:"S3_USE_SSL"`

	// LLM extraction service
	LLMBaseURL        string `mapstructure:"LLM_BASE_URL"`
	LLMAPIKey         string `mapstructure:"LLM_API_KEY"`
	LLMModel          string `mapstructure:"LLM_MODEL"`
	LLMTimeoutSeconds int    `mapstructure:"LLM_TIMEOUT_SECONDS"`

	// Microsoft Graph mailbox
	GraphTenantID     string `mapstructure:"GRAPH_TENANT_ID"`
	GraphClientID     string `mapstructure:"GRAPH_CLIENT_ID"`
	GraphClientSecret string `mapstructure:"GRAPH_CLIENT_SECRET"`
	GraphMailbox      string `mapstructure:"GRAPH_MAILBOX"`

	// FileMaker Data API
	FileMakerHost     string `mapstructure:"FILEMAKER_HOST"`
	FileMakerDatabase string `mapstructure:"FILEMAKER_DATABASE"`
	FileMakerLayout   string `mapstructure:"FILEMAKER_LAYOUT"`
	FileMakerUser     string `mapstructure:"FILEMAKER_USER"`
	FileMakerPassword string `mapstructure:"FILEMAKER_PASSWORD"`

	// Ingestion
	IngestPollSeconds int `mapstructure:"INGEST_POLL_SECONDS"`
	IngestMaxEmails   int `mapstructure:"INGEST_MAX_EMAILS"`
	IngestLookbackHrs int `mapstructure:"INGEST_LOOKBACK_HOURS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("S3_BUCKET", "referrals")
	v.SetDefault("S3_USE_SSL", true)
	v.SetDefault("LLM_TIMEOUT_SECONDS", 120)
	v.SetDefault("FILEMAKER_LAYOUT", "Intake")
	v.SetDefault("INGEST_POLL_SECONDS", 300)
	v.SetDefault("INGEST_MAX_EMAILS", 50)
	v.SetDefault("INGEST_LOOKBACK_HOURS", 24)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"CORS_ORIGINS", "LOG_LEVEL", "LOG_PRETTY",
		"S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_BUCKET", "S3_USE_SSL",
		"LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL", "LLM_TIMEOUT_SECONDS",
		"GRAPH_TENANT_ID", "GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET", "GRAPH_MAILBOX",
		"FILEMAKER_HOST", "FILEMAKER_DATABASE", "FILEMAKER_LAYOUT",
		"FILEMAKER_USER", "FILEMAKER_PASSWORD",
		"INGEST_POLL_SECONDS", "INGEST_MAX_EMAILS", "INGEST_LOOKBACK_HOURS",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// BlobstoreConfigured reports whether the S3 settings are complete enough to
// construct a client.
func (c *Config) BlobstoreConfigured() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// MailboxConfigured reports whether the Graph mailbox settings are complete.
func (c *Config) MailboxConfigured() bool {
	return c.GraphTenantID != "" && c.GraphClientID != "" &&
		c.GraphClientSecret != "" && c.GraphMailbox != ""
}

// FileMakerConfigured reports whether the FileMaker settings are complete.
func (c *Config) FileMakerConfigured() bool {
	return c.FileMakerHost != "" && c.FileMakerDatabase != "" &&
		c.FileMakerUser != "" && c.FileMakerPassword != ""
}

// Validate checks that the configuration is safe to run. Outbound
// integrations are optional, but when partially configured the server refuses
// to start rather than failing at first use.
func (c *Config) Validate() error {
	if c.S3Endpoint != "" && !c.BlobstoreConfigured() {
		return fmt.Errorf("S3_ENDPOINT is set but S3_ACCESS_KEY/S3_SECRET_KEY are incomplete")
	}
	if c.GraphTenantID != "" && !c.MailboxConfigured() {
		return fmt.Errorf("GRAPH_TENANT_ID is set but the Graph mailbox settings are incomplete")
	}
	if c.FileMakerHost != "" && !c.FileMakerConfigured() {
		return fmt.Errorf("FILEMAKER_HOST is set but the FileMaker settings are incomplete")
	}
	if c.IngestPollSeconds < 10 {
		return fmt.Errorf("INGEST_POLL_SECONDS must be at least 10, got %d", c.IngestPollSeconds)
	}
	return nil
}
