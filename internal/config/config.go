package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/BrandonDHaskell/GalleryGate/internal/gallery/localtime"
)

type Config struct {
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	Env      string `mapstructure:"ENV"` // "development" | "production"
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Scheduling service
	CRMBaseURL    string        `mapstructure:"CRM_BASE_URL"`
	CRMAPIKey     string        `mapstructure:"CRM_API_KEY"`
	CRMLocationID string        `mapstructure:"CRM_LOCATION_ID"`
	CRMTimeout    time.Duration `mapstructure:"CRM_TIMEOUT"`

	// Access policy
	UTCOffset    string        `mapstructure:"GALLERY_UTC_OFFSET"`
	WindowBefore time.Duration `mapstructure:"ACCESS_WINDOW_BEFORE"`
	WindowAfter  time.Duration `mapstructure:"ACCESS_WINDOW_AFTER"`

	CORSAllowedOrigins []string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// Audit log; an empty path disables it.
	AuditDBPath             string `mapstructure:"AUDIT_DB_PATH"`
	AuditRetentionDays      int    `mapstructure:"AUDIT_RETENTION_DAYS"` // 0 = keep forever
	AuditPruneIntervalHours int    `mapstructure:"AUDIT_PRUNE_INTERVAL_HOURS"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

var keys = []string{
	"HTTP_ADDR", "GRPC_ADDR", "ENV", "LOG_LEVEL",
	"CRM_BASE_URL", "CRM_API_KEY", "CRM_LOCATION_ID", "CRM_TIMEOUT",
	"GALLERY_UTC_OFFSET", "ACCESS_WINDOW_BEFORE", "ACCESS_WINDOW_AFTER",
	"CORS_ALLOWED_ORIGINS",
	"AUDIT_DB_PATH", "AUDIT_RETENTION_DAYS", "AUDIT_PRUNE_INTERVAL_HOURS",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
}

// Load reads configuration from the environment and an optional .env file.
// It does not validate; call Validate before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CRM_BASE_URL", "https://services.leadconnectorhq.com")
	v.SetDefault("CRM_TIMEOUT", "10s")
	v.SetDefault("GALLERY_UTC_OFFSET", localtime.DefaultOffset)
	v.SetDefault("ACCESS_WINDOW_BEFORE", "2h")
	v.SetDefault("ACCESS_WINDOW_AFTER", "4h")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("AUDIT_DB_PATH", "")
	v.SetDefault("AUDIT_RETENTION_DAYS", 30)
	v.SetDefault("AUDIT_PRUNE_INTERVAL_HOURS", 6)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	// Unmarshal only sees env vars that are bound.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSAllowedOrigins = splitCSV(v.GetString("CORS_ALLOWED_ORIGINS"))
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env != "development" && cfg.Env != "production" {
		// fail-soft: treat unknown as production
		cfg.Env = "production"
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate rejects configurations the service cannot run with.  A missing
// credential or location id is fatal here, before any request is served.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CRMAPIKey) == "" {
		return fmt.Errorf("CRM_API_KEY is required")
	}
	if strings.TrimSpace(c.CRMLocationID) == "" {
		return fmt.Errorf("CRM_LOCATION_ID is required")
	}
	if strings.TrimSpace(c.CRMBaseURL) == "" {
		return fmt.Errorf("CRM_BASE_URL must not be empty")
	}
	if c.WindowBefore < 0 || c.WindowAfter < 0 {
		return fmt.Errorf("ACCESS_WINDOW_BEFORE and ACCESS_WINDOW_AFTER must not be negative")
	}
	if c.AuditRetentionDays < 0 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must not be negative")
	}
	return nil
}

// Location resolves GALLERY_UTC_OFFSET.  ok is false when the configured
// value was malformed and UTC was substituted.
func (c *Config) Location() (loc *time.Location, ok bool) {
	if strings.TrimSpace(c.UTCOffset) == "" {
		return time.UTC, true
	}
	return localtime.ParseOffset(c.UTCOffset)
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
