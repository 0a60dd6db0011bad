// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/mediagen-api/internal/catalog"
	"github.com/maauso/mediagen-api/internal/provider"
	"github.com/maauso/mediagen-api/internal/storage"
)

// Static errors for configuration validation.
var (
	// ErrInvalidCatalogCap is returned when a catalog cap is negative.
	ErrInvalidCatalogCap = errors.New("config: catalog caps must not be negative")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
	// ErrInvalidHTTPTimeout is returned when HTTP_TIMEOUT is not positive.
	ErrInvalidHTTPTimeout = errors.New("config: HTTP_TIMEOUT must be positive")

	// ErrInvalidSSEKeepAlive is returned when SSE_KEEPALIVE is not positive.
	ErrInvalidSSEKeepAlive = errors.New("config: SSE_KEEPALIVE must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port        int           `env:"PORT, default=8080" json:"port"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT, default=60s" json:"http_timeout"`
	// SSEKeepAlive is the idle interval between comment lines on event streams.
	SSEKeepAlive time.Duration `env:"SSE_KEEPALIVE, default=15s" json:"sse_keepalive"`

	// Vendor credentials and endpoints. Absent values surface as
	// PROVIDER_UNCONFIGURED on the jobs that need them.
	VideoAPIKey       string `env:"VIDEO_API_KEY" json:"-"` // Masked in JSON
	VideoBaseURL      string `env:"VIDEO_API_BASE_URL" json:"video_api_base_url,omitempty"`
	ImageAPIKey       string `env:"IMAGE_API_KEY" json:"-"` // Masked in JSON
	ImageBaseURL      string `env:"IMAGE_API_BASE_URL" json:"image_api_base_url,omitempty"`
	KlingAccessKey    string `env:"KLING_ACCESS_KEY" json:"-"` // Masked in JSON
	KlingSecretKey    string `env:"KLING_SECRET_KEY" json:"-"` // Masked in JSON
	KlingBaseURL      string `env:"KLING_BASE_URL" json:"kling_base_url,omitempty"`
	BeamToken         string `env:"BEAM_TOKEN" json:"-"` // Masked in JSON
	BeamQueueURL      string `env:"BEAM_QUEUE_URL" json:"beam_queue_url,omitempty"`
	RunPodAPIKey      string `env:"RUNPOD_API_KEY" json:"-"` // Masked in JSON
	RunPodEndpointURL string `env:"RUNPOD_ENDPOINT_URL" json:"runpod_endpoint_url,omitempty"`

	// ProvidersFile is an optional YAML file of extra or overriding profiles.
	ProvidersFile string `env:"PROVIDERS_FILE" json:"providers_file,omitempty"`

	// Storage settings
	TempDir     string `env:"TEMP_DIR, default=/tmp/mediagen" json:"temp_dir"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Catalog settings
	DatabaseURL     string `env:"DATABASE_URL" json:"-"` // May embed a password
	CatalogImageCap int    `env:"CATALOG_IMAGE_CAP, default=50" json:"catalog_image_cap"`
	CatalogVideoCap int    `env:"CATALOG_VIDEO_CAP, default=20" json:"catalog_video_cap"`

	// Archive settings
	ArchiveMedia       bool   `env:"ARCHIVE_MEDIA, default=false" json:"archive_media"`
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// PostgresEnabled returns true if the catalog should be kept in PostgreSQL.
func (c *Config) PostgresEnabled() bool {
	return c.DatabaseURL != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if a variable cannot be parsed or fails validation.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	if c.CatalogImageCap < 0 || c.CatalogVideoCap < 0 {
		return ErrInvalidCatalogCap
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	if c.HTTPTimeout <= 0 {
		return ErrInvalidHTTPTimeout
	}
	if c.SSEKeepAlive <= 0 {
		return ErrInvalidSSEKeepAlive
	}
	return nil
}

// Credentials returns the vendor credentials. Unset values are left out so
// lookups report provider.ErrUnconfigured.
func (c *Config) Credentials() provider.Credentials {
	creds := provider.Credentials{}
	for name, v := range map[string]string{
		provider.CredVideoAPIKey:    c.VideoAPIKey,
		provider.CredImageAPIKey:    c.ImageAPIKey,
		provider.CredKlingAccessKey: c.KlingAccessKey,
		provider.CredKlingSecretKey: c.KlingSecretKey,
		provider.CredBeamToken:      c.BeamToken,
		provider.CredRunPodAPIKey:   c.RunPodAPIKey,
	} {
		if strings.TrimSpace(v) != "" {
			creds[name] = v
		}
	}
	return creds
}

// BuiltinConfig returns the endpoints of the built-in provider profiles.
func (c *Config) BuiltinConfig() provider.BuiltinConfig {
	return provider.BuiltinConfig{
		VideoBaseURL:      c.VideoBaseURL,
		ImageBaseURL:      c.ImageBaseURL,
		KlingBaseURL:      c.KlingBaseURL,
		BeamQueueURL:      c.BeamQueueURL,
		RunPodEndpointURL: c.RunPodEndpointURL,
	}
}

// CatalogCaps returns the per-kind retention caps of the media catalog.
func (c *Config) CatalogCaps() catalog.Caps {
	return catalog.Caps{Image: c.CatalogImageCap, Video: c.CatalogVideoCap}
}

// S3Config returns the archive bucket settings.
func (c *Config) S3Config() storage.S3Config {
	return storage.S3Config{
		Bucket:          c.S3Bucket,
		Region:          c.S3Region,
		Endpoint:        c.S3Endpoint,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
	}
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, HTTPTimeout: %s, Credentials: [%s], ProvidersFile: %s, TempDir: %s, Catalog: %s, CatalogCaps: %d/%d, ArchiveMedia: %t, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.HTTPTimeout,
		strings.Join(c.configuredCredentials(), ","),
		c.ProvidersFile,
		c.TempDir,
		c.catalogBackend(),
		c.CatalogImageCap,
		c.CatalogVideoCap,
		c.ArchiveMedia,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// configuredCredentials lists the names, never the values, of set credentials.
func (c *Config) configuredCredentials() []string {
	var names []string
	for _, n := range []struct {
		name string
		set  bool
	}{
		{"VIDEO_API_KEY", c.VideoAPIKey != ""},
		{"IMAGE_API_KEY", c.ImageAPIKey != ""},
		{"KLING_ACCESS_KEY", c.KlingAccessKey != ""},
		{"KLING_SECRET_KEY", c.KlingSecretKey != ""},
		{"BEAM_TOKEN", c.BeamToken != ""},
		{"RUNPOD_API_KEY", c.RunPodAPIKey != ""},
	} {
		if n.set {
			names = append(names, n.name)
		}
	}
	return names
}

func (c *Config) catalogBackend() string {
	if c.PostgresEnabled() {
		return "postgres"
	}
	return "memory"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
