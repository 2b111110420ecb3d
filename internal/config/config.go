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
)

// Supported video providers.
const (
	ProviderPiAPI  = "piapi"
	ProviderKling  = "kling"
	ProviderDirect = "direct"
)

// Static errors for configuration validation.
var (
	// ErrUnknownProvider is returned when VIDEO_PROVIDER is not a supported value.
	ErrUnknownProvider = errors.New("config: VIDEO_PROVIDER must be one of piapi, kling, direct")
	// ErrAPIKeyRequired is returned when the provider has no credential.
	ErrAPIKeyRequired = errors.New("config: VIDEO_API_KEY is required")
	// ErrBaseURLRequired is returned when the direct provider has no endpoint.
	ErrBaseURLRequired = errors.New("config: VIDEO_BASE_URL is required for the direct provider")
	// ErrArchiveRequiresS3 is returned when ARCHIVE_TO_S3 is set without S3 settings.
	ErrArchiveRequiresS3 = errors.New("config: ARCHIVE_TO_S3 requires S3_BUCKET and S3_REGION")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int    `env:"PORT, default=8080" json:"port"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES, default=10485760" json:"max_upload_bytes"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Video provider settings
	VideoProvider         string `env:"VIDEO_PROVIDER, default=piapi" json:"video_provider"`
	VideoAPIKey           string `env:"VIDEO_API_KEY" json:"-"` // Masked in JSON
	VideoBaseURL          string `env:"VIDEO_BASE_URL" json:"video_base_url,omitempty"`
	VideoTimeoutMs        int    `env:"VIDEO_TIMEOUT_MS, default=240000" json:"video_timeout_ms"`
	VideoPollIntervalMs   int    `env:"VIDEO_POLL_INTERVAL_MS, default=3000" json:"video_poll_interval_ms"`
	VideoRequestTimeoutMs int    `env:"VIDEO_REQUEST_TIMEOUT_MS, default=30000" json:"video_request_timeout_ms"`

	// Generation defaults
	VideoModel       string `env:"VIDEO_MODEL, default=kling" json:"video_model"`
	VideoMode        string `env:"VIDEO_MODE, default=std" json:"video_mode"`
	VideoDuration    int    `env:"VIDEO_DURATION, default=5" json:"video_duration"`
	VideoAspectRatio string `env:"VIDEO_ASPECT_RATIO, default=1:1" json:"video_aspect_ratio"`

	// Official Kling access key pair, used to sign bearer tokens
	KlingAccessKey string `env:"KLING_ACCESS_KEY" json:"-"` // Masked in JSON
	KlingSecretKey string `env:"KLING_SECRET_KEY" json:"-"` // Masked in JSON

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/cardmotion" json:"temp_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON
	ArchiveToS3        bool   `env:"ARCHIVE_TO_S3, default=false" json:"archive_to_s3"`

	// Development relay settings
	RelayPort          int    `env:"RELAY_PORT, default=8099" json:"relay_port"`
	RelayTarget        string `env:"RELAY_TARGET, default=https://api.klingai.com" json:"relay_target"`
	RelayUpstreamProxy string `env:"RELAY_UPSTREAM_PROXY" json:"relay_upstream_proxy,omitempty"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// PollSettings are the generator timings as durations.
type PollSettings struct {
	Deadline       time.Duration
	Interval       time.Duration
	RequestTimeout time.Duration
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// HasKlingKeys reports whether a Kling access/secret key pair is configured.
func (c *Config) HasKlingKeys() bool {
	return c.KlingAccessKey != "" && c.KlingSecretKey != ""
}

// PollSettings converts the millisecond settings into durations.
func (c *Config) PollSettings() PollSettings {
	return PollSettings{
		Deadline:       time.Duration(c.VideoTimeoutMs) * time.Millisecond,
		Interval:       time.Duration(c.VideoPollIntervalMs) * time.Millisecond,
		RequestTimeout: time.Duration(c.VideoRequestTimeoutMs) * time.Millisecond,
	}
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Load reads configuration from environment variables using go-envconfig.
// Provider credentials are checked by Validate, since the relay binary
// loads the same Config without needing them.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.VideoProvider = strings.ToLower(strings.TrimSpace(cfg.VideoProvider))
	return cfg, nil
}

// Validate checks that the selected provider has what it needs.
func (c *Config) Validate() error {
	switch c.VideoProvider {
	case ProviderPiAPI:
		if c.VideoAPIKey == "" {
			return ErrAPIKeyRequired
		}
	case ProviderKling:
		if c.VideoAPIKey == "" && !c.HasKlingKeys() {
			return ErrAPIKeyRequired
		}
	case ProviderDirect:
		if c.VideoAPIKey == "" {
			return ErrAPIKeyRequired
		}
		if c.VideoBaseURL == "" {
			return ErrBaseURLRequired
		}
	default:
		return ErrUnknownProvider
	}

	if c.ArchiveToS3 && !c.S3Enabled() {
		return ErrArchiveRequiresS3
	}
	return nil
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
		"Config{Port: %d, VideoProvider: %s, VideoAPIKey: %s, VideoBaseURL: %s, VideoTimeoutMs: %d, VideoPollIntervalMs: %d, KlingAccessKey: %s, KlingSecretKey: %s, TempDir: %s, S3Bucket: %s, S3Region: %s, ArchiveToS3: %t, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.VideoProvider,
		mask(c.VideoAPIKey),
		c.VideoBaseURL,
		c.VideoTimeoutMs,
		c.VideoPollIntervalMs,
		mask(c.KlingAccessKey),
		mask(c.KlingSecretKey),
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		c.ArchiveToS3,
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
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
