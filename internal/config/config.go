// Package config provides configuration management for manifestcore using
// Viper. It supports configuration from file, environment variables, and
// defaults, and models exactly the manifest-wide options a caller may set.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultHTTPTimeout         = 30 * time.Second
	defaultRetryAttempts       = 3
	defaultRetryDelay          = 1 * time.Second
	defaultRetryMaxDelay       = 30 * time.Second
	defaultCircuitThreshold    = 5
	defaultCircuitTimeout      = 30 * time.Second
	defaultUpdateJitterPercent = 10
)

// Config holds all configuration recognised by the manifest engine, per
// spec.md §6 "Config (recognised manifest-wide options)".
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	DRM     DRMConfig     `mapstructure:"drm"`
	Streams StreamsConfig `mapstructure:"streams"`
	HLS     HLSConfig     `mapstructure:"hls"`
	DASH    DASHConfig    `mapstructure:"dash"`
	Retry   RetryConfig   `mapstructure:"retry_parameters"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DRMConfig controls content-protection handling.
type DRMConfig struct {
	// IgnoreDrmInfo suppresses emission of DRM info entirely.
	IgnoreDrmInfo bool `mapstructure:"ignore_drm_info"`
}

// StreamsConfig controls which stream kinds are considered and how
// failures in optional ones are handled.
type StreamsConfig struct {
	IgnoreTextStreamFailures  bool `mapstructure:"ignore_text_stream_failures"`
	IgnoreImageStreamFailures bool `mapstructure:"ignore_image_stream_failures"`
	DisableAudio              bool `mapstructure:"disable_audio"`
	DisableVideo              bool `mapstructure:"disable_video"`
	DisableText               bool `mapstructure:"disable_text"`
	DisableThumbnails         bool `mapstructure:"disable_thumbnails"`
	DisableIFrames            bool `mapstructure:"disable_iframes"`
	// AvailabilityWindowOverrideSeconds overrides the live availability
	// window computed from the manifest; 0 means "not overridden".
	AvailabilityWindowOverrideSeconds float64 `mapstructure:"availability_window_override_seconds"`
}

// HLSConfig holds HLS-parser-specific options.
type HLSConfig struct {
	SequenceMode                   bool   `mapstructure:"sequence_mode"`
	IgnoreManifestProgramDateTime  bool   `mapstructure:"ignore_manifest_program_date_time"`
	MediaPlaylistFullMimeType      string `mapstructure:"media_playlist_full_mime_type"`
	DisableCodecGuessing           bool   `mapstructure:"disable_codec_guessing"`
	IgnoreSupplementalCodecs       bool   `mapstructure:"ignore_supplemental_codecs"`
}

// DASHConfig holds DASH-parser-specific options.
type DASHConfig struct {
	IgnoreMinBufferTime bool `mapstructure:"ignore_min_buffer_time"`
}

// RetryConfig is the opaque retry/backoff policy handed to the default
// fetcher. Spec.md treats retryParameters as opaque and delegated; this is
// the concrete shape manifestcore's own reference fetcher understands.
type RetryConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	CircuitThreshold  int           `mapstructure:"circuit_threshold"`
	CircuitTimeout    time.Duration `mapstructure:"circuit_timeout"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed MANIFESTCORE_ with underscores for nesting, e.g.
// MANIFESTCORE_HLS_SEQUENCE_MODE=true.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("manifestcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/manifestcore")
	}

	v.SetEnvPrefix("MANIFESTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("drm.ignore_drm_info", false)

	v.SetDefault("streams.ignore_text_stream_failures", false)
	v.SetDefault("streams.ignore_image_stream_failures", false)
	v.SetDefault("streams.disable_audio", false)
	v.SetDefault("streams.disable_video", false)
	v.SetDefault("streams.disable_text", false)
	v.SetDefault("streams.disable_thumbnails", false)
	v.SetDefault("streams.disable_iframes", false)
	v.SetDefault("streams.availability_window_override_seconds", 0.0)

	v.SetDefault("hls.sequence_mode", false)
	v.SetDefault("hls.ignore_manifest_program_date_time", false)
	v.SetDefault("hls.media_playlist_full_mime_type", "video/mp4")
	v.SetDefault("hls.disable_codec_guessing", false)
	v.SetDefault("hls.ignore_supplemental_codecs", false)

	v.SetDefault("dash.ignore_min_buffer_time", false)

	v.SetDefault("retry_parameters.timeout", defaultHTTPTimeout)
	v.SetDefault("retry_parameters.max_attempts", defaultRetryAttempts)
	v.SetDefault("retry_parameters.base_delay", defaultRetryDelay)
	v.SetDefault("retry_parameters.max_delay", defaultRetryMaxDelay)
	v.SetDefault("retry_parameters.backoff_multiplier", 2.0)
	v.SetDefault("retry_parameters.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("retry_parameters.circuit_timeout", defaultCircuitTimeout)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Streams.AvailabilityWindowOverrideSeconds < 0 {
		return fmt.Errorf("streams.availability_window_override_seconds must be >= 0")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry_parameters.max_attempts must be at least 1")
	}
	return nil
}

// Default returns a Config populated with the same defaults SetDefaults
// applies to a viper instance, for callers that construct one in code
// rather than from a file.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}
