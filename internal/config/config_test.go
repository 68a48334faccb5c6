package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.False(t, cfg.DRM.IgnoreDrmInfo)
	assert.False(t, cfg.Streams.DisableAudio)
	assert.Equal(t, 0.0, cfg.Streams.AvailabilityWindowOverrideSeconds)

	assert.Equal(t, "video/mp4", cfg.HLS.MediaPlaylistFullMimeType)
	assert.False(t, cfg.HLS.SequenceMode)

	assert.False(t, cfg.DASH.IgnoreMinBufferTime)

	assert.Equal(t, defaultRetryAttempts, cfg.Retry.MaxAttempts)
}

func TestValidate_RejectsBadLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNegativeWindowOverride(t *testing.T) {
	cfg := Default()
	cfg.Streams.AvailabilityWindowOverrideSeconds = -1
	assert.Error(t, cfg.Validate())
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)
	assert.NoError(t, cfg.Validate())
}
