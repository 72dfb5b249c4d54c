package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "groovebox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "test-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "test-token", cfg.Discord.Token)
	assert.Equal(t, "!", cfg.Discord.Prefix)
	assert.Equal(t, 50, cfg.Playback.DefaultVolumePercent)
	assert.Equal(t, 300, cfg.Playback.IdleTimeoutSec)
	assert.Equal(t, 128, cfg.Playback.BitrateKbps)
	assert.Equal(t, 0, cfg.Queue.MaxSize)
	assert.Equal(t, 30, cfg.Resolver.TimeoutSec)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FromFile(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "test-token")

	path := writeConfig(t, `
discord:
  prefix: "?"
playback:
  default_volume_percent: 80
  idle_timeout_sec: 60
queue:
  max_size: 25
  admission:
    max_seconds: 600
    reject_duplicates: true
resolver:
  force_ipv4: true
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "?", cfg.Discord.Prefix)
	assert.Equal(t, 80, cfg.Playback.DefaultVolumePercent)
	assert.Equal(t, 60, cfg.Playback.IdleTimeoutSec)
	assert.Equal(t, 25, cfg.Queue.MaxSize)
	assert.Equal(t, 600, cfg.Queue.Admission["max_seconds"])
	assert.Equal(t, true, cfg.Queue.Admission["reject_duplicates"])
	assert.True(t, cfg.Resolver.ForceIPv4)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("GROOVEBOX_PREFIX", ">")
	t.Setenv("GROOVEBOX_MAX_QUEUE_SIZE", "10")
	t.Setenv("GROOVEBOX_MAX_DURATION_SEC", "900")
	t.Setenv("GROOVEBOX_IDLE_TIMEOUT_SEC", "120")
	t.Setenv("GROOVEBOX_FORCE_IPV4", "true")

	path := writeConfig(t, `
discord:
  prefix: "!"
queue:
  max_size: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.Equal(t, ">", cfg.Discord.Prefix)
	assert.Equal(t, 10, cfg.Queue.MaxSize)
	assert.Equal(t, 900, cfg.Queue.Admission["max_seconds"])
	assert.Equal(t, 120, cfg.Playback.IdleTimeoutSec)
	assert.True(t, cfg.Resolver.ForceIPv4)
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "test-token")

	tests := []struct {
		name    string
		content string
	}{
		{
			name: "Volume above 100",
			content: `
playback:
  default_volume_percent: 150
`,
		},
		{
			name: "Negative queue size",
			content: `
queue:
  max_size: -1
`,
		},
		{
			name:    "Malformed YAML",
			content: "playback: [",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestConfig_DurationHelpers(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "test-token")

	path := writeConfig(t, `
playback:
  default_volume_percent: 50
  idle_timeout_sec: 300
  max_pause_sec: 600
resolver:
  timeout_sec: 15
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout())
	assert.Equal(t, 10*time.Minute, cfg.MaxPause())
	assert.Equal(t, 15*time.Second, cfg.ResolverTimeout())
	assert.InDelta(t, 0.5, cfg.DefaultVolume(), 0.001)
}
