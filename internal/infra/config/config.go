// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Playback PlaybackConfig `yaml:"playback"`
	Queue    QueueConfig    `yaml:"queue"`
	Resolver ResolverConfig `yaml:"resolver"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DiscordConfig represents chat platform configuration. The token is
// taken from the environment only and never from the file.
type DiscordConfig struct {
	Token  string `yaml:"-" validate:"required"`
	Prefix string `yaml:"prefix" default:"!"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	DefaultVolumePercent int `yaml:"default_volume_percent" default:"50" validate:"gte=1,lte=100"`
	IdleTimeoutSec       int `yaml:"idle_timeout_sec" default:"300" validate:"gte=1"`
	MaxPauseSec          int `yaml:"max_pause_sec" default:"0" validate:"gte=0"`     // 0 = no watchdog
	BitrateKbps          int `yaml:"bitrate_kbps" default:"128" validate:"gte=8,lte=512"`
}

// QueueConfig represents queue limits. Admission holds loosely-typed
// settings for the enqueue admission rules (max_seconds, allow_live).
type QueueConfig struct {
	MaxSize   int            `yaml:"max_size" default:"0" validate:"gte=0"` // 0 = unlimited
	Admission map[string]any `yaml:"admission,omitempty"`
}

// ResolverConfig represents track resolver configuration.
type ResolverConfig struct {
	ForceIPv4  bool `yaml:"force_ipv4" default:"false"`
	TimeoutSec int  `yaml:"timeout_sec" default:"30" validate:"gte=1"`
}

// LoggingConfig represents logger configuration.
type LoggingConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info"`
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables take precedence for secrets.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	case os.IsNotExist(err):
		// Config file is optional; environment plus defaults suffice.
	default:
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("GROOVEBOX_PREFIX"); v != "" {
		c.Discord.Prefix = v
	}
	if v := os.Getenv("GROOVEBOX_MAX_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.MaxSize = n
		}
	}
	if v := os.Getenv("GROOVEBOX_MAX_DURATION_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			if c.Queue.Admission == nil {
				c.Queue.Admission = make(map[string]any)
			}
			c.Queue.Admission["max_seconds"] = n
		}
	}
	if v := os.Getenv("GROOVEBOX_IDLE_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Playback.IdleTimeoutSec = n
		}
	}
	if v := os.Getenv("GROOVEBOX_FORCE_IPV4"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Resolver.ForceIPv4 = b
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// IdleTimeout returns the idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Playback.IdleTimeoutSec) * time.Second
}

// MaxPause returns the pause watchdog duration; zero disables it.
func (c *Config) MaxPause() time.Duration {
	return time.Duration(c.Playback.MaxPauseSec) * time.Second
}

// DefaultVolume returns the default volume as a fraction in (0,1].
func (c *Config) DefaultVolume() float64 {
	return float64(c.Playback.DefaultVolumePercent) / 100
}

// ResolverTimeout returns the per-call resolver timeout.
func (c *Config) ResolverTimeout() time.Duration {
	return time.Duration(c.Resolver.TimeoutSec) * time.Second
}
