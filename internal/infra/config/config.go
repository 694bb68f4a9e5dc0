// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa030/segue/internal/app/playback"
	"github.com/osa030/segue/internal/app/replaygain"
	"github.com/osa030/segue/internal/infra/audio"
	"github.com/osa030/segue/internal/infra/library"
)

// Config represents the application configuration.
type Config struct {
	Player  PlayerConfig   `yaml:"player"`
	Library library.Config `yaml:"library"`
	Audio   AudioConfig    `yaml:"audio"`
	Log     LogConfig      `yaml:"log"`
}

// PlayerConfig represents playback engine configuration.
type PlayerConfig struct {
	ReplayGainMode  string `yaml:"replaygain_mode" default:"track" validate:"oneof=track album"`
	PositionTickMs  int    `yaml:"position_tick_ms" default:"500" validate:"gt=0,lte=10000"`
	PreviousGraceMs int    `yaml:"previous_grace_ms" default:"2000" validate:"gte=0,lte=30000"`
}

// AudioConfig represents audio backend configuration.
type AudioConfig struct {
	SampleRate    int `yaml:"sample_rate" default:"44100" validate:"gt=0"`
	BufferMs      int `yaml:"buffer_ms" default:"100" validate:"gt=0,lte=5000"`
	NearEndLeadMs int `yaml:"near_end_lead_ms" default:"3000" validate:"gt=0,lte=30000"`
}

// LogConfig represents logger configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"stderr"`
	Level  string `yaml:"level" default:"info"`
	File   string `yaml:"file"`
}

// Load loads configuration from a YAML file. A missing file is not an
// error; defaults apply. Environment variables take precedence over
// file values.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	case os.IsNotExist(err):
		// Defaults only.
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
	if v := os.Getenv("SEGUE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SEGUE_LIBRARY_ROOT"); v != "" {
		c.Library.Roots = []string{v}
	}
	if v := os.Getenv("SEGUE_REPLAYGAIN_MODE"); v != "" {
		c.Player.ReplayGainMode = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	if _, err := replaygain.ParseMode(c.Player.ReplayGainMode); err != nil {
		return err
	}
	return nil
}

// PlaybackConfig converts the player section into controller settings.
func (c *Config) PlaybackConfig() playback.Config {
	mode, err := replaygain.ParseMode(c.Player.ReplayGainMode)
	if err != nil {
		mode = replaygain.ModeTrack
	}
	return playback.Config{
		Mode:          mode,
		TickInterval:  time.Duration(c.Player.PositionTickMs) * time.Millisecond,
		PreviousGrace: time.Duration(c.Player.PreviousGraceMs) * time.Millisecond,
	}
}

// AudioEngineConfig converts the audio section into backend settings.
func (c *Config) AudioEngineConfig() audio.Config {
	return audio.Config{
		SampleRate:    c.Audio.SampleRate,
		BufferMS:      c.Audio.BufferMs,
		NearEndLeadMS: c.Audio.NearEndLeadMs,
	}
}
