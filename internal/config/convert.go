package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/leonardotrapani/micstream/internal/codec"
	"github.com/leonardotrapani/micstream/internal/encoder"
	"github.com/leonardotrapani/micstream/internal/logging"
	"github.com/leonardotrapani/micstream/internal/recording"
	"github.com/leonardotrapani/micstream/internal/transport"
)

func (c *Config) ToPipeWireConfig() recording.PipeWireConfig {
	return recording.PipeWireConfig{
		SampleRate:       c.Recording.SampleRate,
		Channels:         c.Recording.Channels,
		Format:           c.Recording.Format,
		BufferSize:       c.Recording.BufferSize,
		Device:           c.Recording.Device,
		EchoCancelSource: c.Recording.EchoCancelSource,
	}
}

func (c *Config) Constraints() recording.Constraints {
	return recording.Constraints{
		EchoCancellation: c.Recording.EchoCancellation,
		NoiseSuppression: c.Recording.NoiseSuppression,
		AutoGainControl:  c.Recording.AutoGainControl,
	}
}

// NewProber builds the codec capability source selected by codec.prober.
func (c *Config) NewProber() codec.Prober {
	if c.Codec.Prober == "static" {
		return codec.NewStaticProber(c.Codec.Supported...)
	}
	return codec.NewFFmpegProber()
}

func (c *Config) NewNegotiator(prober codec.Prober) *codec.Negotiator {
	return codec.NewNegotiator(prober, c.Codec.Preferences,
		codec.WithBitrate(c.Codec.Bitrate), codec.WithChannels(c.Codec.Channels))
}

// EncoderInterval returns the chunk interval for a recording mode.
func (c *Config) EncoderInterval(mode string) time.Duration {
	ms := c.Encoder.IntervalMS
	def := 250
	if mode == ModeLive {
		ms, def = c.Encoder.LiveIntervalMS, 100
	}
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

// NewEncoder returns an encoder slicing at the interval for mode.
func (c *Config) NewEncoder(mode string) *encoder.Encoder {
	return encoder.New(c.EncoderInterval(mode))
}

func (c *Config) ToTransportOptions() transport.Options {
	return transport.Options{
		ReconnectAttempts: c.Transport.ReconnectAttempts,
		ReconnectDelay:    c.Transport.ReconnectDelay,
		HandshakeTimeout:  c.Transport.HandshakeTimeout,
		QueueSize:         c.Transport.QueueSize,
	}
}

func (c *Config) ToLoggingConfig() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
	}
}

// ArtifactDir resolves artifact.dir, defaulting under the XDG data home.
func (c *Config) ArtifactDir() string {
	if c.Artifact.Dir != "" {
		return c.Artifact.Dir
	}
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "micstream", "recordings")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "micstream", "recordings")
	}
	return filepath.Join(home, ".local", "share", "micstream", "recordings")
}

func (c *Config) NotifierType() string {
	if !c.Notifications.Enabled {
		return "none"
	}
	return c.Notifications.Type
}
