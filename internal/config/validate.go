package config

import (
	"fmt"

	"github.com/leonardotrapani/micstream/internal/codec"
	"github.com/leonardotrapani/micstream/internal/transport"
)

func (c *Config) Validate() error {
	switch c.General.Mode {
	case ModeLocal, ModeLive:
	default:
		return fmt.Errorf("invalid general.mode: %q (must be local or live)", c.General.Mode)
	}

	if c.Recording.SampleRate <= 0 {
		return fmt.Errorf("invalid recording.sample_rate: %d", c.Recording.SampleRate)
	}
	if c.Recording.Channels <= 0 {
		return fmt.Errorf("invalid recording.channels: %d", c.Recording.Channels)
	}
	if c.Recording.BufferSize <= 0 {
		return fmt.Errorf("invalid recording.buffer_size: %d", c.Recording.BufferSize)
	}
	if c.Recording.Format == "" {
		return fmt.Errorf("invalid recording.format: empty")
	}

	for _, mime := range c.Codec.Preferences {
		if _, err := codec.ContainerFor(mime); err != nil {
			return fmt.Errorf("invalid codec.preferences: %w", err)
		}
	}
	if c.Codec.Bitrate < 0 {
		return fmt.Errorf("invalid codec.bitrate: %d", c.Codec.Bitrate)
	}
	if c.Codec.Channels < 0 {
		return fmt.Errorf("invalid codec.channels: %d", c.Codec.Channels)
	}
	switch c.Codec.Prober {
	case "", "ffmpeg":
	case "static":
		if len(c.Codec.Supported) == 0 {
			return fmt.Errorf("invalid codec.supported: static prober needs at least one MIME type")
		}
	default:
		return fmt.Errorf("invalid codec.prober: %q (must be ffmpeg or static)", c.Codec.Prober)
	}

	if c.Encoder.IntervalMS < 0 || c.Encoder.LiveIntervalMS < 0 {
		return fmt.Errorf("invalid encoder interval: must not be negative")
	}

	if c.General.Mode == ModeLive {
		if _, err := transport.EndpointURL(c.Transport.Endpoint); err != nil {
			return fmt.Errorf("invalid transport.endpoint: %w", err)
		}
	}
	if c.Transport.ReconnectAttempts < 0 {
		return fmt.Errorf("invalid transport.reconnect_attempts: %d", c.Transport.ReconnectAttempts)
	}
	if c.Transport.ReconnectDelay < 0 {
		return fmt.Errorf("invalid transport.reconnect_delay: %v", c.Transport.ReconnectDelay)
	}
	if c.Transport.QueueSize < 0 {
		return fmt.Errorf("invalid transport.queue_size: %d", c.Transport.QueueSize)
	}

	switch c.Artifact.Store {
	case "", "file", "memory":
	default:
		return fmt.Errorf("invalid artifact.store: %q (must be file or memory)", c.Artifact.Store)
	}

	if c.Notifications.Enabled {
		validTypes := map[string]bool{"desktop": true, "log": true, "none": true}
		if !validTypes[c.Notifications.Type] {
			return fmt.Errorf("invalid notifications.type: %s (must be desktop, log, or none)", c.Notifications.Type)
		}
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid logging.format: %q (must be console or json)", c.Logging.Format)
	}
	return nil
}
