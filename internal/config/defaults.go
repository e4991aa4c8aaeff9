package config

import (
	"time"

	"github.com/leonardotrapani/micstream/internal/codec"
)

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{Mode: ModeLocal},
		Recording: RecordingConfig{
			SampleRate:       48000,
			Channels:         1,
			Format:           "s16",
			BufferSize:       4096,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		Codec: CodecConfig{
			Preferences: append([]string(nil), codec.DefaultPreferences...),
			Prober:      "ffmpeg",
		},
		Encoder: EncoderConfig{
			IntervalMS:     250,
			LiveIntervalMS: 100,
		},
		Transport: TransportConfig{
			Endpoint:          "http://127.0.0.1:8000",
			ReconnectAttempts: 5,
			ReconnectDelay:    time.Second,
			HandshakeTimeout:  10 * time.Second,
			QueueSize:         64,
		},
		Artifact: ArtifactConfig{
			Store: "file",
		},
		Notifications: NotificationsConfig{
			Enabled: true,
			Type:    "desktop",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}
