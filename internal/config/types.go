package config

import "time"

// Recording modes.
const (
	ModeLocal = "local"
	ModeLive  = "live"
)

type Config struct {
	General       GeneralConfig       `toml:"general"`
	Recording     RecordingConfig     `toml:"recording"`
	Codec         CodecConfig         `toml:"codec"`
	Encoder       EncoderConfig       `toml:"encoder"`
	Transport     TransportConfig     `toml:"transport"`
	Artifact      ArtifactConfig      `toml:"artifact"`
	Notifications NotificationsConfig `toml:"notifications"`
	Logging       LoggingConfig       `toml:"logging"`
	Metrics       MetricsConfig       `toml:"metrics"`
}

// GeneralConfig holds global settings that apply across the application
type GeneralConfig struct {
	Mode string `toml:"mode"` // "local" or "live"
}

type RecordingConfig struct {
	SampleRate       int    `toml:"sample_rate"`
	Channels         int    `toml:"channels"`
	Format           string `toml:"format"`
	BufferSize       int    `toml:"buffer_size"`
	Device           string `toml:"device"`
	EchoCancelSource string `toml:"echo_cancel_source"`

	EchoCancellation bool `toml:"echo_cancellation"`
	NoiseSuppression bool `toml:"noise_suppression"`
	AutoGainControl  bool `toml:"auto_gain_control"`

	// ReleaseDeviceOnStop hands the microphone back after every recording
	// instead of keeping it until shutdown.
	ReleaseDeviceOnStop bool `toml:"release_device_on_stop"`
}

type CodecConfig struct {
	Preferences []string `toml:"preferences"`
	Bitrate     int      `toml:"bitrate"`
	Channels    int      `toml:"channels"`
	Prober      string   `toml:"prober"`    // "ffmpeg" or "static"
	Supported   []string `toml:"supported"` // used by the static prober
}

type EncoderConfig struct {
	IntervalMS     int `toml:"interval_ms"` // 0 = mode default
	LiveIntervalMS int `toml:"live_interval_ms"`
}

type TransportConfig struct {
	Endpoint          string        `toml:"endpoint"`
	ReconnectAttempts int           `toml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `toml:"reconnect_delay"`
	HandshakeTimeout  time.Duration `toml:"handshake_timeout"`
	QueueSize         int           `toml:"queue_size"`
}

type ArtifactConfig struct {
	Store string `toml:"store"` // "file" or "memory"
	Dir   string `toml:"dir"`
}

type NotificationsConfig struct {
	Enabled bool   `toml:"enabled"`
	Type    string `toml:"type"` // "desktop", "log", "none"
}

type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"` // "console" or "json"
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

type MetricsConfig struct {
	Listen string `toml:"listen"` // empty disables the endpoint
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Codec.Preferences = append([]string(nil), c.Codec.Preferences...)
	cp.Codec.Supported = append([]string(nil), c.Codec.Supported...)
	return &cp
}
