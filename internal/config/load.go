package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/leonardotrapani/micstream/internal/logging"
)

var log = logging.L("config")

var ErrConfigNotFound = errors.New("config not found")

func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	micstreamDir := filepath.Join(configDir, "micstream")
	if err := os.MkdirAll(micstreamDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return filepath.Join(micstreamDir, "config.toml"), nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(configPath)
}

// LoadFile decodes path on top of DefaultConfig, so keys missing from the
// file keep their defaults.
func LoadFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: run micstream configure", ErrConfigNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	log.Debugf("Config: loading configuration from %s", configPath)
	config := DefaultConfig()
	meta, err := toml.DecodeFile(configPath, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log.Warnf("Config: ignoring unknown keys %v", undecoded)
	}
	// an explicit empty list would otherwise disable negotiation entirely
	if meta.IsDefined("codec", "preferences") && len(config.Codec.Preferences) == 0 {
		config.Codec.Preferences = DefaultConfig().Codec.Preferences
	}

	log.Debugf("Config: configuration loaded successfully")
	return config, nil
}

// LoadOrDefault loads the user config, writing the defaults first when the
// file does not exist yet.
func LoadOrDefault() (*Config, error) {
	config, err := Load()
	if errors.Is(err, ErrConfigNotFound) {
		log.Infof("Config: no configuration found, writing defaults")
		if err := SaveDefaultConfig(); err != nil {
			return nil, err
		}
		return DefaultConfig(), nil
	}
	return config, err
}

// Save writes c to the user config path.
func Save(c *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(configPath, c)
}

func SaveFile(configPath string, c *Config) error {
	var buf bytes.Buffer
	buf.WriteString(header)
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp := configPath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, configPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	log.Infof("Config: saved configuration to %s", configPath)
	return nil
}

func SaveDefaultConfig() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, []byte(defaultTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	return nil
}

const header = `# micstream configuration
# Changes are picked up by a running daemon at the next recording.

`

const defaultTemplate = header + `[general]
  mode = "local"               # "local" assembles a file, "live" streams to the endpoint

# Microphone capture (PipeWire)
[recording]
  sample_rate = 48000          # Capture rate in Hz
  channels = 1                 # 1 = mono, 2 = stereo
  format = "s16"               # pw-record sample format
  buffer_size = 4096           # Read size in bytes
  device = ""                  # PipeWire node (empty = default microphone)
  echo_cancel_source = ""      # Node used when echo_cancellation is on (echo-cancel module source)
  echo_cancellation = true
  noise_suppression = true
  auto_gain_control = true
  release_device_on_stop = false  # true = free the microphone after every recording

# Encoding negotiation, earlier entries win
[codec]
  preferences = ["audio/webm", "audio/webm;codecs=opus", "audio/mp4", "audio/mp4;codecs=opus", "audio/ogg", "audio/ogg;codecs=opus", "audio/wav"]
  bitrate = 0                  # bits per second, 0 = encoder default
  channels = 0                 # 0 = follow capture
  prober = "ffmpeg"            # "ffmpeg" probes the local build, "static" trusts codec.supported
  supported = []

[encoder]
  interval_ms = 250            # Chunk interval for local recordings
  live_interval_ms = 100       # Chunk interval while streaming

[transport]
  endpoint = "http://127.0.0.1:8000"
  reconnect_attempts = 5
  reconnect_delay = "1s"
  handshake_timeout = "10s"
  queue_size = 64              # Outbound frames buffered per connection

[artifact]
  store = "file"               # "file" or "memory"
  dir = ""                     # empty = $XDG_DATA_HOME/micstream/recordings

[notifications]
  enabled = true
  type = "desktop"             # "desktop", "log", "none"

[logging]
  level = "info"
  format = "console"           # "console" or "json"
  file = ""                    # optional rotated log file
  max_size_mb = 10
  max_backups = 3

[metrics]
  listen = ""                  # e.g. "127.0.0.1:9464" to expose /metrics
`
