package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/leonardotrapani/micstream/internal/config"
	"github.com/leonardotrapani/micstream/internal/transport"
)

func formatGeneralLabel(cfg *config.Config) string {
	return fmt.Sprintf("Mode (%s)", cfg.General.Mode)
}

func formatRecordingLabel(cfg *config.Config) string {
	device := cfg.Recording.Device
	if device == "" {
		device = "default"
	}
	return fmt.Sprintf("Recording (%s, %d Hz)", device, cfg.Recording.SampleRate)
}

func formatCodecLabel(cfg *config.Config) string {
	if len(cfg.Codec.Preferences) == 0 {
		return "Codec"
	}
	return fmt.Sprintf("Codec (%s first)", cfg.Codec.Preferences[0])
}

func formatTransportLabel(cfg *config.Config) string {
	return fmt.Sprintf("Transport (%s)", cfg.Transport.Endpoint)
}

func formatArtifactLabel(cfg *config.Config) string {
	if cfg.Artifact.Store == "memory" {
		return "Artifacts (memory)"
	}
	return fmt.Sprintf("Artifacts (%s)", cfg.ArtifactDir())
}

// formatNotificationsLabel formats the notifications menu option
func formatNotificationsLabel(cfg *config.Config) string {
	if !cfg.Notifications.Enabled {
		return "Notifications (off)"
	}
	return fmt.Sprintf("Notifications (%s)", cfg.Notifications.Type)
}

type summaryLine struct {
	Label string
	Value string
}

func summaryLines(cfg *config.Config) []summaryLine {
	lines := []summaryLine{
		{"Mode:", cfg.General.Mode},
		{"Device:", orDefault(cfg.Recording.Device, "default microphone")},
		{"Sample rate:", fmt.Sprintf("%d Hz", cfg.Recording.SampleRate)},
		{"Processing:", processingSummary(cfg.Recording)},
		{"Codecs:", strings.Join(cfg.Codec.Preferences, " -> ")},
		{"Prober:", orDefault(cfg.Codec.Prober, "ffmpeg")},
	}
	if cfg.General.Mode == config.ModeLive {
		lines = append(lines,
			summaryLine{"Endpoint:", cfg.Transport.Endpoint},
			summaryLine{"Reconnect:", fmt.Sprintf("%d attempts, %s apart", cfg.Transport.ReconnectAttempts, cfg.Transport.ReconnectDelay)},
		)
	} else {
		lines = append(lines, summaryLine{"Artifacts:", formatArtifactLabel(cfg)})
	}

	notifications := "disabled"
	if cfg.Notifications.Enabled {
		notifications = cfg.Notifications.Type
	}
	lines = append(lines, summaryLine{"Notifications:", notifications})
	if cfg.Metrics.Listen != "" {
		lines = append(lines, summaryLine{"Metrics:", cfg.Metrics.Listen})
	}
	return lines
}

func processingSummary(r config.RecordingConfig) string {
	var on []string
	if r.EchoCancellation {
		on = append(on, "echo cancellation")
	}
	if r.NoiseSuppression {
		on = append(on, "noise suppression")
	}
	if r.AutoGainControl {
		on = append(on, "auto gain")
	}
	if len(on) == 0 {
		return "none"
	}
	return strings.Join(on, ", ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func showSummary(cfg *config.Config) (bool, error) {
	fmt.Println()
	fmt.Println(StyleHeader.Render("Configuration Summary"))
	fmt.Println()

	for _, l := range summaryLines(cfg) {
		fmt.Printf("  %s %s\n", StyleLabel.Render(l.Label), l.Value)
	}

	fmt.Println()

	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this configuration?").
				Affirmative("Save").
				Negative("Cancel").
				Value(&confirmed),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return false, err
	}

	return confirmed, nil
}

func validateNonNegative(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validatePositive(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if n <= 0 {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration format (use '500ms', '2s', etc.)")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateEndpoint(s string) error {
	_, err := transport.EndpointURL(s)
	return err
}

// parsePreferences splits a comma separated MIME list, dropping blanks.
func parsePreferences(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
