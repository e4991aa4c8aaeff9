package tui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/leonardotrapani/micstream/internal/config"
)

// AdvancedSection represents a section in the advanced settings menu
type AdvancedSection string

const (
	AdvancedEncoder AdvancedSection = "encoder"
	AdvancedLogging AdvancedSection = "logging"
	AdvancedMetrics AdvancedSection = "metrics"
	AdvancedBack    AdvancedSection = "back"
)

// editAdvanced handles the advanced settings submenu
func editAdvanced(cfg *config.Config) error {
	for {
		options := []huh.Option[AdvancedSection]{
			huh.NewOption(formatAdvancedEncoderLabel(cfg), AdvancedEncoder),
			huh.NewOption(formatAdvancedLoggingLabel(cfg), AdvancedLogging),
			huh.NewOption(formatAdvancedMetricsLabel(cfg), AdvancedMetrics),
			huh.NewOption("Back to Main Menu", AdvancedBack),
		}

		var selected AdvancedSection
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[AdvancedSection]().
					Title("Advanced Settings").
					Description("Configure low-level options").
					Options(options...).
					Value(&selected),
			),
		).WithTheme(getTheme())

		if err := form.Run(); err != nil {
			return err
		}

		switch selected {
		case AdvancedBack:
			return nil
		case AdvancedEncoder:
			if err := editEncoder(cfg); err != nil {
				continue
			}
		case AdvancedLogging:
			if err := editLogging(cfg); err != nil {
				continue
			}
		case AdvancedMetrics:
			if err := editMetrics(cfg); err != nil {
				continue
			}
		}
	}
}

func formatAdvancedEncoderLabel(cfg *config.Config) string {
	return fmt.Sprintf("Chunk Interval (local=%s, live=%s)",
		cfg.EncoderInterval(config.ModeLocal), cfg.EncoderInterval(config.ModeLive))
}

func formatAdvancedLoggingLabel(cfg *config.Config) string {
	return fmt.Sprintf("Logging (%s, %s)", orDefault(cfg.Logging.Level, "info"), orDefault(cfg.Logging.Format, "console"))
}

func formatAdvancedMetricsLabel(cfg *config.Config) string {
	return fmt.Sprintf("Metrics (%s)", orDefault(cfg.Metrics.Listen, "disabled"))
}

func editEncoder(cfg *config.Config) error {
	local := strconv.Itoa(cfg.Encoder.IntervalMS)
	live := strconv.Itoa(cfg.Encoder.LiveIntervalMS)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Local Chunk Interval (ms)").
				Description("Slice length while assembling an artifact. 0 = default.").
				Value(&local).
				Validate(validateNonNegative),
			huh.NewInput().
				Title("Live Chunk Interval (ms)").
				Description("Slice length while streaming. 0 = default. Smaller = lower latency.").
				Value(&live).
				Validate(validateNonNegative),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Encoder.IntervalMS, _ = strconv.Atoi(local)
	cfg.Encoder.LiveIntervalMS, _ = strconv.Atoi(live)
	return nil
}

func editLogging(cfg *config.Config) error {
	level := orDefault(cfg.Logging.Level, "info")
	format := orDefault(cfg.Logging.Format, "console")
	file := cfg.Logging.File

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("debug", "debug"),
					huh.NewOption("info", "info"),
					huh.NewOption("warn", "warn"),
					huh.NewOption("error", "error"),
				).
				Value(&level),
			huh.NewSelect[string]().
				Title("Log Format").
				Options(
					huh.NewOption("Console (human readable)", "console"),
					huh.NewOption("JSON", "json"),
				).
				Value(&format),
			huh.NewInput().
				Title("Log File").
				Description("Rotated automatically. Empty = default location.").
				Value(&file),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Logging.Level = level
	cfg.Logging.Format = format
	cfg.Logging.File = file
	return nil
}

func editMetrics(cfg *config.Config) error {
	listen := cfg.Metrics.Listen

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Metrics Listen Address").
				Description("Prometheus endpoint, e.g. '127.0.0.1:9464'. Empty = disabled.").
				Value(&listen),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Metrics.Listen = listen
	return nil
}
