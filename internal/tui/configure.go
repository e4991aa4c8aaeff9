package tui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/leonardotrapani/micstream/internal/config"
	"github.com/muesli/termenv"
)

// ConfigureResult holds the configuration result from the TUI
type ConfigureResult struct {
	Config    *config.Config
	Cancelled bool
}

// ConfigSection represents a configuration section
type ConfigSection string

const (
	SectionGeneral       ConfigSection = "general"
	SectionRecording     ConfigSection = "recording"
	SectionCodec         ConfigSection = "codec"
	SectionTransport     ConfigSection = "transport"
	SectionArtifact      ConfigSection = "artifact"
	SectionNotifications ConfigSection = "notifications"
	SectionAdvanced      ConfigSection = "advanced"
	SectionSaveExit      ConfigSection = "save_exit"
	SectionDiscardExit   ConfigSection = "discard_exit"
)

// Run starts the configuration menu. The given config is edited on a copy;
// it is returned only when the user saves.
func Run(existingConfig *config.Config) (*ConfigureResult, error) {
	cfg := config.DefaultConfig()
	if existingConfig != nil {
		cfg = existingConfig.Clone()
	}

	for {
		clearScreen()
		fmt.Println(Logo())
		fmt.Println()

		section, err := selectSection(cfg)
		if err != nil {
			return &ConfigureResult{Cancelled: true}, nil
		}

		switch section {
		case SectionSaveExit:
			if err := cfg.Validate(); err != nil {
				if err := showInvalid(err); err != nil {
					return &ConfigureResult{Cancelled: true}, nil
				}
				continue
			}
			confirmed, err := showSummary(cfg)
			if err != nil {
				return &ConfigureResult{Cancelled: true}, nil
			}
			if confirmed {
				return &ConfigureResult{Config: cfg, Cancelled: false}, nil
			}

		case SectionDiscardExit:
			return &ConfigureResult{Cancelled: true}, nil

		case SectionGeneral:
			if err := editGeneral(cfg); err != nil {
				continue
			}

		case SectionRecording:
			if err := editRecording(cfg); err != nil {
				continue
			}

		case SectionCodec:
			if err := editCodec(cfg); err != nil {
				continue
			}

		case SectionTransport:
			if err := editTransport(cfg); err != nil {
				continue
			}

		case SectionArtifact:
			if err := editArtifact(cfg); err != nil {
				continue
			}

		case SectionNotifications:
			if err := editNotifications(cfg); err != nil {
				continue
			}

		case SectionAdvanced:
			if err := editAdvanced(cfg); err != nil {
				continue
			}
		}
	}
}

func menuOptions(cfg *config.Config) []huh.Option[ConfigSection] {
	return []huh.Option[ConfigSection]{
		huh.NewOption(formatGeneralLabel(cfg), SectionGeneral),
		huh.NewOption(formatRecordingLabel(cfg), SectionRecording),
		huh.NewOption(formatCodecLabel(cfg), SectionCodec),
		huh.NewOption(formatTransportLabel(cfg), SectionTransport),
		huh.NewOption(formatArtifactLabel(cfg), SectionArtifact),
		huh.NewOption(formatNotificationsLabel(cfg), SectionNotifications),
		huh.NewOption("Advanced Settings", SectionAdvanced),
		huh.NewOption("Save & Exit", SectionSaveExit),
		huh.NewOption("Discard & Exit", SectionDiscardExit),
	}
}

func selectSection(cfg *config.Config) (ConfigSection, error) {
	var selected ConfigSection
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[ConfigSection]().
				Title("Configuration Menu").
				Description("↑/↓ navigate • enter select • esc cancel").
				Options(menuOptions(cfg)...).
				Value(&selected),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return "", err
	}

	return selected, nil
}

func showInvalid(cause error) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(StyleError.Render("Invalid configuration")).
				Description(cause.Error()).
				Next(true).
				NextLabel("Back"),
		),
	).WithTheme(getTheme()).Run()
}

// clearScreen clears the terminal screen
func clearScreen() {
	output := termenv.NewOutput(os.Stdout)
	output.ClearScreen()
}

func getTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Title = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	t.Focused.Description = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Focused.Base = lipgloss.NewStyle().BorderForeground(ColorPrimary)
	t.Focused.SelectedOption = lipgloss.NewStyle().Foreground(ColorSecondary)
	t.Focused.UnselectedOption = lipgloss.NewStyle().Foreground(ColorText)

	t.Blurred.Title = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Blurred.Description = lipgloss.NewStyle().Foreground(ColorSubtle)

	return t
}
