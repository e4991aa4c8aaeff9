package tui

import (
	"github.com/charmbracelet/huh"
	"github.com/leonardotrapani/micstream/internal/config"
	"github.com/leonardotrapani/micstream/internal/notify"
)

// editNotifications picks where recording, connection and error events
// are announced, with an optional preview of the chosen backend.
func editNotifications(cfg *config.Config) error {
	kind := cfg.NotifierType()
	preview := false

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Notifications").
				Description("Shown when recording starts or stops, the stream drops, an artifact is saved, or an error occurs").
				Options(
					huh.NewOption("Desktop notifications (notify-send)", "desktop"),
					huh.NewOption("Log only", "log"),
					huh.NewOption("Off", "none"),
				).
				Value(&kind),
			huh.NewConfirm().
				Title("Send a preview?").
				Affirmative("Yes").
				Negative("No").
				Value(&preview),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return err
	}

	applyNotifierKind(&cfg.Notifications, kind)
	if preview {
		notify.New(cfg.NotifierType()).RecordingChanged(true)
	}
	return nil
}

// applyNotifierKind maps the menu choice onto enabled/type. "none" keeps the
// previous type so re-enabling restores it.
func applyNotifierKind(n *config.NotificationsConfig, kind string) {
	if kind == "none" {
		n.Enabled = false
		return
	}
	n.Enabled = true
	n.Type = kind
}
