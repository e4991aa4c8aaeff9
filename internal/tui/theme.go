package tui

import "github.com/charmbracelet/lipgloss"

// Color palette for micstream TUI
var (
	ColorPrimary   = lipgloss.Color("#0EA5E9") // Sky - main accent
	ColorSecondary = lipgloss.Color("#A78BFA") // Violet - focused options, stopping

	// Status colors. Success doubles as the recording indicator and warning
	// as the acquiring one.
	ColorSuccess = lipgloss.Color("#22C55E")
	ColorError   = lipgloss.Color("#EF4444")
	ColorWarning = lipgloss.Color("#F59E0B")

	// Text colors
	ColorText   = lipgloss.Color("#F8FAFC")
	ColorMuted  = lipgloss.Color("#94A3B8")
	ColorSubtle = lipgloss.Color("#64748B")
)
