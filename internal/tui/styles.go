package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Base styles for micstream TUI components
var (
	// Header style for titles and section headers
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	// Label style for summary labels
	StyleLabel = lipgloss.NewStyle().
			Foreground(ColorText).
			Bold(true)

	StyleSuccess = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	StyleWarning = lipgloss.NewStyle().
			Foreground(ColorWarning)
)

const logoASCII = `
            _             _
 _ __ ___  (_)  ___  ___ | |_  _ __   ___   __ _  _ __ ___
| '_ ' _ \ | | / __|/ __|| __|| '__| / _ \ / _' || '_ ' _ \
| | | | | || || (__ \__ \| |_ | |   |  __/| (_| || | | | | |
|_| |_| |_||_| \___||___/ \__||_|    \___| \__,_||_| |_| |_|`

// Logo returns the micstream ASCII art
func Logo() string {
	return StyleHeader.Render(strings.Trim(logoASCII, "\n"))
}

func LogoLines() []string {
	return strings.Split(strings.Trim(logoASCII, "\n"), "\n")
}
