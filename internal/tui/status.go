package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// StatusView renders daemon status lines for a terminal.
type StatusView struct {
	label lipgloss.Style
	value lipgloss.Style
	state map[string]lipgloss.Style
	bad   lipgloss.Style
	muted lipgloss.Style
}

// NewStatusView styles output for w, detecting its color support.
func NewStatusView(w io.Writer) *StatusView {
	return newStatusView(lipgloss.NewRenderer(w))
}

// NewPlainStatusView renders without any color or text attributes.
func NewPlainStatusView(w io.Writer) *StatusView {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(termenv.Ascii)
	return newStatusView(r)
}

func newStatusView(r *lipgloss.Renderer) *StatusView {
	return &StatusView{
		label: r.NewStyle().Foreground(ColorMuted).Width(12),
		value: r.NewStyle().Foreground(ColorText),
		state: map[string]lipgloss.Style{
			"idle":      r.NewStyle().Foreground(ColorMuted).Bold(true),
			"acquiring": r.NewStyle().Foreground(ColorWarning).Bold(true),
			"recording": r.NewStyle().Foreground(ColorSuccess).Bold(true),
			"stopping":  r.NewStyle().Foreground(ColorSecondary).Bold(true),
		},
		bad:   r.NewStyle().Foreground(ColorError).Bold(true),
		muted: r.NewStyle().Foreground(ColorSubtle).Italic(true),
	}
}

// Render formats fields parsed from a STATUS line.
func (v *StatusView) Render(fields map[string]string) string {
	var b strings.Builder

	state := fields["status"]
	st, ok := v.state[state]
	if !ok {
		st = v.bad
	}
	b.WriteString(st.Render("● " + orDefault(state, "unknown")))
	if mode := fields["mode"]; mode != "" {
		b.WriteString(" " + v.muted.Render("("+mode+")"))
	}
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString("  " + v.label.Render(label) + v.value.Render(value) + "\n")
	}

	if fields["mode"] == "live" {
		connected := "no"
		if fields["connected"] == "true" {
			connected = "yes"
		}
		row("connected", connected)
	}
	if c := fields["codec"]; c != "" {
		row("codec", c)
	}
	chunks := orDefault(fields["chunks"], "0")
	if d := fields["dropped"]; d != "" && d != "0" {
		chunks = fmt.Sprintf("%s (%s dropped)", chunks, d)
	}
	row("chunks", chunks)
	if a := fields["artifact"]; a != "" {
		row("artifact", fmt.Sprintf("%s (%s bytes)", a, orDefault(fields["size"], "0")))
	}
	if e := orDefault(fields["error"], fields["last_error"]); e != "" {
		b.WriteString("  " + v.label.Render("last error") + v.bad.Render(e) + "\n")
	}
	return b.String()
}
