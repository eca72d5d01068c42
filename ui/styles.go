package ui

import "github.com/charmbracelet/lipgloss"

// The accent colors follow the GNOME palette so the terminal interface
// matches the desktop notifications.
const (
	colorConnected  = "#2ec27e"
	colorConnecting = "#e5a50a"
	colorError      = "#e01b24"
	colorAccent     = "#3584e4"
)

// styles groups every lipgloss style the views use. One instance is
// built at startup from the configured theme.
type styles struct {
	title      lipgloss.Style
	panel      lipgloss.Style
	panelTitle lipgloss.Style
	label      lipgloss.Style
	value      lipgloss.Style
	good       lipgloss.Style
	warn       lipgloss.Style
	bad        lipgloss.Style
	muted      lipgloss.Style
	notice     lipgloss.Style
	help       lipgloss.Style
}

func newStyles(theme string) styles {
	fg := lipgloss.AdaptiveColor{Light: "236", Dark: "252"}
	faint := lipgloss.AdaptiveColor{Light: "245", Dark: "243"}
	border := lipgloss.AdaptiveColor{Light: "250", Dark: "238"}
	switch theme {
	case "light":
		fg = lipgloss.AdaptiveColor{Light: "236", Dark: "236"}
		faint = lipgloss.AdaptiveColor{Light: "245", Dark: "245"}
		border = lipgloss.AdaptiveColor{Light: "250", Dark: "250"}
	case "dark":
		fg = lipgloss.AdaptiveColor{Light: "252", Dark: "252"}
		faint = lipgloss.AdaptiveColor{Light: "243", Dark: "243"}
		border = lipgloss.AdaptiveColor{Light: "238", Dark: "238"}
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1)

	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorAccent)).
			Padding(0, 1),
		panel: panel,
		panelTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(fg),
		label:  lipgloss.NewStyle().Foreground(faint).Width(12),
		value:  lipgloss.NewStyle().Foreground(fg),
		good:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorConnected)),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorConnecting)),
		bad:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorError)),
		muted:  lipgloss.NewStyle().Foreground(faint),
		notice: lipgloss.NewStyle().Foreground(lipgloss.Color(colorError)).Padding(0, 1),
		help:   lipgloss.NewStyle().Padding(0, 1),
	}
}
