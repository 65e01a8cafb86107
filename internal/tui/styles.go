package tui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	root        lipgloss.Style
	header      lipgloss.Style
	panel       lipgloss.Style
	panelTitle  lipgloss.Style
	groupLabel  lipgloss.Style
	entry       lipgloss.Style
	entryActive lipgloss.Style
	entryCursor lipgloss.Style
	inputPanel  lipgloss.Style
	footer      lipgloss.Style
	status      lipgloss.Style
	toast       lipgloss.Style
	helpText    lipgloss.Style
	welcome     lipgloss.Style
	failed      lipgloss.Style
	sender      map[string]lipgloss.Style
}

func newTheme() theme {
	accent := lipgloss.Color("#7aa2f7")
	green := lipgloss.Color("#9ece6a")
	red := lipgloss.Color("#f7768e")
	text := lipgloss.Color("#c0caf5")
	muted := lipgloss.Color("#565f89")

	return theme{
		root: lipgloss.NewStyle(),
		header: lipgloss.NewStyle().
			Foreground(accent).
			Bold(true).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		panelTitle:  lipgloss.NewStyle().Foreground(accent).Bold(true),
		groupLabel:  lipgloss.NewStyle().Foreground(muted).Bold(true),
		entry:       lipgloss.NewStyle().Foreground(text),
		entryActive: lipgloss.NewStyle().Foreground(green).Bold(true),
		entryCursor: lipgloss.NewStyle().Foreground(lipgloss.Color("#1a1b26")).Background(accent),
		inputPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1),
		footer:   lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
		status:   lipgloss.NewStyle().Foreground(accent),
		toast:    lipgloss.NewStyle().Foreground(red).Bold(true),
		helpText: lipgloss.NewStyle().Foreground(muted),
		welcome: lipgloss.NewStyle().
			Foreground(text).
			Align(lipgloss.Center).
			Padding(2, 2),
		failed: lipgloss.NewStyle().Foreground(red).Italic(true),
		sender: map[string]lipgloss.Style{
			"user":      lipgloss.NewStyle().Foreground(green).Bold(true),
			"assistant": lipgloss.NewStyle().Foreground(accent).Bold(true),
		},
	}
}
