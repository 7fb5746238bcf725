// Package tui provides Bubble Tea views for the nvplug CLI.
//
// The TUI is opt-in (--tui), read-only, and shows the same payload the
// plain renderers print.
package tui

import "github.com/charmbracelet/lipgloss"

// Palette loosely follows Neovim's default highlight groups.
var (
	accent   = lipgloss.Color("#5FAF5F") // Title, table selection
	fgBright = lipgloss.Color("#E0E2EA")
	bgDark   = lipgloss.Color("#14161B")
	dim      = lipgloss.Color("#9B9EA4") // Comment
	cyan     = lipgloss.Color("#8CF8F7") // Function
	green    = lipgloss.Color("#B3F6C0") // String
	yellow   = lipgloss.Color("#FCE094") // Special
	red      = lipgloss.Color("#FFC0B9") // DiagnosticError
)

// kindColors colours trigger kinds in the triggers view.
var kindColors = map[string]lipgloss.Color{
	"command":  green,
	"function": cyan,
	"autocmd":  yellow,
}

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).MarginBottom(1)
	LabelStyle = lipgloss.NewStyle().Foreground(dim).Width(10)
	ValueStyle = lipgloss.NewStyle().Foreground(fgBright)
	HelpStyle  = lipgloss.NewStyle().Foreground(dim).MarginTop(1)

	// SourceStyle frames the Vimscript of the selected trigger.
	SourceStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dim).
			Padding(0, 1)

	// StatBoxStyle frames one counter in the decode summary; statBox
	// recolours the border per frame class.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2).
			Width(24).
			Align(lipgloss.Center)

	StatLabelStyle = lipgloss.NewStyle().Foreground(dim).Align(lipgloss.Center)
	StatValueStyle = lipgloss.NewStyle().Bold(true).Align(lipgloss.Center)
)

// KindStyle colours a trigger kind. Unknown kinds render plain.
func KindStyle(kind string) lipgloss.Style {
	if c, ok := kindColors[kind]; ok {
		return lipgloss.NewStyle().Foreground(c)
	}
	return ValueStyle
}
