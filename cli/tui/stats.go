package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/nvplug/ipc"
)

// frameClass is one box of the decode summary.
type frameClass struct {
	label string
	count int
	color lipgloss.Color
}

// StatsModel shows frame counts of a decoded capture.
type StatsModel struct {
	viewType string
	summary  *ipc.Summary
	quitting bool
}

// NewStatsModel creates a stats model. data must be an *ipc.Summary for
// ViewDecode; anything else renders an error line.
func NewStatsModel(viewType string, data any) StatsModel {
	m := StatsModel{viewType: viewType}
	if s, ok := data.(*ipc.Summary); ok && viewType == ViewDecode {
		m.summary = s
	}
	return m
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok && key.Matches(k, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	switch {
	case m.quitting:
		return ""
	case m.summary == nil:
		return fmt.Sprintf("Invalid data type for %s", m.viewType)
	}
	s := m.summary

	rows := [][]frameClass{
		{{"Requests", s.Requests, cyan}, {"Notifications", s.Notifications, cyan}, {"Responses", s.Responses, green}},
		{{"Errors", s.Errors, yellow}, {"Malformed", s.Malformed, red}},
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Decoded Frames (%d)", s.Frames)))
	b.WriteString("\n\n")
	for _, row := range rows {
		boxes := make([]string, len(row))
		for i, c := range row {
			boxes[i] = c.box(s.Frames)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
		b.WriteString("\n")
	}
	b.WriteString(HelpStyle.Render("q quit"))
	return b.String()
}

// box renders the count and its share of all frames.
func (c frameClass) box(total int) string {
	share := "-"
	if total > 0 {
		share = fmt.Sprintf("%d%%", c.count*100/total)
	}
	content := lipgloss.JoinVertical(lipgloss.Center,
		StatValueStyle.Foreground(c.color).Render(fmt.Sprint(c.count)),
		StatLabelStyle.Render(c.label+" · "+share),
	)
	return StatBoxStyle.BorderForeground(c.color).Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any) error {
	_, err := tea.NewProgram(NewStatsModel(viewType, data), tea.WithAltScreen()).Run()
	return err
}
