package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/nvplug/trigger"
)

// InspectModel browses the trigger batch: a table of definitions and
// the Vimscript source of the selected row.
type InspectModel struct {
	viewType string
	defs     []trigger.Definition
	table    table.Model
	width    int
	height   int
	quitting bool
	invalid  bool
}

// NewInspectModel creates an inspect model. data must be a
// []trigger.Definition for ViewTriggers.
func NewInspectModel(viewType string, data any) InspectModel {
	m := InspectModel{viewType: viewType}
	defs, ok := data.([]trigger.Definition)
	if !ok || viewType != ViewTriggers {
		m.invalid = true
		return m
	}
	m.defs = defs

	rows := make([]table.Row, len(defs))
	for i, d := range defs {
		sync := "async"
		if d.Sync {
			sync = "sync"
		}
		rows[i] = table.Row{d.Name, string(d.Kind), d.Program, d.Nargs, sync}
	}

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Trigger", Width: 20},
			{Title: "Kind", Width: 9},
			{Title: "Program", Width: 16},
			{Title: "Nargs", Width: 5},
			{Title: "Mode", Width: 5},
		}),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+1, 12)),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(dim).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(bgDark).
		Background(accent)
	t.SetStyles(styles)
	m.table = t
	return m
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	if m.invalid {
		return m, nil
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// Selected returns the highlighted definition.
func (m InspectModel) Selected() (trigger.Definition, bool) {
	i := m.table.Cursor()
	if m.invalid || i < 0 || i >= len(m.defs) {
		return trigger.Definition{}, false
	}
	return m.defs[i], true
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}
	if m.invalid {
		return fmt.Sprintf("Invalid data type for %s", m.viewType)
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Triggers (%d)", len(m.defs))))
	b.WriteString("\n")
	if len(m.defs) == 0 {
		b.WriteString(ValueStyle.Render("No programs define triggers."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.table.View())
		b.WriteString("\n\n")
		if d, ok := m.Selected(); ok {
			b.WriteString(m.details(d))
		}
	}

	b.WriteString(HelpStyle.Render("↑/↓ select • q quit"))
	return b.String()
}

func (m InspectModel) details(d trigger.Definition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Kind:"), KindStyle(string(d.Kind)).Render(string(d.Kind)))
	if d.Help != "" {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Help:"), ValueStyle.Render(d.Help))
	}
	source := SourceStyle
	if m.width > 4 {
		source = source.MaxWidth(m.width - 2)
	}
	b.WriteString(source.Render(d.Source))
	return b.String()
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	p := tea.NewProgram(NewInspectModel(viewType, data), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders the inspect view once, without a program.
func RenderInspectStatic(viewType string, data any) string {
	m := NewInspectModel(viewType, data)
	m.width = 80
	m.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(m.View())
}
