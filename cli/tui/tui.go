package tui

import (
	"fmt"
	"slices"
	"strings"
)

// View types with a TUI.
const (
	ViewTriggers = "inspect_triggers"
	ViewDecode   = "stats_decode"
)

// Run starts the TUI for viewType.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	switch {
	case strings.HasPrefix(viewType, "inspect_"):
		return RunInspectTUI(viewType, data)
	case strings.HasPrefix(viewType, "stats_"):
		return RunStatsTUI(viewType, data)
	default:
		return fmt.Errorf("unknown view type: %s", viewType)
	}
}

// IsTUISupported reports whether viewType has a TUI.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns the view types that have a TUI.
func SupportedTUIViews() []string {
	return []string{ViewTriggers, ViewDecode}
}
