package output

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/leapstack-labs/leapscript/internal/script"
)

// Styles groups the lipgloss styles used in text mode.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

// DefaultStyles returns the standard palette.
func DefaultStyles() Styles {
	return Styles{
		Header1: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginBottom(1),
		Header2: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		Bold:    lipgloss.NewStyle().Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// State renders a script state in its colour.
func (s Styles) State(st script.State) string {
	switch st {
	case script.StateLoaded:
		return s.Success.Render(st.String())
	case script.StateError:
		return s.Error.Render(st.String())
	case script.StateUnloaded:
		return s.Muted.Render(st.String())
	default:
		return s.Warning.Render(st.String())
	}
}
