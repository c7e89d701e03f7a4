// Package watch is the "promptq watch" terminal dashboard: queue health,
// recent jobs and the live event stream of a running instance.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/promptq/internal/queue"
)

// Theme holds every style the dashboard uses.
type Theme struct {
	Completed lipgloss.Style
	Running   lipgloss.Style
	Failed    lipgloss.Style
	Pending   lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Completed: lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Running:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Pending:   lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		PulseOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		PulseOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// Status returns the style for a job status.
func (t Theme) Status(s queue.Status) lipgloss.Style {
	switch s {
	case queue.StatusCompleted:
		return t.Completed
	case queue.StatusRunning:
		return t.Running
	case queue.StatusFailed:
		return t.Failed
	default:
		return t.Pending
	}
}
