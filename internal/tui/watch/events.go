package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/promptq/internal/events"
	"github.com/mattjoyce/promptq/internal/queue"
)

const visibleEvents = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := make([]string, 0, visibleEvents)
	for i, e := range eventLog {
		if i >= visibleEvents {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	var style lipgloss.Style
	switch e.Type {
	case events.JobCompleted:
		style = theme.Completed
	case events.JobFailed, events.JobExpired:
		style = theme.Failed
	case events.JobStarted:
		style = theme.Running
	case events.WorkerState:
		style = theme.Highlight
	default:
		style = theme.Dim
	}
	return fmt.Sprintf("%s %s %s",
		theme.Dim.Render(e.At.Format("15:04:05")),
		style.Render(fmt.Sprintf("%-18s", e.Type)),
		describeEvent(e),
	)
}

// describeEvent is a one-line summary of an event's payload.
func describeEvent(e events.Event) string {
	if e.Type == events.WorkerState {
		var w struct {
			Running bool `json:"running"`
		}
		if err := json.Unmarshal(e.Data, &w); err == nil {
			if w.Running {
				return "worker started"
			}
			return "worker stopped"
		}
	}

	var p events.JobPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.JobID == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	parts := []string{fmt.Sprintf("#%d", p.JobID)}
	if p.Provider != "" {
		parts = append(parts, p.Provider)
	}
	if p.Platform != "" || p.ChannelID != "" {
		parts = append(parts, "→ "+p.Platform+"/"+p.ChannelID)
	}
	switch {
	case p.Error != "" && queue.Status(p.Status) == queue.StatusFailed:
		parts = append(parts, p.Error)
	case p.DurationMS > 0:
		parts = append(parts, fmt.Sprintf("%dms", p.DurationMS))
	}
	return strings.Join(parts, " ")
}
