package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState is the last /healthz reading plus connection state.
type HealthState struct {
	Health
	Connected bool
	LastCheck time.Time
}

func renderHeader(h HealthState, beat Heartbeat, activity Activity, theme Theme, width int) string {
	innerWidth := width - 4

	status := theme.Completed.Render("HEALTHY")
	switch {
	case !h.Connected:
		status = theme.Failed.Render("CONNECTING")
	case h.Status != "ok" && h.Status != "":
		status = theme.Failed.Render("DEGRADED")
	}

	worker := theme.Failed.Render("stopped")
	if h.WorkerRunning {
		worker = theme.Completed.Render("running")
	}

	title := fmt.Sprintf(" PROMPTQ WATCH %s", theme.Highlight.Render(beat.String()))
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  worker %s", status, formatUptime(time.Duration(h.UptimeSeconds)*time.Second), worker)

	q := h.Queue
	queueLine := fmt.Sprintf(" %s  %s  %s  %s  total %d",
		theme.Pending.Render(fmt.Sprintf("pending %d", q.Pending)),
		theme.Running.Render(fmt.Sprintf("running %d", q.Running)),
		theme.Completed.Render(fmt.Sprintf("completed %d", q.Completed)),
		theme.Failed.Render(fmt.Sprintf("failed %d", q.Failed)),
		q.Total,
	)

	last := "never"
	if t := activity.LastEvent(); !t.IsZero() {
		last = time.Since(t).Round(time.Second).String() + " ago"
	}
	activityLine := fmt.Sprintf(" Last event: %s %s", last, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, queueLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatUptime(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
