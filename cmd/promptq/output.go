package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/promptq/internal/queue"
)

const promptPreview = 48

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func statusStyle(s queue.Status) lipgloss.Style {
	switch s {
	case queue.StatusCompleted:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	case queue.StatusFailed:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	case queue.StatusRunning:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	default:
		return dimStyle
	}
}

func renderJobTable(jobs []*queue.Job) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			strconv.FormatInt(j.ID, 10),
			statusStyle(j.Status).Render(string(j.Status)),
			j.ProviderName,
			j.ChannelPlatform + "/" + j.ChannelID,
			j.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			preview(j.Prompt, promptPreview),
		})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "STATUS", "PROVIDER", "CHANNEL", "CREATED", "PROMPT").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		}).
		String()
}

func renderJob(j *queue.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", headerStyle.Render(fmt.Sprintf("Job #%d", j.ID)), statusStyle(j.Status).Render(string(j.Status)))
	field := func(name, value string) {
		fmt.Fprintf(&b, "%-12s %s\n", name+":", value)
	}
	field("Provider", j.ProviderName)
	field("Channel", j.ChannelPlatform+"/"+j.ChannelID)
	if wd := j.WorkDir(); wd != "" {
		field("Directory", wd)
	}
	field("Created", formatTime(&j.CreatedAt))
	if j.StartedAt != nil {
		field("Started", formatTime(j.StartedAt))
	}
	if j.CompletedAt != nil {
		field("Finished", formatTime(j.CompletedAt))
		if j.StartedAt != nil {
			field("Took", j.CompletedAt.Sub(*j.StartedAt).Round(time.Millisecond).String())
		}
	}
	if j.ResultModel != nil && *j.ResultModel != "" {
		field("Model", *j.ResultModel)
	}

	section := func(title, body string) {
		fmt.Fprintf(&b, "\n%s\n%s\n", headerStyle.Render(title), indent(body))
	}
	section("Prompt", j.Prompt)
	if j.Result != nil {
		section("Result", *j.Result)
	}
	if j.Error != nil {
		section("Error", *j.Error)
	}
	return b.String()
}

func renderStats(st queue.Stats) string {
	part := func(s queue.Status, n int) string {
		return statusStyle(s).Render(fmt.Sprintf("%s %d", s, n))
	}
	return strings.Join([]string{
		part(queue.StatusPending, st.Pending),
		part(queue.StatusRunning, st.Running),
		part(queue.StatusCompleted, st.Completed),
		part(queue.StatusFailed, st.Failed),
		fmt.Sprintf("total %d", st.Total),
	}, "  ")
}

func formatTime(t *time.Time) string {
	return t.Local().Format(time.RFC3339)
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}

// preview flattens s to one line and cuts it to n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
