package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/promptq/internal/events"
	"github.com/mattjoyce/promptq/internal/queue"
)

const maxJobRows = 50

// JobRow is the dashboard's view of one job, built from the initial job list
// and kept current by job.* events.
type JobRow struct {
	ID       int64
	Status   queue.Status
	Provider string
	Channel  string
	Model    string
	Error    string
	Took     time.Duration
	Updated  time.Time
}

func rowFromJob(j *queue.Job) *JobRow {
	r := &JobRow{
		ID:       j.ID,
		Status:   j.Status,
		Provider: j.ProviderName,
		Channel:  j.ChannelPlatform + "/" + j.ChannelID,
		Updated:  j.CreatedAt,
	}
	if j.ResultModel != nil {
		r.Model = *j.ResultModel
	}
	if j.Error != nil {
		r.Error = *j.Error
	}
	if j.StartedAt != nil && j.CompletedAt != nil {
		r.Took = j.CompletedAt.Sub(*j.StartedAt)
		r.Updated = *j.CompletedAt
	}
	return r
}

// applyEvent folds a job.* event into rows. It reports whether anything
// changed; worker.* and malformed events are ignored.
func applyEvent(rows map[int64]*JobRow, e events.Event) bool {
	var p events.JobPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.JobID == 0 {
		return false
	}

	r, ok := rows[p.JobID]
	if !ok {
		r = &JobRow{ID: p.JobID}
		rows[p.JobID] = r
	}
	if p.Status != "" {
		r.Status = queue.Status(p.Status)
	}
	if p.Provider != "" {
		r.Provider = p.Provider
	}
	if p.Platform != "" || p.ChannelID != "" {
		r.Channel = p.Platform + "/" + p.ChannelID
	}
	if p.Model != "" {
		r.Model = p.Model
	}
	r.Error = p.Error
	if p.DurationMS > 0 {
		r.Took = time.Duration(p.DurationMS) * time.Millisecond
	}
	r.Updated = e.At
	prune(rows)
	return true
}

// prune drops the oldest finished rows beyond maxJobRows.
func prune(rows map[int64]*JobRow) {
	if len(rows) <= maxJobRows {
		return
	}
	for _, r := range sortedRows(rows)[maxJobRows:] {
		if r.Status.Terminal() {
			delete(rows, r.ID)
		}
	}
}

// sortedRows returns rows newest id first.
func sortedRows(rows map[int64]*JobRow) []*JobRow {
	out := make([]*JobRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func jobColumns(width int) []table.Column {
	cols := []table.Column{
		{Title: "ID", Width: 6},
		{Title: "STATUS", Width: 10},
		{Title: "PROVIDER", Width: 10},
		{Title: "CHANNEL", Width: 18},
		{Title: "TOOK", Width: 8},
	}
	used := 0
	for _, c := range cols {
		used += c.Width + 2
	}
	detail := width - used - 10
	if detail < 10 {
		detail = 10
	}
	return append(cols, table.Column{Title: "DETAIL", Width: detail})
}

func tableRows(rows map[int64]*JobRow) []table.Row {
	sorted := sortedRows(rows)
	out := make([]table.Row, 0, len(sorted))
	for _, r := range sorted {
		took := ""
		if r.Took > 0 {
			took = r.Took.Round(100 * time.Millisecond).String()
		}
		detail := r.Model
		if r.Error != "" {
			detail = r.Error
		}
		out = append(out, table.Row{
			strconv.FormatInt(r.ID, 10),
			string(r.Status),
			r.Provider,
			r.Channel,
			took,
			detail,
		})
	}
	return out
}

func newJobTable(height int) table.Model {
	t := table.New(
		table.WithColumns(jobColumns(80)),
		table.WithFocused(true),
		table.WithHeight(height),
	)
	styles := table.DefaultStyles()
	theme := NewDefaultTheme()
	styles.Header = styles.Header.Foreground(theme.Header.GetForeground()).Bold(true)
	t.SetStyles(styles)
	return t
}

func renderJobs(t table.Model, count int, theme Theme, width int) string {
	title := theme.Title.Render(fmt.Sprintf("JOBS (%d)", count))
	if count == 0 {
		return theme.Border.Width(width - 4).Render(title + "\n" + theme.Dim.Render("  No jobs yet..."))
	}
	return theme.Border.Width(width - 4).Render(title + "\n" + t.View())
}
