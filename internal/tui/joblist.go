package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/waabox/dockworker/internal/jobs"
)

// JobListModel is an immutable Bubbletea-compatible model for the job history panel.
type JobListModel struct {
	jobs   []jobs.Job
	cursor int
}

// NewJobListModel creates a job list model with the given jobs, newest first.
func NewJobListModel(list []jobs.Job) JobListModel {
	return JobListModel{jobs: list}
}

// Jobs returns the listed jobs.
func (m JobListModel) Jobs() []jobs.Job {
	return m.jobs
}

// Replace swaps in a fresh listing and keeps the cursor on the same job id
// when it is still present.
func (m JobListModel) Replace(list []jobs.Job) JobListModel {
	selected := m.Selected().ID
	m.jobs = list
	m.cursor = 0
	for i, j := range list {
		if j.ID == selected {
			m.cursor = i
			break
		}
	}
	return m
}

// MoveDown returns a new model with the cursor moved down by one.
func (m JobListModel) MoveDown() JobListModel {
	if m.cursor < len(m.jobs)-1 {
		m.cursor++
	}
	return m
}

// MoveUp returns a new model with the cursor moved up by one.
func (m JobListModel) MoveUp() JobListModel {
	if m.cursor > 0 {
		m.cursor--
	}
	return m
}

// SelectedIndex returns the current cursor position.
func (m JobListModel) SelectedIndex() int {
	return m.cursor
}

// Selected returns the highlighted job, or the zero Job for an empty list.
func (m JobListModel) Selected() jobs.Job {
	if len(m.jobs) == 0 {
		return jobs.Job{}
	}
	return m.jobs[m.cursor]
}

// View renders the job list. focused controls whether the cursor is drawn.
func (m JobListModel) View(focused bool) string {
	if len(m.jobs) == 0 {
		return "No jobs yet."
	}
	var sb strings.Builder
	for i, j := range m.jobs {
		prefix := "  "
		if focused && i == m.cursor {
			prefix = "> "
		}
		run := "--"
		if j.RunNumber > 0 {
			run = fmt.Sprintf("#%d", j.RunNumber)
		}
		sb.WriteString(fmt.Sprintf("%s%s %-6s %-32s %s\n",
			prefix,
			statusIcon(j.Status),
			run,
			truncate(j.Source, 32),
			formatAge(j.CreatedAt),
		))
	}
	return sb.String()
}

func statusIcon(s jobs.Status) string {
	switch s {
	case jobs.StatusCompleted:
		return statusOK.Render("✓")
	case jobs.StatusFailed:
		return statusFailed.Render("✗")
	case jobs.StatusRunning:
		return statusRunning.Render("●")
	case jobs.StatusPending:
		return statusQueued.Render("↷")
	default:
		return "?"
	}
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "--"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
