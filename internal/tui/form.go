package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/waabox/dockworker/internal/dispatch"
	"github.com/waabox/dockworker/internal/jobs"
	"github.com/waabox/dockworker/internal/service"
)

// Forker is the part of the service the form drives.
type Forker interface {
	Fork(ctx context.Context, req service.ForkRequest, progress func(dispatch.Progress)) (service.ForkResult, error)
	Jobs(ctx context.Context, limit int) ([]jobs.Job, error)
}

// FormOptions are fixed for every fork submitted from the form.
type FormOptions struct {
	Workflow     string
	DryRun       bool
	Pull         bool
	HistoryLimit int
}

// ProgressMsg carries one orchestration event into the model.
type ProgressMsg struct {
	Progress dispatch.Progress
}

// ForkDoneMsg is sent when a submitted fork has finished.
type ForkDoneMsg struct {
	Result service.ForkResult
	Err    error
}

// JobsLoadedMsg is sent when the job history has been fetched.
type JobsLoadedMsg struct {
	Jobs []jobs.Job
	Err  error
}

const (
	focusSource = iota
	focusTarget
	focusHistory
	focusCount
)

const progressBuffer = 32

// FormModel is the root Bubbletea model for the fork form.
type FormModel struct {
	ctx    context.Context
	forker Forker
	opts   FormOptions

	inputs  [2]textinput.Model
	focus   int
	spinner spinner.Model
	history JobListModel

	running  bool
	progress <-chan dispatch.Progress
	status   string
	result   *service.ForkResult
	err      error
	width    int
}

// NewFormModel creates the form with the source input focused.
func NewFormModel(ctx context.Context, forker Forker, opts FormOptions) FormModel {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	source := textinput.New()
	source.Placeholder = "nginx:1.27"
	source.CharLimit = 256
	source.Width = 48
	source.Focus()

	target := textinput.New()
	target.Placeholder = "defaults to source"
	target.CharLimit = 256
	target.Width = 48

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusRunning

	return FormModel{
		ctx:     ctx,
		forker:  forker,
		opts:    opts,
		inputs:  [2]textinput.Model{source, target},
		spinner: sp,
		history: NewJobListModel(nil),
	}
}

// Init loads the job history and starts the cursor blinking.
func (m FormModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.loadJobs())
}

func (m FormModel) loadJobs() tea.Cmd {
	return func() tea.Msg {
		list, err := m.forker.Jobs(m.ctx, m.opts.HistoryLimit)
		return JobsLoadedMsg{Jobs: list, Err: err}
	}
}

// runFork runs the fork to completion, forwarding progress events to ch
// and closing it when done.
func (m FormModel) runFork(req service.ForkRequest, ch chan<- dispatch.Progress) tea.Cmd {
	return func() tea.Msg {
		defer close(ch)
		result, err := m.forker.Fork(m.ctx, req, func(p dispatch.Progress) {
			select {
			case ch <- p:
			case <-m.ctx.Done():
			}
		})
		return ForkDoneMsg{Result: result, Err: err}
	}
}

func waitForProgress(ch <-chan dispatch.Progress) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return ProgressMsg{Progress: p}
	}
}

// Update handles all incoming messages and key events.
func (m FormModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case JobsLoadedMsg:
		if msg.Err != nil {
			m.err = fmt.Errorf("loading jobs: %w", msg.Err)
			return m, nil
		}
		m.history = m.history.Replace(msg.Jobs)
		return m, nil

	case ProgressMsg:
		if !m.running {
			return m, nil
		}
		m.status = describeProgress(msg.Progress)
		return m, waitForProgress(m.progress)

	case ForkDoneMsg:
		m.running = false
		m.progress = nil
		m.status = ""
		result := msg.Result
		m.result = &result
		m.err = msg.Err
		return m, m.loadJobs()

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "tab", "shift+tab":
			step := 1
			if msg.String() == "shift+tab" {
				step = focusCount - 1
			}
			return m.setFocus((m.focus + step) % focusCount)
		case "ctrl+r":
			return m, m.loadJobs()
		}
		if m.focus == focusHistory {
			switch msg.String() {
			case "down", "j":
				m.history = m.history.MoveDown()
			case "up", "k":
				m.history = m.history.MoveUp()
			}
			return m, nil
		}
		if msg.String() == "enter" {
			return m.submit()
		}
	}

	if m.focus < len(m.inputs) {
		var cmd tea.Cmd
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m FormModel) setFocus(focus int) (tea.Model, tea.Cmd) {
	m.focus = focus
	var cmd tea.Cmd
	for i := range m.inputs {
		if i == focus {
			cmd = m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
	return m, cmd
}

func (m FormModel) submit() (tea.Model, tea.Cmd) {
	if m.running {
		return m, nil
	}
	source := strings.TrimSpace(m.inputs[focusSource].Value())
	if source == "" {
		m.err = fmt.Errorf("source image is required")
		return m, nil
	}
	req := service.ForkRequest{
		Source:   source,
		Target:   strings.TrimSpace(m.inputs[focusTarget].Value()),
		Workflow: m.opts.Workflow,
		DryRun:   m.opts.DryRun,
		Pull:     m.opts.Pull,
	}

	ch := make(chan dispatch.Progress, progressBuffer)
	m.running = true
	m.progress = ch
	m.status = "submitting " + source
	m.result = nil
	m.err = nil
	return m, tea.Batch(m.runFork(req, ch), waitForProgress(ch), m.spinner.Tick)
}

func describeProgress(p dispatch.Progress) string {
	switch p.Stage {
	case dispatch.StageLocate:
		if p.RunNumber > 0 {
			return fmt.Sprintf("located run #%d", p.RunNumber)
		}
		return "waiting for the run to appear"
	case dispatch.StageAwait:
		return fmt.Sprintf("run #%d %s", p.RunNumber, p.Status)
	}
	if p.Message != "" {
		return p.Message
	}
	return string(p.Stage)
}

// View renders the form, the running status or last result, and the history.
func (m FormModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("dockworker") + "\n\n")

	labels := [2]string{"Source", "Target"}
	for i, in := range m.inputs {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("%-7s", labels[i])) + " " + in.View() + "\n")
	}
	if m.opts.DryRun {
		sb.WriteString(dimStyle.Render("dry run: no image is copied") + "\n")
	}
	sb.WriteString("\n")

	switch {
	case m.running:
		sb.WriteString(m.spinner.View() + " " + m.status + "\n")
	case m.err != nil:
		sb.WriteString(statusFailed.Render("✗ "+m.err.Error()) + "\n")
	case m.result != nil:
		out := m.result.Outcome
		sb.WriteString(statusOK.Render(fmt.Sprintf("✓ run #%d %s", out.RunNumber, out.Conclusion)) + "\n")
		if out.Image != "" {
			sb.WriteString("  image: " + out.Image + "\n")
		}
	}

	sb.WriteString("\n" + headerStyle.Render("Recent jobs") + "\n")
	sb.WriteString(m.history.View(m.focus == focusHistory))
	sb.WriteString("\n" + dimStyle.Render("tab: next field   enter: fork   ctrl+r: refresh   esc: quit") + "\n")
	return sb.String()
}

// Run starts the form program and blocks until the user quits.
func Run(ctx context.Context, forker Forker, opts FormOptions) error {
	p := tea.NewProgram(NewFormModel(ctx, forker, opts), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
