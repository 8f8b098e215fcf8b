package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/mariozechner/guiding-agent/pkg/pipeline"
	"github.com/mariozechner/guiding-agent/pkg/sandbox"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1) // Red
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).PaddingLeft(1)
)

// Runner is the part of guide.Guide the TUI needs.
type Runner interface {
	Run(ctx context.Context, task string) (*pipeline.Outcome, error)
}

type state int

const (
	stateInput state = iota
	stateRunning
	stateConfirmExit
)

type stageStatus int

const (
	stagePending stageStatus = iota
	stageActive
	stageDone
	stageFailed
)

type eventMsg pipeline.Event

type runDoneMsg struct {
	outcome *pipeline.Outcome
	err     error
}

type model struct {
	ctx    context.Context
	runner Runner
	events <-chan pipeline.Event
	cancel context.CancelFunc

	state  state
	width  int
	height int
	err    error

	// Current run
	runID  string
	stages []string
	status map[string]stageStatus
	task   string
	steps  string
	code   string
	result *sandbox.Result

	// UI Components
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
}

func newModel(ctx context.Context, runner Runner, stages []string, events <-chan pipeline.Event) model {
	ta := textarea.New()
	ta.Placeholder = "Describe what to do in the browser..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 2000

	ta.SetWidth(80)
	ta.SetHeight(3)

	// Remove cursor line styling
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent("Type a how-to instruction and press Enter.")

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = activeStyle

	// Use "light" style to avoid terminal queries that leak into input
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	return model{
		ctx:      ctx,
		runner:   runner,
		events:   events,
		stages:   stages,
		status:   make(map[string]stageStatus),
		viewport: vp,
		textarea: ta,
		spinner:  sp,
		renderer: r,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForEvent(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// Keys only reach the textarea while it accepts input.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateInput {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = msg.Height - m.textarea.Height() - 5 // Header, progress, hints
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}

		// Recreate renderer with new width
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(max(m.width-4, 20)),
		)
		m.refresh()

	case tea.KeyMsg:
		if m.state == stateConfirmExit {
			switch msg.String() {
			case "y", "Y":
				m.stopRun()
				return m, tea.Quit
			case "n", "N", "esc":
				m.state = stateRunning
			}
			return m, nil
		}

		switch msg.Type {
		case tea.KeyCtrlC:
			if m.state == stateRunning {
				m.state = stateConfirmExit
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.state == stateRunning {
				m.stopRun()
			}
		case tea.KeyEnter:
			if m.state == stateInput {
				var cmd tea.Cmd
				m, cmd = m.submit()
				cmds = append(cmds, cmd)
			}
		}

	case spinner.TickMsg:
		if m.state != stateInput {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case eventMsg:
		m.apply(pipeline.Event(msg))
		m.refresh()
		cmds = append(cmds, waitForEvent(m.events))

	case runDoneMsg:
		m.finish(msg)
		m.refresh()
	}

	return m, tea.Batch(cmds...)
}

func (m model) submit() (model, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	m.textarea.Reset()
	if v == "" {
		return m, nil
	}
	if v == "/exit" {
		return m, tea.Quit
	}

	m.reset(v)
	m.state = stateRunning
	m.textarea.Blur()

	m.runID = uuid.New().String()
	ctx, cancel := context.WithCancel(pipeline.ContextWithRunID(m.ctx, m.runID))
	m.cancel = cancel
	m.refresh()

	return m, tea.Batch(m.spinner.Tick, runTask(ctx, m.runner, v))
}

func (m *model) reset(task string) {
	m.task = task
	m.steps = ""
	m.code = ""
	m.result = nil
	m.err = nil
	m.status = make(map[string]stageStatus)
}

func (m *model) stopRun() {
	if m.cancel != nil {
		m.cancel()
	}
}

// apply folds a pipeline event into the view state. Events left over from an
// earlier run are ignored.
func (m *model) apply(e pipeline.Event) {
	if e.RunID != m.runID {
		return
	}
	switch e.Type {
	case pipeline.EventStageStarted:
		m.status[e.Stage] = stageActive
	case pipeline.EventStageFailed:
		m.status[e.Stage] = stageFailed
	case pipeline.EventArtifactWritten:
		if e.Stage != "" {
			m.status[e.Stage] = stageDone
		}
		if e.Slot == nil || e.Artifact == nil {
			return
		}
		switch e.Slot.Name {
		case pipeline.SlotSteps.Name:
			m.steps = e.Artifact.Text
		case pipeline.SlotCode.Name:
			m.code = e.Artifact.Text
		case pipeline.SlotResult.Name:
			m.result = e.Artifact.Result
		}
	}
}

func (m *model) finish(msg runDoneMsg) {
	m.state = stateInput
	m.textarea.Focus()
	m.stopRun()
	m.cancel = nil

	if msg.err != nil {
		m.err = msg.err
		slog.Error("Run failed", "error", msg.err)
	}
	if msg.outcome != nil && msg.outcome.Result != nil {
		m.result = msg.outcome.Result
	}
}

func (m *model) refresh() {
	md := runMarkdown(m.task, m.steps, m.code, m.result)
	if md == "" {
		return
	}
	content := md
	if m.renderer != nil {
		if rendered, err := m.renderer.Render(md); err == nil {
			content = rendered
		}
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

func (m model) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	hint := "Enter: run · /exit: quit"
	switch m.state {
	case stateRunning:
		hint = "Esc: cancel · Ctrl+C: quit"
	case stateConfirmExit:
		hint = "A task is still running. Quit anyway? (y/n)"
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("Guiding Agent"),
		m.progressView(),
		m.viewport.View(),
		errorView,
		hintStyle.Render(hint),
		m.textarea.View(),
	)
}

func (m model) progressView() string {
	parts := make([]string, 0, len(m.stages))
	for _, name := range m.stages {
		switch m.status[name] {
		case stageActive:
			parts = append(parts, activeStyle.Render(m.spinner.View()+name))
		case stageDone:
			parts = append(parts, doneStyle.Render("✓ "+name))
		case stageFailed:
			parts = append(parts, errorStyle.Render("✗ "+name))
		default:
			parts = append(parts, pendingStyle.Render("· "+name))
		}
	}
	return strings.Join(parts, "  ")
}

// runMarkdown lays out what the run has produced so far.
func runMarkdown(task, steps, code string, res *sandbox.Result) string {
	if task == "" {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Task\n\n%s\n\n", task)
	if steps != "" {
		fmt.Fprintf(&sb, "## Steps\n\n%s\n\n", steps)
	}
	if code != "" {
		fmt.Fprintf(&sb, "## Script\n\n```python\n%s\n```\n\n", sandbox.Normalize(code))
	}
	if res != nil {
		sb.WriteString("## Result\n\n")
		if res.Succeeded() {
			sb.WriteString("**Success**\n\n")
			if out := strings.TrimSpace(res.Output); out != "" {
				fmt.Fprintf(&sb, "```\n%s\n```\n", out)
			}
		} else {
			fmt.Fprintf(&sb, "**Failed** (%s)\n\n```\n%s\n```\n", res.Failure, strings.TrimSpace(res.Reason))
		}
	}
	return sb.String()
}

func runTask(ctx context.Context, r Runner, task string) tea.Cmd {
	return func() tea.Msg {
		out, err := r.Run(ctx, task)
		if errors.Is(err, context.Canceled) {
			slog.Info("Run cancelled", "task", task)
		}
		return runDoneMsg{outcome: out, err: err}
	}
}

func waitForEvent(ch <-chan pipeline.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}
