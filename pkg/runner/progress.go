package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/pagehand/pkg/types"
)

var (
	progressTitleStyle = lipgloss.NewStyle().Foreground(salmonPink).Bold(true)
	progressDoneStyle  = lipgloss.NewStyle().Foreground(mintGreen)
	progressFailStyle  = lipgloss.NewStyle().Foreground(alertRed)
	progressStageStyle = lipgloss.NewStyle().Foreground(mutedGray).Italic(true)
)

type stepStartedMsg struct {
	index int
	label string
}

type stepFinishedMsg struct{ result StepResult }

type engineEventMsg struct{ event *types.EngineEvent }

type progressDoneMsg struct{}

type progressModel struct {
	title    string
	spinner  spinner.Model
	finished []StepResult
	current  string
	stage    string
	quitting bool
	cancel   context.CancelFunc
}

func newProgressModel(title string, cancel context.CancelFunc) progressModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(salmonPink)
	return progressModel{title: title, spinner: s, cancel: cancel}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" && m.cancel != nil {
			m.cancel()
			m.stage = "canceling..."
		}
		return m, nil
	case stepStartedMsg:
		m.current = fmt.Sprintf("[%d] %s", msg.index, msg.label)
		m.stage = ""
		return m, nil
	case stepFinishedMsg:
		m.finished = append(m.finished, msg.result)
		m.current = ""
		m.stage = ""
		return m, nil
	case engineEventMsg:
		if stage := describeStage(msg.event); stage != "" {
			m.stage = stage
		}
		return m, nil
	case progressDoneMsg:
		m.quitting = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder
	b.WriteString(progressTitleStyle.Render(m.title))
	b.WriteString("\n")
	for _, res := range m.finished {
		line := fmt.Sprintf("✓ [%d] %s (%s)", res.Index, res.Label, res.Duration.Round(time.Millisecond))
		style := progressDoneStyle
		if !res.Success {
			line = fmt.Sprintf("✗ [%d] %s: %s", res.Index, res.Label, res.Error)
			style = progressFailStyle
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	if m.current != "" && !m.quitting {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(m.current)
		b.WriteString("\n")
		if m.stage != "" {
			b.WriteString("  ")
			b.WriteString(progressStageStyle.Render(m.stage))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func describeStage(e *types.EngineEvent) string {
	if e == nil {
		return ""
	}
	switch e.Type {
	case types.EventTypeOperationStart:
		return e.Operation + ": starting"
	case types.EventTypePerceive:
		return fmt.Sprintf("%s: reading chunk %d/%d", e.Operation, e.Chunk+1, e.Chunks)
	case types.EventTypeDecide:
		return fmt.Sprintf("%s: %s", e.Operation, e.Message)
	case types.EventTypeExecute:
		return fmt.Sprintf("%s: %s", e.Operation, e.Message)
	case types.EventTypeVerify:
		return e.Operation + ": checking the goal"
	case types.EventTypeChunkAdvance:
		return fmt.Sprintf("%s: scrolling to chunk %d/%d", e.Operation, e.Chunk+1, e.Chunks)
	case types.EventTypeRetry:
		return e.Operation + ": retrying"
	}
	return ""
}

// Progress renders a live view of a run: finished steps, a spinner on the
// current one and the engine stage it is in. It implements Reporter.
type Progress struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once
	err     error
}

// NewProgress renders to out. Ctrl+C calls cancel.
func NewProgress(out io.Writer, title string, cancel context.CancelFunc) *Progress {
	return &Progress{
		program: tea.NewProgram(newProgressModel(title, cancel), tea.WithOutput(out)),
		done:    make(chan struct{}),
	}
}

// Start runs the view in the background.
func (p *Progress) Start() {
	go func() {
		defer close(p.done)
		if _, err := p.program.Run(); err != nil {
			p.err = fmt.Errorf("failed to run progress view: %w", err)
		}
	}()
}

// Sink feeds engine events to the view.
func (p *Progress) Sink() types.EventSink {
	return func(e *types.EngineEvent) { p.program.Send(engineEventMsg{event: e}) }
}

// StepStarted implements Reporter.
func (p *Progress) StepStarted(index int, label string) {
	p.program.Send(stepStartedMsg{index: index, label: label})
}

// StepFinished implements Reporter.
func (p *Progress) StepFinished(result StepResult) {
	p.program.Send(stepFinishedMsg{result: result})
}

// Stop renders the final view and waits for the program to exit.
func (p *Progress) Stop() error {
	p.once.Do(func() { p.program.Send(progressDoneMsg{}) })
	<-p.done
	return p.err
}
