package runner

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/pagehand/pkg/types"
)

// LogLevel represents the console verbosity level
type LogLevel int

const (
	// LogLevelQuiet shows only errors, warnings and the final summary
	LogLevelQuiet LogLevel = iota
	// LogLevelNormal shows step progress (default)
	LogLevelNormal
	// LogLevelVerbose adds engine stages
	LogLevelVerbose
	// LogLevelDebug shows everything
	LogLevelDebug
)

var (
	salmonPink  = lipgloss.Color("#FFB3BA")
	mintGreen   = lipgloss.Color("#A8E6CF")
	amber       = lipgloss.Color("#FFD59E")
	alertRed    = lipgloss.Color("#FF6B6B")
	mutedGray   = lipgloss.Color("#6B7280")
	brightWhite = lipgloss.Color("#F9FAFB")
)

// Console prints run progress for people. Its colours degrade to plain text
// when the writer is not a terminal.
type Console struct {
	level  LogLevel
	writer io.Writer

	header  lipgloss.Style
	section lipgloss.Style
	info    lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style
	muted   lipgloss.Style

	mu        sync.Mutex
	stepCount int
}

// NewConsole writes to stdout at level.
func NewConsole(level LogLevel) *Console {
	return NewConsoleWriter(level, os.Stdout)
}

// NewConsoleWriter writes to w at level.
func NewConsoleWriter(level LogLevel, w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		level:   level,
		writer:  w,
		header:  r.NewStyle().Foreground(brightWhite).Bold(true),
		section: r.NewStyle().Foreground(salmonPink).Bold(true),
		info:    r.NewStyle().Foreground(salmonPink),
		success: r.NewStyle().Foreground(mintGreen).Bold(true),
		warn:    r.NewStyle().Foreground(amber),
		fail:    r.NewStyle().Foreground(alertRed).Bold(true),
		muted:   r.NewStyle().Foreground(mutedGray),
	}
}

// Level returns the verbosity.
func (l *Console) Level() LogLevel { return l.level }

func (l *Console) println(style lipgloss.Style, s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.writer, style.Render(s))
}

// Header prints a prominent header message
func (l *Console) Header(message string) {
	if l.level >= LogLevelNormal {
		rule := strings.Repeat("=", 70)
		l.println(l.header, "\n"+rule)
		l.println(l.header, "  "+message)
		l.println(l.header, rule)
	}
}

// Section prints a section divider
func (l *Console) Section(title string) {
	if l.level >= LogLevelNormal {
		l.println(l.section, "\n▶ "+title)
		l.println(l.muted, strings.Repeat("─", 50))
	}
}

// Step prints a numbered step
func (l *Console) Step(message string) {
	if l.level >= LogLevelNormal {
		l.mu.Lock()
		l.stepCount++
		n := l.stepCount
		l.mu.Unlock()
		l.println(l.section, fmt.Sprintf("\n[%d] %s", n, message))
	}
}

// Successf prints a success message with checkmark
func (l *Console) Successf(format string, args ...interface{}) {
	if l.level >= LogLevelNormal {
		l.println(l.success, "✓ "+fmt.Sprintf(format, args...))
	}
}

// Infof prints an informational message
func (l *Console) Infof(format string, args ...interface{}) {
	if l.level >= LogLevelNormal {
		l.println(l.info, fmt.Sprintf(format, args...))
	}
}

// Warningf prints a warning message
func (l *Console) Warningf(format string, args ...interface{}) {
	l.println(l.warn, "⚠ Warning: "+fmt.Sprintf(format, args...))
}

// Errorf prints an error message
func (l *Console) Errorf(format string, args ...interface{}) {
	l.println(l.fail, "✗ Error: "+fmt.Sprintf(format, args...))
}

// Verbosef prints detailed information (only in verbose mode)
func (l *Console) Verbosef(format string, args ...interface{}) {
	if l.level >= LogLevelVerbose {
		l.println(l.muted, "→ "+fmt.Sprintf(format, args...))
	}
}

// Debugf prints debug information (only in debug mode)
func (l *Console) Debugf(format string, args ...interface{}) {
	if l.level >= LogLevelDebug {
		l.println(l.muted, "[DEBUG] "+fmt.Sprintf(format, args...))
	}
}

// Event prints an engine stage transition in verbose mode.
func (l *Console) Event(e *types.EngineEvent) {
	if e == nil || l.level < LogLevelVerbose {
		return
	}
	switch e.Type {
	case types.EventTypePerceive:
		l.Verbosef("%s: perceived chunk %d of %d", e.Operation, e.Chunk+1, e.Chunks)
	case types.EventTypeDecide:
		l.Verbosef("%s: decided %s", e.Operation, e.Message)
	case types.EventTypeExecute:
		l.Verbosef("%s: ran %s", e.Operation, e.Message)
	case types.EventTypeVerify:
		l.Verbosef("%s: goal verified=%v", e.Operation, e.Success)
	case types.EventTypeChunkAdvance:
		l.Verbosef("%s: moving to chunk %d of %d", e.Operation, e.Chunk+1, e.Chunks)
	case types.EventTypeRetry:
		l.Verbosef("%s: retrying after %v", e.Operation, e.Error)
	case types.EventTypeError:
		l.Debugf("%s: %v", e.Operation, e.Error)
	default:
		l.Debugf("%s: %s %s", e.Operation, e.Type, e.Message)
	}
}

// Summary prints a final execution summary
func (l *Console) Summary(summary *ExecutionSummary) {
	rule := strings.Repeat("=", 70)
	l.println(l.header, "\n"+rule)
	l.println(l.header, "  EXECUTION SUMMARY")
	l.println(l.header, rule)

	switch summary.Status {
	case statusSuccess:
		l.println(l.success, "  Status: ✓ SUCCESS")
	case statusPartialSuccess:
		l.println(l.warn, "  Status: ⚠ PARTIAL SUCCESS")
	case statusFailed:
		l.println(l.fail, "  Status: ✗ FAILED")
	default:
		l.println(l.info, "  Status: "+summary.Status)
	}

	l.mu.Lock()
	fmt.Fprintf(l.writer, "  Task: %s\n", summary.Task)
	fmt.Fprintf(l.writer, "  Duration: %s\n", summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(l.writer, "  Steps: %d run, %d succeeded, %d failed\n",
		summary.Metrics.Steps, summary.Metrics.Succeeded, summary.Metrics.Failed)
	if l.level >= LogLevelVerbose {
		fmt.Fprintf(l.writer, "  Decisions: %d, browser commands: %d, chunks perceived: %d\n",
			summary.Metrics.Decisions, summary.Metrics.Commands, summary.Metrics.Perceptions)
	}
	l.mu.Unlock()

	if summary.Error != "" {
		l.println(l.fail, "\n  Error Details:")
		l.println(l.fail, "    "+summary.Error)
	}
	l.println(l.header, rule)
}

// ParseLogLevel converts a verbosity name to a LogLevel, defaulting to
// normal.
func ParseLogLevel(level string) LogLevel {
	switch level {
	case "quiet":
		return LogLevelQuiet
	case "normal":
		return LogLevelNormal
	case "verbose":
		return LogLevelVerbose
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelNormal
	}
}
