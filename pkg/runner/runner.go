package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/entrhq/pagehand/pkg/engine"
	"github.com/entrhq/pagehand/pkg/logging"
	"github.com/entrhq/pagehand/pkg/pagehand"
	"github.com/entrhq/pagehand/pkg/types"
)

const (
	statusRunning        = "running"
	statusSuccess        = "success"
	statusFailed         = "failed"
	statusPartialSuccess = "partial_success"
)

// Hand runs operations on one page. *pagehand.Pagehand implements it.
type Hand interface {
	Goto(ctx context.Context, url string) error
	Act(ctx context.Context, instruction string, opts pagehand.Options) (*engine.ActResult, error)
	ExtractResult(ctx context.Context, instruction string, schema json.RawMessage, opts pagehand.Options) (*engine.ExtractResult, error)
	Observe(ctx context.Context, instruction string, opts pagehand.Options) ([]engine.ObserveResult, error)
	Page() engine.Page
}

// Reporter is told when steps start and finish.
type Reporter interface {
	StepStarted(index int, label string)
	StepFinished(result StepResult)
}

// Runner executes one task file.
type Runner struct {
	config      *Config
	constraints *ConstraintManager
	artifacts   *ArtifactWriter
	console     *Console
	logger      *logging.Logger
	reporter    Reporter
	forward     types.EventSink

	mu      sync.Mutex
	metrics ExecutionMetrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithConsole prints progress on c instead of stdout.
func WithConsole(c *Console) Option { return func(r *Runner) { r.console = c } }

// WithLogger sets the file logger.
func WithLogger(l *logging.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithReporter reports step progress to rep.
func WithReporter(rep Reporter) Option { return func(r *Runner) { r.reporter = rep } }

// WithEventSink forwards engine events received by EventSink to sink.
func WithEventSink(sink types.EventSink) Option { return func(r *Runner) { r.forward = sink } }

// WithArtifactDir overrides the configured artifact directory.
func WithArtifactDir(dir string) Option {
	return func(r *Runner) { r.artifacts = NewArtifactWriter(dir) }
}

// New validates config and prepares a run.
func New(config *Config, opts ...Option) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	constraints, err := NewConstraintManager(config.Constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to create constraint manager: %w", err)
	}

	r := &Runner{
		config:      config,
		constraints: constraints,
	}
	if config.Artifacts.Enabled {
		r.artifacts = NewArtifactWriter(config.Artifacts.OutputDir)
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.console == nil {
		r.console = NewConsole(ParseLogLevel(config.Logging.Verbosity))
	}
	return r, nil
}

// Config returns the task configuration.
func (r *Runner) Config() *Config { return r.config }

// EventSink counts engine events for the run metrics, prints them in
// verbose mode and forwards them.
func (r *Runner) EventSink() types.EventSink {
	return func(e *types.EngineEvent) {
		r.mu.Lock()
		switch e.Type {
		case types.EventTypeDecide:
			r.metrics.Decisions++
		case types.EventTypeExecute:
			r.metrics.Commands++
		case types.EventTypePerceive:
			r.metrics.Perceptions++
		case types.EventTypeRetry:
			r.metrics.Retries++
		}
		r.mu.Unlock()
		r.console.Event(e)
		r.forward.Emit(e)
	}
}

// Run executes the task on hand. The summary is returned even when the run
// fails.
func (r *Runner) Run(ctx context.Context, hand Hand) (*ExecutionSummary, error) {
	summary := &ExecutionSummary{
		Task:      r.config.Task,
		URL:       r.config.URL,
		Status:    statusRunning,
		StartTime: time.Now(),
	}
	r.logger.Infof("Starting task: %s", r.config.Task)
	r.console.Header(fmt.Sprintf("Pagehand: %s", displayTask(r.config)))

	runCtx := ctx
	if r.config.Constraints.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.Constraints.Timeout)
		defer cancel()
	}

	steps := r.config.Steps
	if r.config.URL != "" {
		steps = append([]Step{{Name: "open " + r.config.URL, Goto: r.config.URL}}, steps...)
	}

	var runErr error
	for i, step := range steps {
		if err := runCtx.Err(); err != nil {
			runErr = r.contextError(ctx, err)
			break
		}
		if err := r.constraints.CheckTimeout(); err != nil {
			runErr = err
			break
		}
		if err := r.constraints.StartStep(); err != nil {
			runErr = err
			break
		}

		label := step.Label()
		r.console.Step(label)
		if r.reporter != nil {
			r.reporter.StepStarted(i+1, label)
		}

		res, stop := r.runStep(runCtx, hand, i+1, step)
		summary.Steps = append(summary.Steps, res)
		if r.reporter != nil {
			r.reporter.StepFinished(res)
		}

		if res.Success {
			r.console.Successf("%s", res.Message)
			continue
		}
		r.console.Errorf("%s", res.Error)
		r.logger.Warnf("Step %d (%s) failed: %s", res.Index, label, res.Error)

		if runCtx.Err() != nil {
			runErr = r.contextError(ctx, runCtx.Err())
			break
		}
		if stop != nil {
			runErr = stop
			break
		}
		if !r.config.ContinueOnFailure {
			runErr = fmt.Errorf("step %d (%s) failed: %s", res.Index, label, res.Error)
			break
		}
	}

	return summary, r.finalize(summary, runErr)
}

func displayTask(c *Config) string {
	if c.Task != "" {
		return c.Task
	}
	return c.URL
}

func (r *Runner) contextError(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return &ConstraintViolation{
			Type:    ViolationTimeout,
			Message: fmt.Sprintf("execution timeout exceeded (%v)", r.config.Constraints.Timeout),
		}
	}
	return fmt.Errorf("execution canceled: %w", err)
}

// runStep runs one step. A non-nil stop error ends the run regardless of
// ContinueOnFailure.
func (r *Runner) runStep(ctx context.Context, hand Hand, index int, step Step) (res StepResult, stop error) {
	start := time.Now()
	res = StepResult{Index: index, Kind: step.Kind(), Label: step.Label()}
	defer func() {
		res.Duration = time.Since(start)
		if page := hand.Page(); page != nil {
			res.URL = page.URL()
		}
	}()

	fail := func(err error) (StepResult, error) {
		res.Success = false
		res.Error = err.Error()
		var violation *ConstraintViolation
		if errors.As(err, &violation) {
			return res, err
		}
		return res, nil
	}

	opts := pagehand.Options{
		DOMSettleTimeoutMs: step.DOMSettleTimeoutMs,
		UseTextExtract:     step.UseTextExtract,
		Selector:           step.Selector,
		OnlyVisible:        step.OnlyVisible,
		TimeoutMs:          step.TimeoutMs,
		Variables:          step.Variables,
		ReturnAction:       step.ReturnAction,
		DrawOverlay:        step.DrawOverlay,
	}

	switch res.Kind {
	case StepGoto:
		if err := r.constraints.CheckURL(step.Goto); err != nil {
			return fail(err)
		}
		if err := hand.Goto(ctx, step.Goto); err != nil {
			return fail(fmt.Errorf("navigation failed: %w", err))
		}
		res.Success = true
		res.Message = "Navigated to " + step.Goto

	case StepAct:
		ar, err := hand.Act(ctx, step.Act, opts)
		if err != nil {
			return fail(err)
		}
		res.Success = ar.Success
		res.Message = ar.Message
		if !ar.Success {
			res.Error = ar.Message
		}

	case StepExtract:
		schema, err := step.SchemaJSON()
		if err != nil {
			return fail(err)
		}
		er, err := hand.ExtractResult(ctx, step.Extract, schema, opts)
		if err != nil {
			return fail(err)
		}
		res.Data = er.Data
		completed := er.Completed
		res.Completed = &completed
		if er.Error != "" {
			return fail(errors.New(er.Error))
		}
		res.Success = true
		if er.ChunksTotal > 0 {
			res.Message = fmt.Sprintf("Extracted from %d of %d chunks", er.ChunksSeen, er.ChunksTotal)
		} else {
			res.Message = "Extracted page text"
		}

	case StepObserve:
		found, err := hand.Observe(ctx, step.Observe, opts)
		if err != nil {
			return fail(err)
		}
		res.Success = true
		res.Observations = found
		res.Message = fmt.Sprintf("Found %d element(s)", len(found))
	}

	// Acts can navigate; the page they land on is held to the same patterns.
	if page := hand.Page(); page != nil && res.Kind == StepAct {
		if err := r.constraints.CheckURL(page.URL()); err != nil {
			return fail(err)
		}
	}
	return res, nil
}

// finalize completes the execution and generates artifacts
func (r *Runner) finalize(summary *ExecutionSummary, runErr error) error {
	summary.EndTime = time.Now()
	summary.Duration = summary.EndTime.Sub(summary.StartTime)

	r.mu.Lock()
	summary.Metrics = r.metrics
	r.mu.Unlock()
	summary.Metrics.Steps = len(summary.Steps)
	for _, step := range summary.Steps {
		if step.Success {
			summary.Metrics.Succeeded++
		} else {
			summary.Metrics.Failed++
		}
	}

	switch {
	case runErr != nil:
		summary.Status = statusFailed
		summary.Error = runErr.Error()
	case summary.Metrics.Failed == 0:
		summary.Status = statusSuccess
	case summary.Metrics.Succeeded > 0:
		summary.Status = statusPartialSuccess
		summary.Error = fmt.Sprintf("%d of %d steps failed", summary.Metrics.Failed, summary.Metrics.Steps)
	default:
		summary.Status = statusFailed
		summary.Error = "every step failed"
	}

	if r.artifacts != nil {
		if err := r.artifacts.WriteAll(summary); err != nil {
			r.logger.Warnf("Failed to write artifacts: %v", err)
			r.console.Warningf("failed to write artifacts: %v", err)
		} else {
			r.logger.Infof("Artifacts written to %s", r.artifacts.OutputDir())
			r.console.Verbosef("Artifacts written to %s", r.artifacts.OutputDir())
		}
	}

	r.console.Summary(summary)
	r.logger.Infof("Task completed: %s (duration: %s)", summary.Status, summary.Duration)

	if summary.Status == statusFailed {
		return fmt.Errorf("execution failed: %s", summary.Error)
	}
	return nil
}

// Quiet returns a console that discards everything, for runs whose
// progress is rendered elsewhere.
func Quiet() *Console { return NewConsoleWriter(LogLevelQuiet, io.Discard) }
