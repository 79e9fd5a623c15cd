// Package engine runs act, extract and observe operations against a page.
// Each operation is a sequential loop of perceive, reason and execute
// steps; one page runs one operation at a time.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/pagehand/pkg/cache"
	"github.com/entrhq/pagehand/pkg/logging"
	"github.com/entrhq/pagehand/pkg/metrics"
	"github.com/entrhq/pagehand/pkg/perception"
	"github.com/entrhq/pagehand/pkg/reasoner"
	"github.com/entrhq/pagehand/pkg/types"
	"github.com/google/uuid"
)

// Operation names used in events and metrics.
const (
	OpAct     = "act"
	OpExtract = "extract"
	OpObserve = "observe"
)

const (
	DefaultDOMSettleTimeout = 2 * time.Second
	DefaultMaxRetries       = 2

	// decideAttempts bounds reasoner calls for one decision when answers
	// break the protocol.
	decideAttempts = 2
	attachTimeout  = 2 * time.Second
	newTabWindow   = 1500 * time.Millisecond
)

// Settings tune the engine.
type Settings struct {
	// DOMSettleTimeout bounds every quiescence wait unless an operation
	// overrides it.
	DOMSettleTimeout time.Duration
	// ActionTimeout caps an act operation's wall-clock time. Zero disables
	// it.
	ActionTimeout time.Duration
	// MaxRetries is how often an act attempt restarts after a resolve or
	// execute failure.
	MaxRetries int
	// SelfHeal reruns a failed ActFromDecision through the full act loop.
	SelfHeal bool
	// VerifierDefaultComplete is assumed when verification fails.
	VerifierDefaultComplete bool
	// ScrollSettle is the pause before each chunk scroll.
	ScrollSettle time.Duration
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		DOMSettleTimeout:        DefaultDOMSettleTimeout,
		MaxRetries:              DefaultMaxRetries,
		SelfHeal:                true,
		VerifierDefaultComplete: true,
		ScrollSettle:            perception.DefaultScrollSettle,
	}
}

// Engine drives one page.
type Engine struct {
	page       Page
	reasoner   reasoner.Reasoner
	perception *perception.Facade
	actions    *cache.ActionCache
	llmCache   *cache.LLMCache
	metrics    *metrics.Collector
	logger     *logging.Logger
	events     types.EventSink
	settings   Settings

	// mu serializes operations on the page and guards overlaid.
	mu       sync.Mutex
	overlaid bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithSettings replaces the default settings.
func WithSettings(s Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithActionCache records successful steps in c and purges it on failure.
func WithActionCache(c *cache.ActionCache) Option {
	return func(e *Engine) { e.actions = c }
}

// WithLLMCache purges the operation's cached reasoner answers on failure.
// The reasoner itself reads and writes the cache.
func WithLLMCache(c *cache.LLMCache) Option {
	return func(e *Engine) { e.llmCache = c }
}

// WithMetrics records operations on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithEventSink receives stage transitions.
func WithEventSink(sink types.EventSink) Option {
	return func(e *Engine) { e.events = sink }
}

// New returns an engine for page that reasons with r.
func New(page Page, r reasoner.Reasoner, opts ...Option) *Engine {
	e := &Engine{
		page:     page,
		reasoner: r,
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.perception = perception.NewFacade(page, e.logger, perception.WithScrollSettle(e.settings.ScrollSettle))
	return e
}

// Page returns the page the engine drives.
func (e *Engine) Page() Page { return e.page }

// settle waits for DOM quiescence for at most timeout, or the configured
// default when timeout is zero. Expiry is logged and otherwise ignored.
func (e *Engine) settle(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		timeout = e.settings.DOMSettleTimeout
	}
	if timeout <= 0 {
		timeout = DefaultDOMSettleTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := e.page.WaitForSettledDOM(sctx); err != nil && ctx.Err() == nil {
		e.logger.Warnf("%v", newError(KindPerceptionTimeout, "settle", err))
	}
}

// perceive runs one perception request and records it.
func (e *Engine) perceive(ctx context.Context, p perception.Perception, op, requestID string, req perception.Request) (*perception.Result, error) {
	res, err := p.Perceive(ctx, req)
	if err != nil {
		return nil, err
	}
	count := res.ChunkCount
	if count == 0 {
		count = 1
	}
	e.metrics.RecordChunks(p.Name(), count)
	e.events.Emit(types.NewPerceiveEvent(op, requestID, res.Chunk, len(res.Chunks)))
	return res, nil
}

// purge drops everything the operation wrote to the caches.
func (e *Engine) purge(ctx context.Context, requestID string) {
	e.actions.ClearRequest(ctx, requestID)
	e.llmCache.ClearRequest(ctx, requestID)
}

func (e *Engine) begin(op, requestID, instruction string) time.Time {
	e.logger.Infof("Starting %s %s: %s", op, requestID, instruction)
	e.events.Emit(types.NewOperationStartEvent(op, requestID, instruction))
	return time.Now()
}

func (e *Engine) end(op, requestID string, start time.Time, success bool, message string) {
	e.metrics.RecordOperation(op, success, time.Since(start))
	e.events.Emit(types.NewOperationEndEvent(op, requestID, message, success))
	if success {
		e.logger.Infof("Finished %s %s", op, requestID)
	} else {
		e.logger.Warnf("Failed %s %s: %s", op, requestID, message)
	}
}

// clearOverlay removes the overlay drawn by the previous observe, if any.
func (e *Engine) clearOverlay(ctx context.Context) {
	if !e.overlaid {
		return
	}
	e.overlaid = false
	if err := e.page.ClearOverlays(ctx); err != nil {
		e.logger.Warnf("Failed to clear observe overlay: %v", err)
	}
}

func newRequestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// stripXPathPrefix removes a leading "xpath=" from a selector.
func stripXPathPrefix(selector string) string {
	return strings.TrimPrefix(strings.TrimSpace(selector), "xpath=")
}
