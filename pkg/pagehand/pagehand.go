// Package pagehand is the entry point for callers: it binds a page to an
// engine with its reasoner, caches and metrics, and exposes act, extract and
// observe.
package pagehand

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/entrhq/pagehand/pkg/browser"
	"github.com/entrhq/pagehand/pkg/cache"
	"github.com/entrhq/pagehand/pkg/config"
	"github.com/entrhq/pagehand/pkg/engine"
	"github.com/entrhq/pagehand/pkg/llm"
	"github.com/entrhq/pagehand/pkg/llm/tokenizer"
	"github.com/entrhq/pagehand/pkg/logging"
	"github.com/entrhq/pagehand/pkg/metrics"
	"github.com/entrhq/pagehand/pkg/reasoner"
	"github.com/entrhq/pagehand/pkg/types"
)

// DefaultCacheDir holds the cache files when none is configured.
var DefaultCacheDir = filepath.Join("tmp", ".cache")

// ErrURLBlocked is returned by Goto for URLs the navigation guard rejects.
var ErrURLBlocked = errors.New("url blocked by navigation patterns")

// Options are the per-call options of Act, Extract and Observe.
type Options struct {
	// DOMSettleTimeoutMs caps the DOM quiescence wait.
	DOMSettleTimeoutMs int
	// UseTextExtract extracts from a text rendering of the page.
	UseTextExtract bool
	// Selector scopes text extraction to one element.
	Selector string
	// OnlyVisible observes the rendered DOM instead of the accessibility
	// tree.
	OnlyVisible bool
	// TimeoutMs caps an act operation's wall-clock time.
	TimeoutMs int

	Variables    map[string]string
	ReturnAction bool
	DrawOverlay  bool
	RequestID    string
}

func (o Options) settle() time.Duration {
	return time.Duration(o.DOMSettleTimeoutMs) * time.Millisecond
}

// Pagehand runs operations on one page. Operations on the same Pagehand run
// one at a time; use one Pagehand per page for concurrency.
type Pagehand struct {
	page     engine.Page
	engine   *engine.Engine
	stores   []cache.Store
	actions  *cache.ActionCache
	metrics  *metrics.Collector
	logger   *logging.Logger
	settings config.EngineSettings
	guard    func(url string) bool
}

type setup struct {
	provider      llm.Provider
	reasoner      reasoner.Reasoner
	settings      *config.EngineSettings
	domSettle     time.Duration
	verifierModel string
	metrics       *metrics.Collector
	logger        *logging.Logger
	events        types.EventSink
	guard         func(url string) bool
}

// Option configures New.
type Option func(*setup)

// WithProvider reasons with an LLM provider.
func WithProvider(p llm.Provider) Option { return func(s *setup) { s.provider = p } }

// WithReasoner uses r as is. It takes precedence over WithProvider and is
// not wrapped with the LLM cache.
func WithReasoner(r reasoner.Reasoner) Option { return func(s *setup) { s.reasoner = r } }

// WithEngineSettings replaces the configured engine settings.
func WithEngineSettings(es config.EngineSettings) Option {
	return func(s *setup) { s.settings = &es }
}

// WithDOMSettleTimeout sets the default quiescence bound.
func WithDOMSettleTimeout(d time.Duration) Option { return func(s *setup) { s.domSettle = d } }

// WithVerifierModel overrides the configured verifier model.
func WithVerifierModel(model string) Option { return func(s *setup) { s.verifierModel = model } }

// WithMetrics records operations, reasoner calls and cache lookups on c.
func WithMetrics(c *metrics.Collector) Option { return func(s *setup) { s.metrics = c } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(s *setup) { s.logger = l } }

// WithEventSink receives engine stage transitions.
func WithEventSink(sink types.EventSink) Option { return func(s *setup) { s.events = sink } }

// WithNavigationGuard replaces the configured URL allow check used by Goto.
func WithNavigationGuard(allowed func(url string) bool) Option {
	return func(s *setup) { s.guard = allowed }
}

// New binds page to an engine. Settings not given as options come from the
// global configuration when it is initialized.
func New(page engine.Page, opts ...Option) (*Pagehand, error) {
	if page == nil {
		return nil, errors.New("pagehand requires a page")
	}
	s := setup{guard: config.IsURLAllowed}
	for _, opt := range opts {
		opt(&s)
	}
	if s.settings == nil {
		es := config.EngineSettingsOrDefault()
		s.settings = &es
	}
	if s.domSettle == 0 {
		s.domSettle = configuredSettle()
	}
	if s.verifierModel == "" {
		s.verifierModel = config.VerifierModel(reasoner.DefaultVerifierModel)
	}
	if s.reasoner == nil && s.provider == nil {
		return nil, errors.New("pagehand requires a provider or a reasoner")
	}

	p := &Pagehand{
		page:     page,
		metrics:  s.metrics,
		logger:   s.logger,
		settings: *s.settings,
		guard:    s.guard,
	}

	var llmCache *cache.LLMCache
	if s.settings.EnableCaching {
		dir := s.settings.CacheDir
		if dir == "" {
			dir = DefaultCacheDir
		}
		actions, responses, err := cache.OpenStores(s.settings.CacheBackend, dir,
			cache.WithLogger(s.logger), cache.WithMetrics(s.metrics))
		if err != nil {
			return nil, fmt.Errorf("failed to open caches: %w", err)
		}
		p.stores = []cache.Store{actions, responses}
		p.actions = cache.NewActionCache(actions, s.logger)
		llmCache = cache.NewLLMCache(responses, s.logger)
	}

	r := s.reasoner
	if r == nil {
		r = p.newReasoner(s, llmCache)
	}

	engineOpts := []engine.Option{
		engine.WithSettings(engineSettings(*s.settings, s.domSettle)),
		engine.WithLogger(s.logger),
		engine.WithMetrics(s.metrics),
		engine.WithEventSink(s.events),
	}
	if p.actions != nil {
		engineOpts = append(engineOpts, engine.WithActionCache(p.actions), engine.WithLLMCache(llmCache))
	}
	p.engine = engine.New(page, r, engineOpts...)
	return p, nil
}

func (p *Pagehand) newReasoner(s setup, llmCache *cache.LLMCache) reasoner.Reasoner {
	opts := []reasoner.Option{
		reasoner.WithRateLimit(s.settings.RequestsPerSecond),
		reasoner.WithUserInstructions(s.settings.UserInstructions),
		reasoner.WithVerifierModel(s.verifierModel),
		reasoner.WithMetrics(s.metrics),
		reasoner.WithLogger(s.logger),
	}
	if llmCache != nil {
		opts = append(opts, reasoner.WithCache(llmCache))
	}
	if tok, err := tokenizer.ForModel(s.provider.GetModel()); err != nil {
		s.logger.Warnf("No tokenizer for %s, page text is not truncated: %v", s.provider.GetModel(), err)
	} else {
		opts = append(opts, reasoner.WithTokenizer(tok))
	}
	return reasoner.NewLLM(s.provider, opts...)
}

func configuredSettle() time.Duration {
	if b := config.GetBrowser(); b != nil {
		return time.Duration(b.GetDOMSettleTimeoutMs()) * time.Millisecond
	}
	return engine.DefaultDOMSettleTimeout
}

// engineSettings converts configured settings to the engine's form.
func engineSettings(es config.EngineSettings, domSettle time.Duration) engine.Settings {
	s := engine.DefaultSettings()
	if domSettle > 0 {
		s.DOMSettleTimeout = domSettle
	}
	s.ActionTimeout = time.Duration(es.ActionTimeoutMs) * time.Millisecond
	s.MaxRetries = es.MaxRetries
	s.SelfHeal = es.SelfHeal
	s.VerifierDefaultComplete = es.VerifierDefaultComplete
	s.ScrollSettle = time.Duration(es.ScrollSettleMs) * time.Millisecond
	return s
}

// Open starts a browser session named name and binds its page.
func Open(sessions *browser.SessionManager, name string, bopts browser.SessionOptions, opts ...Option) (*Pagehand, *browser.Session, error) {
	session, err := sessions.StartSession(name, bopts)
	if err != nil {
		return nil, nil, err
	}
	p, err := New(session.Page, opts...)
	if err != nil {
		if cerr := sessions.CloseSession(name); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, nil, err
	}
	return p, session, nil
}

// Page returns the bound page.
func (p *Pagehand) Page() engine.Page { return p.page }

// Goto navigates the page after checking the navigation guard.
func (p *Pagehand) Goto(ctx context.Context, url string) error {
	if p.guard != nil && !p.guard(url) {
		return fmt.Errorf("%w: %s", ErrURLBlocked, url)
	}
	p.logger.Infof("Navigating to %s", url)
	return p.page.Goto(ctx, url)
}

// Act performs instruction on the page.
func (p *Pagehand) Act(ctx context.Context, instruction string, opts Options) (*engine.ActResult, error) {
	return p.engine.Act(ctx, engine.ActOptions{
		Action:           instruction,
		Variables:        opts.Variables,
		DOMSettleTimeout: opts.settle(),
		Timeout:          time.Duration(opts.TimeoutMs) * time.Millisecond,
		RequestID:        opts.RequestID,
	})
}

// ActObserved performs an element found by Observe.
func (p *Pagehand) ActObserved(ctx context.Context, observed engine.ObserveResult, opts Options) (*engine.ActResult, error) {
	return p.engine.ActFromDecision(ctx, observed, opts.settle())
}

// Extract returns the data described by instruction, shaped by schema.
// Without an instruction the page text is returned as {"page_text": ...}.
// An extraction stopped by a reasoner failure returns what was gathered
// together with an error.
func (p *Pagehand) Extract(ctx context.Context, instruction string, schema json.RawMessage, opts Options) (json.RawMessage, error) {
	res, err := p.ExtractResult(ctx, instruction, schema, opts)
	if err != nil {
		return nil, err
	}
	if res.Error != "" {
		return res.Data, errors.New(res.Error)
	}
	return res.Data, nil
}

// ExtractResult is Extract with progress and chunk counts.
func (p *Pagehand) ExtractResult(ctx context.Context, instruction string, schema json.RawMessage, opts Options) (*engine.ExtractResult, error) {
	return p.engine.Extract(ctx, engine.ExtractOptions{
		Instruction:      instruction,
		Schema:           schema,
		UseTextExtract:   opts.UseTextExtract,
		Selector:         opts.Selector,
		DOMSettleTimeout: opts.settle(),
		RequestID:        opts.RequestID,
	})
}

// Observe returns the elements matching instruction. An empty instruction
// looks for interactive elements.
func (p *Pagehand) Observe(ctx context.Context, instruction string, opts Options) ([]engine.ObserveResult, error) {
	return p.engine.Observe(ctx, engine.ObserveOptions{
		Instruction:      instruction,
		OnlyVisible:      opts.OnlyVisible,
		ReturnAction:     opts.ReturnAction,
		DrawOverlay:      opts.DrawOverlay,
		DOMSettleTimeout: opts.settle(),
		RequestID:        opts.RequestID,
	})
}

// ResetCache clears the action cache.
func (p *Pagehand) ResetCache(ctx context.Context) {
	if p.actions != nil {
		p.actions.Reset(ctx)
	}
}

// Close releases the cache stores. The page stays open.
func (p *Pagehand) Close() error {
	var errs []error
	for _, s := range p.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
