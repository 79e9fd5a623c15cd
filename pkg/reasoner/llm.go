package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/entrhq/pagehand/pkg/cache"
	"github.com/entrhq/pagehand/pkg/llm"
	"github.com/entrhq/pagehand/pkg/llm/tokenizer"
	"github.com/entrhq/pagehand/pkg/logging"
	"github.com/entrhq/pagehand/pkg/metrics"
	"github.com/entrhq/pagehand/pkg/types"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// DefaultVerifierModel replaces reasoning-tier models for verification.
	DefaultVerifierModel = "gpt-4o"
	// DefaultMaxElementTokens bounds the page text sent in one call.
	DefaultMaxElementTokens = 100000
)

// LLM is a Reasoner backed by a chat completion provider. Responses are
// XML tool calls; see parseToolCall.
type LLM struct {
	provider         llm.Provider
	verifier         llm.Provider
	verifierModel    string
	cache            *cache.LLMCache
	limiter          *rate.Limiter
	group            singleflight.Group
	tokenizer        *tokenizer.Tokenizer
	maxElementTokens int
	userInstructions string
	metrics          *metrics.Collector
	logger           *logging.Logger
}

// Option configures an LLM reasoner.
type Option func(*LLM)

// WithCache caches responses by call kind, model and messages.
func WithCache(c *cache.LLMCache) Option {
	return func(r *LLM) { r.cache = c }
}

// WithRateLimit caps provider calls per second. Zero or less disables it.
func WithRateLimit(perSecond float64) Option {
	return func(r *LLM) {
		if perSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithTokenizer enables truncating page text to the element token budget.
func WithTokenizer(t *tokenizer.Tokenizer) Option {
	return func(r *LLM) { r.tokenizer = t }
}

// WithMaxElementTokens sets the element token budget.
func WithMaxElementTokens(n int) Option {
	return func(r *LLM) { r.maxElementTokens = n }
}

// WithUserInstructions appends custom instructions to act, extract and
// observe prompts.
func WithUserInstructions(s string) Option {
	return func(r *LLM) { r.userInstructions = s }
}

// WithVerifierModel sets the model used to verify when the main model is a
// reasoning-tier one.
func WithVerifierModel(model string) Option {
	return func(r *LLM) { r.verifierModel = model }
}

// WithMetrics records calls on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *LLM) { r.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *LLM) { r.logger = l }
}

// NewLLM returns a reasoner over provider.
func NewLLM(provider llm.Provider, opts ...Option) *LLM {
	r := &LLM{
		provider:         provider,
		verifierModel:    DefaultVerifierModel,
		maxElementTokens: DefaultMaxElementTokens,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.verifier = r.verifierProvider()
	return r
}

// verifierProvider swaps o1/o3 models, which are slow and costly for a
// yes/no check, for the verifier model when the provider can clone.
func (r *LLM) verifierProvider() llm.Provider {
	model := r.provider.GetModel()
	if !strings.HasPrefix(model, "o1") && !strings.HasPrefix(model, "o3") {
		return r.provider
	}
	cloner, ok := r.provider.(llm.ModelCloner)
	if !ok {
		return r.provider
	}
	r.logger.Debugf("Verifying with %s instead of %s", r.verifierModel, model)
	return cloner.CloneWithModel(r.verifierModel)
}

// DecideAction asks for the next step. A response with neither doAction nor
// skipSection returns ErrProtocol.
func (r *LLM) DecideAction(ctx context.Context, req ActRequest) (*Decision, error) {
	req.Elements = r.truncate(req.Elements)
	return complete(ctx, r, KindAct, r.provider, req.RequestID, actMessages(req, r.userInstructions),
		func(c *toolCall) (*Decision, error) { return c.decision() })
}

// Extract pulls schema-shaped data from the content.
func (r *LLM) Extract(ctx context.Context, req ExtractRequest) (json.RawMessage, error) {
	req.Content = r.truncate(req.Content)
	return complete(ctx, r, KindExtract, r.provider, req.RequestID, extractMessages(req, r.userInstructions), extractedData)
}

// Refine merges the latest extraction into the previous one.
func (r *LLM) Refine(ctx context.Context, req RefineRequest) (json.RawMessage, error) {
	return complete(ctx, r, KindRefine, r.provider, req.RequestID, refineMessages(req), extractedData)
}

// CheckMetadata asks whether extraction is complete.
func (r *LLM) CheckMetadata(ctx context.Context, req MetadataRequest) (*Metadata, error) {
	return complete(ctx, r, KindMetadata, r.provider, req.RequestID, metadataMessages(req),
		func(c *toolCall) (*Metadata, error) {
			if err := c.expect(toolMetadata); err != nil {
				return nil, err
			}
			done, err := parseBool(c.Arguments.Completed)
			if err != nil {
				return nil, err
			}
			return &Metadata{Completed: done, Progress: strings.TrimSpace(c.Arguments.Progress)}, nil
		})
}

// Observe returns the elements matching the instruction.
func (r *LLM) Observe(ctx context.Context, req ObserveRequest) ([]Observation, error) {
	req.Elements = r.truncate(req.Elements)
	return complete(ctx, r, KindObserve, r.provider, req.RequestID, observeMessages(req, r.userInstructions),
		func(c *toolCall) ([]Observation, error) { return c.observations(req.ReturnAction) })
}

// Verify asks whether the goal was reached.
func (r *LLM) Verify(ctx context.Context, req VerifyRequest) (bool, error) {
	req.Elements = r.truncate(req.Elements)
	return complete(ctx, r, KindVerify, r.verifier, req.RequestID, verifyMessages(req),
		func(c *toolCall) (bool, error) {
			if err := c.expect(toolVerify); err != nil {
				return false, err
			}
			return parseBool(c.Arguments.Completed)
		})
}

func (r *LLM) truncate(text string) string {
	if r.tokenizer == nil {
		return text
	}
	cut, truncated := r.tokenizer.Truncate(text, r.maxElementTokens)
	if truncated {
		r.logger.Warnf("Page text truncated to %d tokens", r.maxElementTokens)
	}
	return cut
}

func extractedData(c *toolCall) (json.RawMessage, error) {
	if err := c.expect(toolPrintData); err != nil {
		return nil, err
	}
	data := strings.TrimSpace(c.Arguments.Data)
	if data == "" || data == "null" {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid([]byte(data)) {
		return nil, fmt.Errorf("%w: extracted data is not valid JSON", ErrProtocol)
	}
	return json.RawMessage(data), nil
}

// complete runs one provider call. Answers come from the cache when
// possible, identical in-flight calls share one request, and parsed answers
// are cached.
func complete[T any](ctx context.Context, r *LLM, kind string, p llm.Provider, requestID string,
	messages []*types.Message, parse func(*toolCall) (T, error)) (T, error) {
	var zero T
	key := cache.LLMKey{Kind: kind, Model: p.GetModel(), Messages: messages}

	var cached T
	if r.cache.Get(ctx, key, requestID, &cached) {
		return cached, nil
	}

	flight, err := cache.Hash(key)
	if err != nil {
		return zero, err
	}
	v, err, shared := r.group.Do(flight, func() (interface{}, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		reply, err := p.Complete(ctx, messages)
		r.metrics.RecordReasonerCall(kind, err)
		if err != nil {
			return nil, fmt.Errorf("%s call failed: %w", kind, err)
		}

		call, err := parseToolCall(reply.Content)
		if err != nil {
			r.logger.Debugf("Unparseable %s response: %v", kind, err)
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		res, err := parse(call)
		if err != nil {
			return nil, err
		}
		r.cache.Set(ctx, key, res, requestID)
		return res, nil
	})
	if err != nil {
		return zero, err
	}
	if shared {
		r.logger.Debugf("Shared in-flight %s call", kind)
	}
	return v.(T), nil
}
