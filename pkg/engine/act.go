package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/pagehand/pkg/cache"
	"github.com/entrhq/pagehand/pkg/perception"
	"github.com/entrhq/pagehand/pkg/reasoner"
	"github.com/entrhq/pagehand/pkg/types"
)

const scrolledStep = "## Step: Scrolled to another section\n"

// ActOptions describe one act operation.
type ActOptions struct {
	Action string
	// Variables fill <|KEY|> placeholders in decided arguments. Only the
	// names are shown to the reasoner.
	Variables map[string]string
	// DOMSettleTimeout overrides the configured quiescence bound.
	DOMSettleTimeout time.Duration
	// Timeout overrides the configured action timeout.
	Timeout   time.Duration
	RequestID string
}

// ActResult is the outcome of an act operation.
type ActResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

// actState carries an act operation across loop iterations.
type actState struct {
	steps             string
	chunksSeen        []int
	retries           int
	previousSelectors []string
	start             time.Time
}

// Act performs opts.Action on the page. Failures are reported in the
// result; only context cancellation and invalid options return an error.
func (e *Engine) Act(ctx context.Context, opts ActOptions) (*ActResult, error) {
	if strings.TrimSpace(opts.Action) == "" {
		return nil, errors.New("act requires an action")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearOverlay(ctx)
	return e.runAct(ctx, opts)
}

func (e *Engine) runAct(ctx context.Context, opts ActOptions) (*ActResult, error) {
	requestID := newRequestID(opts.RequestID)
	start := e.begin(OpAct, requestID, opts.Action)
	res, err := e.act(ctx, requestID, opts)
	if err != nil {
		e.events.Emit(types.NewErrorEvent(OpAct, requestID, err))
		e.end(OpAct, requestID, start, false, err.Error())
		return nil, err
	}
	e.end(OpAct, requestID, start, res.Success, res.Message)
	return res, nil
}

func (e *Engine) act(ctx context.Context, requestID string, opts ActOptions) (*ActResult, error) {
	st := &actState{start: time.Now()}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.settings.ActionTimeout
	}
	fail := func(message string) (*ActResult, error) {
		e.purge(ctx, requestID)
		return &ActResult{Message: message, Action: opts.Action}, nil
	}
	dom := e.perception.DOM()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.settle(ctx, opts.DOMSettleTimeout)
		if timeout > 0 && time.Since(st.start) > timeout {
			return &ActResult{
				Message: fmt.Sprintf("Action timed out after %dms", timeout.Milliseconds()),
				Action:  opts.Action,
			}, nil
		}

		// PERCEIVE
		page, err := e.perceive(ctx, dom, OpAct, requestID, perception.Request{ChunksSeen: st.chunksSeen})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Errorf("Error processing DOM: %v", err)
			return fail(fmt.Sprintf("Error performing action: %v", err))
		}
		e.logger.Debugf("Looking at chunk %d of %d (%d seen)", page.Chunk, len(page.Chunks), len(st.chunksSeen))

		// DECIDE
		decision, err := e.decide(ctx, reasoner.ActRequest{
			RequestID:   requestID,
			Instruction: opts.Action,
			Steps:       st.steps,
			Elements:    page.Text,
			Variables:   variableNames(opts.Variables),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.events.Emit(types.NewErrorEvent(OpAct, requestID, err))
			return fail(fmt.Sprintf("Error performing action: %v", err))
		}

		if decision.Skip {
			e.logger.Debugf("No action found in current chunk: %s", decision.Reason)
			if len(st.chunksSeen)+1 < len(page.Chunks) {
				st.chunksSeen = append(st.chunksSeen, page.Chunk)
				st.steps = appendStep(st.steps, scrolledStep)
				e.events.Emit(types.NewChunkAdvanceEvent(OpAct, requestID, page.Chunk, len(page.Chunks)))
				continue
			}
			return fail("Action was not able to be completed.")
		}
		e.events.Emit(types.NewDecideEvent(OpAct, requestID, decision.Step))

		// RESOLVE, EXECUTE
		initialURL := e.page.URL()
		xpath, component, err := e.attempt(ctx, requestID, page, decision, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			kind := kindOf(err)
			e.logger.Warnf("Error performing action (retries: %d): %v", st.retries, err)
			if kind.Retryable() && st.retries < e.settings.MaxRetries {
				st.retries++
				e.metrics.RecordRetry(kind.String())
				e.events.Emit(types.NewRetryEvent(OpAct, requestID, err))
				continue
			}
			if kind.Retryable() {
				return fail(fmt.Sprintf("Error performing action after %d retries: %v", st.retries, err))
			}
			return fail(fmt.Sprintf("Error performing action: %v", err))
		}

		newStep := narrative(decision, elementLine(page.Text, decision.ElementIndex))
		st.steps = appendStep(st.steps, newStep)
		e.actions.AddStep(ctx, cache.ActionKey{
			URL:               initialURL,
			Action:            opts.Action,
			PreviousSelectors: slices.Clone(st.previousSelectors),
		}, cache.ActionStep{
			Command:           cache.Command{Method: decision.Method.String(), Args: decision.Args},
			ComponentString:   component,
			XPaths:            page.Selectors[decision.ElementIndex],
			NewStepString:     newStep,
			Completed:         decision.Completed,
			PreviousSelectors: slices.Clone(st.previousSelectors),
			Action:            opts.Action,
		}, requestID)

		if url := e.page.URL(); url != initialURL {
			st.steps += fmt.Sprintf("  Result (Important): Page URL changed from %s to %s\n\n", initialURL, url)
		}

		// VERIFY
		if !e.verify(ctx, requestID, opts, decision.Completed, st.steps) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			e.logger.Debugf("Continuing to next action step")
			st.previousSelectors = append(st.previousSelectors, xpath)
			continue
		}
		e.logger.Infof("Action completed successfully")
		return &ActResult{
			Success: true,
			Message: "Action completed successfully: " + st.steps + decision.Step,
			Action:  opts.Action,
		}, nil
	}
}

// decide asks the reasoner for the next step, trying again once when the
// answer breaks the protocol.
func (e *Engine) decide(ctx context.Context, req reasoner.ActRequest) (*reasoner.Decision, error) {
	var lastErr error
	for attempt := 1; attempt <= decideAttempts; attempt++ {
		d, err := e.reasoner.DecideAction(ctx, req)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, reasoner.ErrProtocol) {
			return nil, err
		}
		e.logger.Warnf("Unusable decision (attempt %d of %d): %v", attempt, decideAttempts, err)
		lastErr = err
	}
	return nil, newError(KindReasonerProtocol, "decide", lastErr)
}

// attempt resolves the decided element and runs the command on it.
func (e *Engine) attempt(ctx context.Context, requestID string, page *perception.Result, d *reasoner.Decision, opts ActOptions) (xpath, component string, err error) {
	paths, ok := page.Paths(d.ElementIndex)
	if !ok {
		return "", "", newError(KindUnresolvableTarget, "resolve", fmt.Errorf("no element with index %d", d.ElementIndex))
	}
	xpath, err = e.resolve(ctx, paths)
	if err != nil {
		return "", "", err
	}
	component = e.componentString(ctx, xpath)
	args := fillVariables(d.Args, opts.Variables)
	e.events.Emit(types.NewExecuteEvent(OpAct, requestID, d.Method.String()))
	if err := e.execute(ctx, d.Method, xpath, args, opts.DOMSettleTimeout); err != nil {
		return "", "", err
	}
	return xpath, component, nil
}

// verify confirms a step the reasoner marked completed against the whole
// page. Failures assume the configured default.
func (e *Engine) verify(ctx context.Context, requestID string, opts ActOptions, completed bool, steps string) bool {
	if !completed {
		return false
	}
	e.settle(ctx, opts.DOMSettleTimeout)
	if ctx.Err() != nil {
		return false
	}
	fallback := e.settings.VerifierDefaultComplete

	page, err := e.perceive(ctx, e.perception.DOM(), OpAct, requestID, perception.Request{All: true})
	if err != nil {
		e.logger.Warnf("Error verifying action completion, assuming %t: %v", fallback, err)
		return fallback
	}
	done, err := e.reasoner.Verify(ctx, reasoner.VerifyRequest{
		RequestID: requestID,
		Goal:      opts.Action,
		Steps:     steps,
		Elements:  page.Text,
	})
	if err != nil {
		e.logger.Warnf("Error verifying action completion, assuming %t: %v", fallback, err)
		done = fallback
	}
	e.events.Emit(types.NewVerifyEvent(OpAct, requestID, done))
	return done
}

// narrative renders one step record.
func narrative(d *reasoner.Decision, element string) string {
	return fmt.Sprintf("## Step: %s\n  Element: %s\n  Action: %s\n  Reasoning: %s\n", d.Step, element, d.Method, d.Why)
}

func appendStep(steps, step string) string {
	if steps != "" && !strings.HasSuffix(steps, "\n") {
		steps += "\n"
	}
	return steps + step
}

// elementLine returns the text after "<idx>:" on the matching line of an
// indexed page rendering.
func elementLine(text string, idx int) string {
	prefix := strconv.Itoa(idx) + ":"
	for _, line := range strings.Split(text, "\n") {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			return rest
		}
	}
	return "Element not found"
}
