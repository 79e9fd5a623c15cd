package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/pagehand/pkg/perception"
	"github.com/entrhq/pagehand/pkg/reasoner"
	"github.com/entrhq/pagehand/pkg/types"
)

// DefaultObserveInstruction is used when Observe gets no instruction.
const DefaultObserveInstruction = "Find elements that can be used for any future actions in the page. " +
	"These may be navigation links, related pages, section/subsection links, buttons, or other interactive elements. " +
	"Be comprehensive: if there are multiple elements that may be relevant for future actions, return all of them."

// ObserveOptions describe one observe operation.
type ObserveOptions struct {
	Instruction string
	// OnlyVisible perceives the rendered DOM instead of the accessibility
	// tree.
	OnlyVisible bool
	// ReturnAction asks for a suggested method and arguments per element.
	ReturnAction bool
	// DrawOverlay highlights the found elements on the page.
	DrawOverlay      bool
	DOMSettleTimeout time.Duration
	RequestID        string
}

// ObserveResult is an element found by Observe. It can be passed to
// ActFromDecision.
type ObserveResult struct {
	Selector    string          `json:"selector"`
	Description string          `json:"description"`
	Method      reasoner.Method `json:"method,omitzero"`
	Args        []string        `json:"arguments,omitempty"`
}

// Observe returns the elements matching opts.Instruction.
func (e *Engine) Observe(ctx context.Context, opts ObserveOptions) ([]ObserveResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearOverlay(ctx)

	if opts.Instruction == "" {
		opts.Instruction = DefaultObserveInstruction
	}
	requestID := newRequestID(opts.RequestID)
	start := e.begin(OpObserve, requestID, opts.Instruction)
	results, err := e.observe(ctx, requestID, opts)
	if err != nil {
		e.events.Emit(types.NewErrorEvent(OpObserve, requestID, err))
		e.end(OpObserve, requestID, start, false, err.Error())
		return nil, err
	}
	e.end(OpObserve, requestID, start, true, fmt.Sprintf("found %d elements", len(results)))
	return results, nil
}

func (e *Engine) observe(ctx context.Context, requestID string, opts ObserveOptions) ([]ObserveResult, error) {
	useTree := !opts.OnlyVisible
	e.settle(ctx, opts.DOMSettleTimeout)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := e.perceive(ctx, e.perception.Select(useTree), OpObserve, requestID, perception.Request{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to perceive page: %w", err)
	}

	found, err := e.reasoner.Observe(ctx, reasoner.ObserveRequest{
		RequestID:     requestID,
		Instruction:   opts.Instruction,
		Elements:      page.Text,
		Accessibility: useTree,
		ReturnAction:  opts.ReturnAction,
	})
	if err != nil {
		return nil, fmt.Errorf("observe call failed: %w", err)
	}
	for _, iframe := range page.Iframes {
		idx, err := strconv.Atoi(iframe.NodeID)
		if err != nil {
			continue
		}
		found = append(found, reasoner.Observation{
			ElementIndex: idx,
			Description:  "an iframe",
			Method:       reasoner.Method{Kind: reasoner.MethodUnsupported},
			Args:         []string{},
		})
	}

	results := make([]ObserveResult, 0, len(found))
	xpaths := make([]string, 0, len(found))
	for _, obs := range found {
		paths, ok := page.Paths(obs.ElementIndex)
		if !ok {
			e.logger.Warnf("Empty xpath returned for element: %d", obs.ElementIndex)
			continue
		}
		xpaths = append(xpaths, paths[0])
		results = append(results, ObserveResult{
			Selector:    "xpath=" + paths[0],
			Description: obs.Description,
			Method:      obs.Method,
			Args:        obs.Args,
		})
	}
	e.logger.Debugf("Found %d elements", len(results))

	if opts.DrawOverlay && len(xpaths) > 0 {
		if err := e.page.DrawOverlay(ctx, xpaths); err != nil {
			e.logger.Warnf("Failed to draw observe overlay: %v", err)
		} else {
			e.overlaid = true
		}
	}
	return results, nil
}

// ActFromDecision runs the command of an observed element directly,
// without perceiving or asking the reasoner. When the command fails and
// self-heal is enabled, the element description prefixed with the method
// is run as a fresh act.
func (e *Engine) ActFromDecision(ctx context.Context, obs ObserveResult, settle time.Duration) (*ActResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearOverlay(ctx)

	action := obs.Description
	if action == "" {
		action = fmt.Sprintf("ObserveResult action (%s)", obs.Method)
	}
	if obs.Method.Kind == reasoner.MethodUnsupported {
		e.logger.Warnf("Cannot execute ObserveResult with unsupported method")
		return &ActResult{
			Message: fmt.Sprintf("Unable to perform action: The method '%s' is not supported in ObserveResult. Please use a supported Playwright locator method.", obs.Method),
			Action:  action,
		}, nil
	}

	selector := stripXPathPrefix(obs.Selector)
	err := e.execute(ctx, obs.Method, selector, obs.Args, settle)
	if err == nil {
		return &ActResult{
			Success: true,
			Message: fmt.Sprintf("Action [%s] performed successfully on selector: %s", obs.Method, selector),
			Action:  action,
		}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !e.settings.SelfHeal || IsKind(err, KindUnsupportedCommand) || errors.Is(err, ErrMethodNotSupported) {
		e.logger.Warnf("Error performing act from an ObserveResult: %v", err)
		return &ActResult{Message: fmt.Sprintf("Failed to perform act: %v", err), Action: action}, nil
	}

	instruction := selfHealInstruction(obs.Method.String(), obs.Description)
	e.logger.Infof("Error performing act from an ObserveResult, trying again with act %q: %v", instruction, err)
	res, err := e.runAct(ctx, ActOptions{Action: instruction, DOMSettleTimeout: settle})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return &ActResult{Message: fmt.Sprintf("Failed to perform act: %s", res.Message), Action: action}, nil
	}
	return res, nil
}

// selfHealInstruction describes an observed element as an act instruction:
// "<method> <description>", or the description alone when it already
// starts with the method.
func selfHealInstruction(method, description string) string {
	switch {
	case method == "":
		return description
	case description == "":
		return method
	case strings.HasPrefix(strings.ToLower(description), strings.ToLower(method)):
		return description
	}
	return method + " " + description
}
