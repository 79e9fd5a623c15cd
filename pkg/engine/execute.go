package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/entrhq/pagehand/pkg/reasoner"
)

// resolve returns the first candidate that attaches within attachTimeout.
func (e *Engine) resolve(ctx context.Context, paths []string) (string, error) {
	for _, xp := range paths {
		if err := e.page.WaitForAttached(ctx, xp, attachTimeout); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			e.logger.Debugf("XPath not yet located; moving on: %s: %v", xp, err)
			continue
		}
		return xp, nil
	}
	return "", newError(KindUnresolvableTarget, "resolve",
		fmt.Errorf("none of the provided XPaths could be located: %s", strings.Join(paths, ", ")))
}

// lookup finds the node at xpath in a fresh snapshot.
func (e *Engine) lookup(ctx context.Context, xpath string) (*dom.Document, *dom.Node) {
	d, err := e.page.Snapshot(ctx)
	if err != nil {
		e.logger.Debugf("Snapshot for %s failed: %v", xpath, err)
		return nil, nil
	}
	n, err := dom.QueryFirst(d, xpath)
	if err != nil {
		e.logger.Debugf("Cannot evaluate %s: %v", xpath, err)
		return d, nil
	}
	return d, n
}

// componentString fingerprints the element at xpath for the action cache.
func (e *Engine) componentString(ctx context.Context, xpath string) string {
	_, n := e.lookup(ctx, xpath)
	if n == nil {
		return ""
	}
	return dom.ComponentString(n)
}

// execute runs one command on the element at xpath and waits for the page
// to settle afterwards.
func (e *Engine) execute(ctx context.Context, m reasoner.Method, xpath string, args []string, settle time.Duration) error {
	e.logger.Debugf("Executing %s on %s with args %q", m, xpath, args)

	var err error
	switch m.Kind {
	case reasoner.MethodClick:
		err = e.click(ctx, xpath)
	case reasoner.MethodFill, reasoner.MethodType:
		err = e.fill(ctx, xpath, firstArg(args))
	case reasoner.MethodPress:
		if len(args) == 0 {
			return newError(KindCommandExecution, m.String(), errors.New("press requires a key"))
		}
		err = e.page.Press(ctx, args[0])
	case reasoner.MethodScrollIntoView:
		err = e.page.ScrollIntoView(ctx, xpath)
	case reasoner.MethodGeneric:
		err = e.page.Invoke(ctx, xpath, m.Name, args)
		if errors.Is(err, ErrMethodNotSupported) {
			return newError(KindUnsupportedCommand, m.Name, err)
		}
	default:
		return newError(KindUnsupportedCommand, m.String(), fmt.Errorf("%w: %q", ErrMethodNotSupported, m.String()))
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var engineErr *Error
		if errors.As(err, &engineErr) {
			return err
		}
		return newError(KindCommandExecution, m.String(), err)
	}

	e.settle(ctx, settle)
	return nil
}

// click sends radio inputs to their label, then follows any tab the click
// opened in the current page.
func (e *Engine) click(ctx context.Context, xpath string) error {
	target := xpath
	if d, n := e.lookup(ctx, xpath); n != nil && dom.IsRadio(n) {
		if label := dom.RadioLabel(d, n); label != nil {
			target = dom.StructuralPath(label)
			e.logger.Debugf("Clicking label %s for radio %s", target, xpath)
		}
	}
	popup, err := e.page.Click(ctx, target, newTabWindow)
	if err != nil {
		return err
	}
	if popup == "" {
		return nil
	}
	e.logger.Infof("New page detected with URL %s, navigating to it", popup)
	return e.page.Goto(ctx, popup)
}

// fill clears the field, focuses it and types text one key at a time.
func (e *Engine) fill(ctx context.Context, xpath, text string) error {
	if err := e.page.Fill(ctx, xpath, ""); err != nil {
		return err
	}
	if _, err := e.page.Click(ctx, xpath, 0); err != nil {
		return err
	}
	return e.page.Type(ctx, text, keyDelay)
}

// keyDelay is a random pause of 25 to 75ms.
func keyDelay() time.Duration {
	return time.Duration(25+rand.IntN(51)) * time.Millisecond
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// fillVariables replaces <|KEY|> placeholders with their values. Keys are
// matched upper-cased.
func fillVariables(args []string, variables map[string]string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		for key, value := range variables {
			arg = strings.ReplaceAll(arg, "<|"+strings.ToUpper(key)+"|>", value)
		}
		out[i] = arg
	}
	return out
}

// variableNames returns the sorted variable names.
func variableNames(variables map[string]string) []string {
	if len(variables) == 0 {
		return nil
	}
	names := make([]string, 0, len(variables))
	for k := range variables {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
