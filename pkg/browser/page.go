package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/entrhq/pagehand/pkg/a11y"
	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/entrhq/pagehand/pkg/engine"
	"github.com/entrhq/pagehand/pkg/logging"
	"github.com/entrhq/pagehand/pkg/perception"
	"github.com/playwright-community/playwright-go"
)

// ErrAccessibilityUnsupported is returned by AccessibilityTree when the page
// has no CDP session.
var ErrAccessibilityUnsupported = errors.New("accessibility tree requires a chromium CDP session")

// DefaultSettleQuiet is how long the DOM must stay unmutated to count as
// settled.
const DefaultSettleQuiet = 2 * time.Second

var _ engine.Page = (*Page)(nil)

// Page adapts a playwright page to engine.Page. On chromium it reads the DOM
// and accessibility tree over CDP; elsewhere an in-page walker captures the
// DOM and backend ids are assigned by the page helpers.
type Page struct {
	page    playwright.Page
	cdp     playwright.CDPSession
	logger  *logging.Logger
	timeout time.Duration
	quiet   time.Duration

	mu sync.Mutex
}

// PageOption configures a Page.
type PageOption func(*Page)

// WithLogger sets the page logger.
func WithLogger(l *logging.Logger) PageOption { return func(p *Page) { p.logger = l } }

// WithCommandTimeout caps single browser commands that have no deadline of
// their own.
func WithCommandTimeout(d time.Duration) PageOption { return func(p *Page) { p.timeout = d } }

// WithSettleQuiet sets the mutation-free window of WaitForSettledDOM.
func WithSettleQuiet(d time.Duration) PageOption { return func(p *Page) { p.quiet = d } }

// WithCDP attaches a CDP session for snapshots and the accessibility tree.
func WithCDP(s playwright.CDPSession) PageOption { return func(p *Page) { p.cdp = s } }

// NewPage installs the page helpers and wraps page.
func NewPage(page playwright.Page, opts ...PageOption) (*Page, error) {
	p := &Page{
		page:    page,
		logger:  logging.Nop(),
		timeout: time.Duration(DefaultTimeout) * time.Millisecond,
		quiet:   DefaultSettleQuiet,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := page.AddInitScript(playwright.Script{Content: playwright.String(helpersScript)}); err != nil {
		return nil, fmt.Errorf("failed to add page helpers: %w", err)
	}
	if _, err := page.Evaluate(helpersScript); err != nil {
		return nil, fmt.Errorf("failed to install page helpers: %w", err)
	}
	if p.cdp != nil {
		if _, err := p.cdp.Send("DOM.enable", map[string]interface{}{}); err != nil {
			return nil, fmt.Errorf("failed to enable CDP DOM domain: %w", err)
		}
	}
	return p, nil
}

// Raw returns the wrapped playwright page.
func (p *Page) Raw() playwright.Page { return p.page }

// await runs a blocking playwright call and gives up when ctx ends. The call
// itself keeps running until playwright's own timeout.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.v, r.err
	}
}

func run(ctx context.Context, fn func() error) error {
	_, err := await(ctx, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// timeoutMs converts the time left on ctx, or the fallback, into the
// millisecond form playwright options take.
func timeoutMs(ctx context.Context, fallback time.Duration) *float64 {
	d := fallback
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d || d <= 0 {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *Page) locator(xpath string) playwright.Locator {
	return p.page.Locator("xpath=" + xpath).First()
}

// evaluate runs script with arg and decodes its result into out.
func (p *Page) evaluate(ctx context.Context, script string, arg interface{}, out interface{}) error {
	v, err := await(ctx, func() (interface{}, error) { return p.page.Evaluate(script, arg) })
	if err != nil {
		return err
	}
	return decodeInto(v, out)
}

func decodeInto(v interface{}, out interface{}) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode page result: %w", err)
	}
	return json.Unmarshal(data, out)
}

func (p *Page) send(ctx context.Context, method string, params map[string]interface{}) ([]byte, error) {
	v, err := await(ctx, func() (interface{}, error) { return p.cdp.Send(method, params) })
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return json.Marshal(v)
}

// callOnNode calls fn with this bound to the node with backendID.
func (p *Page) callOnNode(ctx context.Context, backendID int64, fn string, arg interface{}, out interface{}) error {
	if p.cdp == nil {
		return p.evaluate(ctx, fmt.Sprintf(nodeCall, fn), []interface{}{backendID, arg}, out)
	}
	data, err := p.send(ctx, "DOM.resolveNode", map[string]interface{}{"backendNodeId": backendID})
	if err != nil {
		return err
	}
	id, err := objectID(data)
	if err != nil {
		return err
	}
	defer func() {
		if _, err := p.cdp.Send("Runtime.releaseObject", map[string]interface{}{"objectId": id}); err != nil {
			p.logger.Debugf("Failed to release remote object: %v", err)
		}
	}()
	args := []interface{}{}
	if arg != nil {
		args = append(args, map[string]interface{}{"value": arg})
	}
	data, err = p.send(ctx, "Runtime.callFunctionOn", map[string]interface{}{
		"objectId":            id,
		"functionDeclaration": fn,
		"arguments":           args,
		"awaitPromise":        true,
		"returnByValue":       true,
	})
	if err != nil {
		return err
	}
	return remoteValue(data, out)
}

func (p *Page) URL() string { return p.page.URL() }

func (p *Page) Goto(ctx context.Context, url string) error {
	err := run(ctx, func() error {
		_, err := p.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   timeoutMs(ctx, p.timeout),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// WaitForSettledDOM races a mutation-quiet window, the domcontentloaded
// event and the presence of body.
func (p *Page) WaitForSettledDOM(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 3)
	go func() {
		done <- p.evaluate(ctx, "ms => window.__pagehand.settle(ms)", p.quiet.Milliseconds(), nil)
	}()
	go func() {
		done <- run(ctx, func() error {
			return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
				State:   playwright.LoadStateDomcontentloaded,
				Timeout: timeoutMs(ctx, p.timeout),
			})
		})
	}()
	go func() {
		done <- run(ctx, func() error {
			return p.page.Locator("body").WaitFor(playwright.LocatorWaitForOptions{
				State:   playwright.WaitForSelectorStateAttached,
				Timeout: timeoutMs(ctx, p.timeout),
			})
		})
	}()

	var first error
	for range 3 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			if err == nil {
				return nil
			}
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (p *Page) WaitForAttached(ctx context.Context, xpath string, timeout time.Duration) error {
	return run(ctx, func() error {
		return p.locator(xpath).WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateAttached,
			Timeout: timeoutMs(ctx, timeout),
		})
	})
}

// Click clicks the element. A page opened in the browser context within
// popupWindow is closed and its URL returned.
func (p *Page) Click(ctx context.Context, xpath string, popupWindow time.Duration) (string, error) {
	var clickErr error
	popup, err := await(ctx, func() (playwright.Page, error) {
		return p.page.Context().ExpectPage(func() error {
			clickErr = p.locator(xpath).Click(playwright.LocatorClickOptions{Timeout: timeoutMs(ctx, p.timeout)})
			return clickErr
		}, playwright.BrowserContextExpectPageOptions{Timeout: playwright.Float(float64(popupWindow.Milliseconds()))})
	})
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if clickErr != nil {
		return "", clickErr
	}
	if err != nil || popup == nil {
		return "", nil
	}

	if err := popup.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(float64(popupWindow.Milliseconds())),
	}); err != nil {
		p.logger.Debugf("New tab did not load: %v", err)
	}
	url := popup.URL()
	if err := popup.Close(); err != nil {
		p.logger.Warnf("Failed to close new tab: %v", err)
	}
	p.logger.Infof("Click opened a new tab at %s", url)
	return url, nil
}

func (p *Page) Fill(ctx context.Context, xpath, value string) error {
	return run(ctx, func() error {
		return p.locator(xpath).Fill(value, playwright.LocatorFillOptions{Timeout: timeoutMs(ctx, p.timeout)})
	})
}

// Type sends text one rune at a time, pausing for delay() before each.
func (p *Page) Type(ctx context.Context, text string, delay func() time.Duration) error {
	kb := p.page.Keyboard()
	for _, r := range text {
		if delay != nil {
			if err := sleep(ctx, delay()); err != nil {
				return err
			}
		}
		key := string(r)
		if err := run(ctx, func() error { return kb.Type(key) }); err != nil {
			return err
		}
	}
	return nil
}

func (p *Page) Press(ctx context.Context, key string) error {
	return run(ctx, func() error { return p.page.Keyboard().Press(key) })
}

func (p *Page) ScrollIntoView(ctx context.Context, xpath string) error {
	return run(ctx, func() error {
		_, err := p.locator(xpath).Evaluate("el => window.__pagehand.scrollIntoView(el)", nil,
			playwright.LocatorEvaluateOptions{Timeout: timeoutMs(ctx, p.timeout)})
		return err
	})
}

// Invoke dispatches locator methods by name. Unknown methods fail with
// engine.ErrMethodNotSupported.
func (p *Page) Invoke(ctx context.Context, xpath, method string, args []string) error {
	loc := p.locator(xpath)
	t := timeoutMs(ctx, p.timeout)
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	var call func() error
	switch method {
	case "hover":
		call = func() error { return loc.Hover(playwright.LocatorHoverOptions{Timeout: t}) }
	case "dblclick":
		call = func() error { return loc.Dblclick(playwright.LocatorDblclickOptions{Timeout: t}) }
	case "check":
		call = func() error { return loc.Check(playwright.LocatorCheckOptions{Timeout: t}) }
	case "uncheck":
		call = func() error { return loc.Uncheck(playwright.LocatorUncheckOptions{Timeout: t}) }
	case "setChecked":
		call = func() error { return loc.SetChecked(arg(0) != "false", playwright.LocatorSetCheckedOptions{Timeout: t}) }
	case "focus":
		call = func() error { return loc.Focus(playwright.LocatorFocusOptions{Timeout: t}) }
	case "blur":
		call = func() error { return loc.Blur(playwright.LocatorBlurOptions{Timeout: t}) }
	case "clear":
		call = func() error { return loc.Clear(playwright.LocatorClearOptions{Timeout: t}) }
	case "tap":
		call = func() error { return loc.Tap(playwright.LocatorTapOptions{Timeout: t}) }
	case "selectText":
		call = func() error { return loc.SelectText(playwright.LocatorSelectTextOptions{Timeout: t}) }
	case "selectOption", "selectOptions":
		values := append([]string(nil), args...)
		call = func() error {
			_, err := loc.SelectOption(playwright.SelectOptionValues{Values: &values}, playwright.LocatorSelectOptionOptions{Timeout: t})
			return err
		}
	case "press":
		call = func() error { return loc.Press(arg(0), playwright.LocatorPressOptions{Timeout: t}) }
	case "pressSequentially":
		call = func() error { return loc.PressSequentially(arg(0), playwright.LocatorPressSequentiallyOptions{Timeout: t}) }
	case "dispatchEvent":
		call = func() error { return loc.DispatchEvent(arg(0), nil, playwright.LocatorDispatchEventOptions{Timeout: t}) }
	default:
		return fmt.Errorf("%w: %s", engine.ErrMethodNotSupported, method)
	}
	return run(ctx, call)
}

func (p *Page) StoreDOM(ctx context.Context, xpath string) (string, error) {
	var stored string
	if err := p.evaluate(ctx, "xpath => window.__pagehand.storeDOM(xpath)", xpath, &stored); err != nil {
		return "", err
	}
	return stored, nil
}

func (p *Page) RestoreDOM(ctx context.Context, stored, xpath string) error {
	return p.evaluate(ctx, "([stored, xpath]) => window.__pagehand.restoreDOM(stored, xpath)",
		[]interface{}{stored, xpath}, nil)
}

func (p *Page) HighlightWords(ctx context.Context, xpath string) error {
	return p.evaluate(ctx, "xpath => window.__pagehand.highlightWords(xpath)", xpath, nil)
}

func (p *Page) WordBoxes(ctx context.Context, xpath string) ([]dom.WordBox, error) {
	var boxes []dom.WordBox
	if err := p.evaluate(ctx, "xpath => window.__pagehand.wordBoxes(xpath)", xpath, &boxes); err != nil {
		return nil, err
	}
	return boxes, nil
}

func (p *Page) DrawOverlay(ctx context.Context, xpaths []string) error {
	var drawn int
	if err := p.evaluate(ctx, "xpaths => window.__pagehand.drawOverlay(xpaths)", xpaths, &drawn); err != nil {
		return err
	}
	if drawn < len(xpaths) {
		p.logger.Debugf("Drew %d of %d overlays", drawn, len(xpaths))
	}
	return nil
}

func (p *Page) ClearOverlays(ctx context.Context) error {
	return p.evaluate(ctx, "() => window.__pagehand.clearOverlays()", nil, nil)
}

func (p *Page) viewport(ctx context.Context) (viewportInfo, error) {
	var vp viewportInfo
	if err := p.evaluate(ctx, viewportScript, nil, &vp); err != nil {
		return vp, fmt.Errorf("failed to read viewport: %w", err)
	}
	return vp, nil
}

// Snapshot captures the DOM with layout.
func (p *Page) Snapshot(ctx context.Context) (*dom.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	vp, err := p.viewport(ctx)
	if err != nil {
		return nil, err
	}
	if p.cdp == nil {
		var snap jsSnapshot
		if err := p.evaluate(ctx, snapshotScript, nil, &snap); err != nil {
			return nil, fmt.Errorf("failed to capture DOM: %w", err)
		}
		return buildDocument(snap.Nodes, snap.URL, vp.viewport())
	}

	data, err := p.send(ctx, "DOMSnapshot.captureSnapshot", cdpSnapshotParams())
	if err != nil {
		return nil, err
	}
	raws, url, v, err := decodeCDPSnapshot(data, vp)
	if err != nil {
		return nil, err
	}
	if url == "" {
		url = p.page.URL()
	}
	return buildDocument(raws, url, v)
}

func (p *Page) ScrollTo(ctx context.Context, container int64, offset float64) error {
	offset = math.Max(0, offset)
	if container == perception.WindowContainer {
		return p.evaluate(ctx, "offset => window.__pagehand.scrollTo(null, offset)", offset, nil)
	}
	return p.callOnNode(ctx, container, scrollToFn, offset, nil)
}

func (p *Page) ScrollNodeIntoView(ctx context.Context, backendID int64) error {
	return p.callOnNode(ctx, backendID, scrollIntoViewFn, nil, nil)
}

func (p *Page) CanScroll(ctx context.Context, backendID int64) (bool, error) {
	var ok bool
	if err := p.callOnNode(ctx, backendID, canScrollFn, nil, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (p *Page) AccessibilityTree(ctx context.Context) ([]a11y.AXNode, error) {
	if p.cdp == nil {
		return nil, ErrAccessibilityUnsupported
	}
	data, err := p.send(ctx, "Accessibility.getFullAXTree", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	return decodeAXTree(data)
}

// Close detaches the CDP session.
func (p *Page) Close() error {
	if p.cdp == nil {
		return nil
	}
	return p.cdp.Detach()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
