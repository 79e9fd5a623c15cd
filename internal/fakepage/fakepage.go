// Package fakepage is an in-memory engine.Page over domtest fixtures. Every
// snapshot re-lays out the current HTML at the current scroll positions, so
// scrolling shifts boxes the way a browser would.
package fakepage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/pagehand/pkg/a11y"
	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/entrhq/pagehand/pkg/dom/domtest"
	"github.com/entrhq/pagehand/pkg/engine"
)

// Call records one command sent to the page.
type Call struct {
	Method string
	XPath  string
	Args   []string
}

// ClickHandler reacts to a click on target. It may change the page and may
// return the URL of a new tab.
type ClickHandler func(p *Page, target *dom.Node) (popupURL string, err error)

// Page is a fake browser page. It is safe for concurrent use.
type Page struct {
	mu sync.Mutex

	url        string
	html       string
	vp         dom.Viewport
	scrollTops map[int64]float64
	routes     map[string]string
	ax         []a11y.AXNode
	values     map[string]string
	focus      string
	calls      []Call

	highlighted bool
	overlays    int
	hangSettle  bool
	failures    map[string]error
	methods     map[string]bool
	onClick     ClickHandler
}

// Option configures a Page.
type Option func(*Page)

// WithURL sets the initial URL.
func WithURL(url string) Option { return func(p *Page) { p.url = url } }

// WithViewport sets the window size.
func WithViewport(vp dom.Viewport) Option { return func(p *Page) { p.vp = vp } }

// WithRoute serves html when Goto is called with url.
func WithRoute(url, html string) Option {
	return func(p *Page) { p.routes[url] = html }
}

// WithAccessibilityTree sets the flat tree returned by AccessibilityTree.
func WithAccessibilityTree(nodes []a11y.AXNode) Option {
	return func(p *Page) { p.ax = nodes }
}

// WithClickHandler installs a click reaction.
func WithClickHandler(h ClickHandler) Option { return func(p *Page) { p.onClick = h } }

// WithFailure makes every call of method fail with err.
func WithFailure(method string, err error) Option {
	return func(p *Page) { p.failures[method] = err }
}

// WithHangingSettle makes WaitForSettledDOM block until its context ends.
func WithHangingSettle() Option { return func(p *Page) { p.hangSettle = true } }

// New returns a page showing html.
func New(html string, opts ...Option) *Page {
	p := &Page{
		url:        "https://example.test/",
		html:       html,
		vp:         domtest.DefaultViewport,
		scrollTops: make(map[int64]float64),
		routes:     make(map[string]string),
		values:     make(map[string]string),
		failures:   make(map[string]error),
		methods: map[string]bool{
			"hover": true, "dblclick": true, "check": true, "uncheck": true,
			"focus": true, "selectOption": true,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ engine.Page = (*Page)(nil)

func (p *Page) record(method, xpath string, args ...string) error {
	p.calls = append(p.calls, Call{Method: method, XPath: xpath, Args: args})
	return p.failures[method]
}

func (p *Page) snapshot() (*dom.Document, error) {
	return domtest.Build(p.html, domtest.Options{URL: p.url, Viewport: p.vp, ScrollTops: p.scrollTops})
}

func (p *Page) find(xpath string) (*dom.Document, *dom.Node, error) {
	d, err := p.snapshot()
	if err != nil {
		return nil, nil, err
	}
	n, err := dom.QueryFirst(d, xpath)
	if err != nil {
		return nil, nil, err
	}
	if n == nil {
		return nil, nil, fmt.Errorf("no element matches %s", xpath)
	}
	return d, n, nil
}

// Snapshot lays out the current HTML.
func (p *Page) Snapshot(ctx context.Context) (*dom.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("snapshot", ""); err != nil {
		return nil, err
	}
	return p.snapshot()
}

// ScrollTo scrolls the window (container 0) or a scroll container,
// clamping to its extent.
func (p *Page) ScrollTo(ctx context.Context, container int64, offset float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("scrollTo", "", fmt.Sprint(container), fmt.Sprint(offset)); err != nil {
		return err
	}
	d, err := p.snapshot()
	if err != nil {
		return err
	}
	if container == 0 {
		p.vp.ScrollY = clamp(offset, d.ScrollHeight()-p.vp.Height)
		return nil
	}
	n := d.NodeByBackendID(container)
	if n == nil {
		return fmt.Errorf("no scroll container %d", container)
	}
	p.scrollTops[container] = clamp(offset, n.ScrollHeight-n.ClientHeight)
	return nil
}

// ScrollNodeIntoView aligns the node with the top of its nearest scrolling
// ancestor, or of the window.
func (p *Page) ScrollNodeIntoView(ctx context.Context, backendID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("scrollNodeIntoView", "", fmt.Sprint(backendID)); err != nil {
		return err
	}
	d, err := p.snapshot()
	if err != nil {
		return err
	}
	n := d.NodeByBackendID(backendID)
	if n == nil || n.Box == nil {
		return fmt.Errorf("node %d has no layout", backendID)
	}
	for cur := n.ParentElement(); cur != nil && cur.Name != "HTML"; cur = cur.ParentElement() {
		if cur.ScrollHeight > cur.ClientHeight && cur.Box != nil {
			p.scrollTops[cur.BackendID] = clamp(cur.ScrollTop+n.Box.Y-cur.Box.Y, cur.ScrollHeight-cur.ClientHeight)
			return nil
		}
	}
	p.vp.ScrollY = clamp(p.vp.ScrollY+n.Box.Y, d.ScrollHeight()-p.vp.Height)
	return nil
}

// CanScroll reports whether the element has hidden extent.
func (p *Page) CanScroll(ctx context.Context, backendID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, err := p.snapshot()
	if err != nil {
		return false, err
	}
	n := d.NodeByBackendID(backendID)
	return n != nil && n.ScrollHeight > n.ClientHeight, nil
}

// AccessibilityTree returns the configured flat tree.
func (p *Page) AccessibilityTree(ctx context.Context) ([]a11y.AXNode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("accessibilityTree", ""); err != nil {
		return nil, err
	}
	return append([]a11y.AXNode(nil), p.ax...), nil
}

// URL returns the current URL.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Goto loads a routed page and resets scrolling.
func (p *Page) Goto(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("goto", "", url); err != nil {
		return err
	}
	p.navigate(url)
	return nil
}

func (p *Page) navigate(url string) {
	p.url = url
	if html, ok := p.routes[url]; ok {
		p.html = html
	}
	p.vp.ScrollY = 0
	p.scrollTops = make(map[int64]float64)
	p.highlighted = false
}

// WaitForSettledDOM returns at once unless the page was built to hang.
func (p *Page) WaitForSettledDOM(ctx context.Context) error {
	p.mu.Lock()
	hang := p.hangSettle
	err := p.record("waitForSettledDOM", "")
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

// WaitForAttached succeeds when xpath matches now.
func (p *Page) WaitForAttached(ctx context.Context, xpath string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("waitForAttached", xpath); err != nil {
		return err
	}
	_, _, err := p.find(xpath)
	return err
}

// Click focuses the target and runs the click handler.
func (p *Page) Click(ctx context.Context, xpath string, popupWindow time.Duration) (string, error) {
	p.mu.Lock()
	if err := p.record("click", xpath); err != nil {
		p.mu.Unlock()
		return "", err
	}
	_, n, err := p.find(xpath)
	if err != nil {
		p.mu.Unlock()
		return "", err
	}
	p.focus = xpath
	h := p.onClick
	p.mu.Unlock()

	if h == nil {
		return "", nil
	}
	return h(p, n)
}

// Fill replaces the target's value.
func (p *Page) Fill(ctx context.Context, xpath, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("fill", xpath, value); err != nil {
		return err
	}
	if _, _, err := p.find(xpath); err != nil {
		return err
	}
	p.values[xpath] = value
	return nil
}

// Type appends text to the focused element.
func (p *Page) Type(ctx context.Context, text string, delay func() time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("type", p.focus, text); err != nil {
		return err
	}
	for _, r := range text {
		if d := delay(); d < 25*time.Millisecond || d > 75*time.Millisecond {
			return fmt.Errorf("key delay %v out of range", d)
		}
		p.values[p.focus] += string(r)
	}
	return nil
}

// Press records a key press.
func (p *Page) Press(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("press", p.focus, key)
}

// ScrollIntoView records the request.
func (p *Page) ScrollIntoView(ctx context.Context, xpath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("scrollIntoView", xpath); err != nil {
		return err
	}
	_, _, err := p.find(xpath)
	return err
}

// Invoke accepts a fixed set of locator methods.
func (p *Page) Invoke(ctx context.Context, xpath, method string, args []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(method, xpath, args...); err != nil {
		return err
	}
	if !p.methods[method] {
		return fmt.Errorf("%w: %s", engine.ErrMethodNotSupported, method)
	}
	_, _, err := p.find(xpath)
	return err
}

// StoreDOM returns the current HTML.
func (p *Page) StoreDOM(ctx context.Context, xpath string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("storeDOM", xpath); err != nil {
		return "", err
	}
	return p.html, nil
}

// RestoreDOM puts stored HTML back and drops word highlighting.
func (p *Page) RestoreDOM(ctx context.Context, stored, xpath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("restoreDOM", xpath); err != nil {
		return err
	}
	if stored != "" {
		p.html = stored
	}
	p.highlighted = false
	return nil
}

// HighlightWords enables word boxes.
func (p *Page) HighlightWords(ctx context.Context, xpath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("highlightWords", xpath); err != nil {
		return err
	}
	p.highlighted = true
	return nil
}

// WordBoxes measures words under xpath. Without highlighting only the
// element fallback box is available.
func (p *Page) WordBoxes(ctx context.Context, xpath string) ([]dom.WordBox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("wordBoxes", xpath); err != nil {
		return nil, err
	}
	d, n, err := p.find(xpath)
	if err != nil {
		return nil, nil
	}
	if !p.highlighted && n.Name != "SELECT" {
		if n.Box == nil {
			return nil, nil
		}
		return []dom.WordBox{{Left: n.Box.X, Top: n.Box.Y + d.Viewport.ScrollY, Width: n.Box.Width, Height: n.Box.Height * 0.75}}, nil
	}
	return dom.WordBoxes(d, n), nil
}

// DrawOverlay counts overlay boxes.
func (p *Page) DrawOverlay(ctx context.Context, xpaths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("drawOverlay", "", xpaths...); err != nil {
		return err
	}
	p.overlays += len(xpaths)
	return nil
}

// ClearOverlays removes all overlay boxes.
func (p *Page) ClearOverlays(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overlays = 0
	return p.record("clearOverlays", "")
}

// SetHTML replaces the page content, keeping the URL.
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

// Navigate moves to url as a page-initiated navigation.
func (p *Page) Navigate(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigate(url)
}

// Calls returns the commands recorded so far, optionally filtered by method.
func (p *Page) Calls(methods ...string) []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(methods) == 0 {
		return append([]Call(nil), p.calls...)
	}
	var out []Call
	for _, c := range p.calls {
		for _, m := range methods {
			if c.Method == m {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Value returns what was filled or typed into xpath.
func (p *Page) Value(xpath string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[xpath]
}

// ScrollY returns the window scroll offset.
func (p *Page) ScrollY() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vp.ScrollY
}

// Overlays returns the number of overlay boxes drawn.
func (p *Page) Overlays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlays
}

// Highlighted reports whether words are currently wrapped.
func (p *Page) Highlighted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highlighted
}

// Methods lists the recorded method names in order.
func (p *Page) Methods() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.calls))
	for i, c := range p.calls {
		names[i] = c.Method
	}
	return strings.Join(names, ",")
}

func clamp(v, limit float64) float64 {
	if limit < 0 {
		limit = 0
	}
	if v > limit {
		v = limit
	}
	if v < 0 {
		v = 0
	}
	return v
}
