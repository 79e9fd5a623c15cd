package engine

import (
	"context"
	"errors"
	"time"

	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/entrhq/pagehand/pkg/perception"
)

// ErrMethodNotSupported is returned by Page.Invoke for methods the driver
// cannot dispatch.
var ErrMethodNotSupported = errors.New("method not supported")

// Page is the browser page the engines drive. Elements are addressed by
// XPath; the first live match is used.
type Page interface {
	perception.AccessibilityDriver

	URL() string
	Goto(ctx context.Context, url string) error

	// WaitForSettledDOM returns as soon as the DOM stopped mutating, the
	// document finished loading or a body exists. Callers bound it with ctx.
	WaitForSettledDOM(ctx context.Context) error
	// WaitForAttached waits until xpath matches a live node.
	WaitForAttached(ctx context.Context, xpath string, timeout time.Duration) error

	// Click clicks the element and watches for a new tab for popupWindow.
	// A tab that opens is closed and its URL returned.
	Click(ctx context.Context, xpath string, popupWindow time.Duration) (popupURL string, err error)
	Fill(ctx context.Context, xpath, value string) error
	// Type sends text to the focused element one key at a time. delay
	// returns the pause before each key.
	Type(ctx context.Context, text string, delay func() time.Duration) error
	Press(ctx context.Context, key string) error
	ScrollIntoView(ctx context.Context, xpath string) error
	// Invoke dispatches any other locator method by name.
	Invoke(ctx context.Context, xpath, method string, args []string) error

	// StoreDOM returns the outer HTML of body, or of the element at xpath.
	StoreDOM(ctx context.Context, xpath string) (string, error)
	RestoreDOM(ctx context.Context, stored, xpath string) error
	// HighlightWords wraps every word under xpath (or body) in its own span
	// so words can be measured.
	HighlightWords(ctx context.Context, xpath string) error
	WordBoxes(ctx context.Context, xpath string) ([]dom.WordBox, error)

	DrawOverlay(ctx context.Context, xpaths []string) error
	ClearOverlays(ctx context.Context) error
}
