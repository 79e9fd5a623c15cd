// Package perception turns a live page into the indexed text form the
// reasoner reads. The DOM strategy walks the page chunk by chunk; the
// accessibility strategy renders the browser's accessibility tree.
package perception

import (
	"context"
	"errors"
	"time"

	"github.com/entrhq/pagehand/pkg/a11y"
	"github.com/entrhq/pagehand/pkg/dom"
)

// ErrNoChunksRemaining is returned when every chunk of the page was seen.
var ErrNoChunksRemaining = errors.New("no chunks remaining to check")

// WindowContainer addresses the page itself in Driver scroll calls.
const WindowContainer int64 = 0

// Driver is the browser surface perception needs.
type Driver interface {
	// Snapshot captures the current DOM with layout.
	Snapshot(ctx context.Context) (*dom.Document, error)
	// ScrollTo smooth-scrolls the window or the element with the given
	// backend id and returns once no scroll event fired for 100ms.
	ScrollTo(ctx context.Context, container int64, offset float64) error
	// ScrollNodeIntoView scrolls the element into view within its scroll
	// container and waits for scrolling to end.
	ScrollNodeIntoView(ctx context.Context, backendID int64) error
	// CanScroll probes whether the element really scrolls: it moves it by
	// 100px and restores the old position.
	CanScroll(ctx context.Context, backendID int64) (bool, error)
}

// AccessibilityDriver adds the accessibility tree fetch.
type AccessibilityDriver interface {
	Driver
	AccessibilityTree(ctx context.Context) ([]a11y.AXNode, error)
}

// sleep waits for d or until ctx is done.
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
