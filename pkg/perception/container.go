package perception

import (
	"context"
	"time"

	"github.com/entrhq/pagehand/pkg/dom"
)

// Container is a scroll and measure target: the whole page or a single
// scrollable element. Measurements read the given snapshot; scrolling goes
// to the live page.
type Container interface {
	Root(d *dom.Document) *dom.Node
	ViewportHeight(d *dom.Document) float64
	ScrollHeight(d *dom.Document) float64
	ScrollPosition(d *dom.Document) float64
	// ScrollTo waits for the settle delay, then scrolls to offset.
	ScrollTo(ctx context.Context, offset float64) error
	// ScrollIntoView brings target into view, or scrolls to the top when
	// target is nil.
	ScrollIntoView(ctx context.Context, d *dom.Document, target *dom.Node) error
}

// PageContainer scrolls the window.
type PageContainer struct {
	drv    Driver
	settle time.Duration
}

// NewPageContainer returns the whole-page container.
func NewPageContainer(drv Driver, settle time.Duration) *PageContainer {
	return &PageContainer{drv: drv, settle: settle}
}

func (c *PageContainer) Root(d *dom.Document) *dom.Node { return d.Body() }

// ViewportHeight is 75% of the window height.
func (c *PageContainer) ViewportHeight(d *dom.Document) float64 { return d.ChunkHeight() }

func (c *PageContainer) ScrollHeight(d *dom.Document) float64 { return d.ScrollHeight() }

func (c *PageContainer) ScrollPosition(d *dom.Document) float64 { return d.Viewport.ScrollY }

func (c *PageContainer) ScrollTo(ctx context.Context, offset float64) error {
	if err := sleep(ctx, c.settle); err != nil {
		return err
	}
	return c.drv.ScrollTo(ctx, WindowContainer, offset)
}

// ScrollIntoView places target a quarter of the window below the top edge.
func (c *PageContainer) ScrollIntoView(ctx context.Context, d *dom.Document, target *dom.Node) error {
	if target == nil || target.Box == nil {
		return c.drv.ScrollTo(ctx, WindowContainer, 0)
	}
	y := d.Viewport.ScrollY + target.Box.Y - d.Viewport.Height*0.25
	return c.drv.ScrollTo(ctx, WindowContainer, y)
}

// ElementContainer scrolls one overflow element, identified by backend id.
type ElementContainer struct {
	drv       Driver
	settle    time.Duration
	backendID int64
}

// NewElementContainer returns a container for the scrollable element.
func NewElementContainer(drv Driver, settle time.Duration, backendID int64) *ElementContainer {
	return &ElementContainer{drv: drv, settle: settle, backendID: backendID}
}

func (c *ElementContainer) node(d *dom.Document) *dom.Node { return d.NodeByBackendID(c.backendID) }

func (c *ElementContainer) Root(d *dom.Document) *dom.Node {
	if n := c.node(d); n != nil {
		return n
	}
	return d.Body()
}

func (c *ElementContainer) ViewportHeight(d *dom.Document) float64 {
	if n := c.node(d); n != nil {
		return n.ClientHeight
	}
	return 0
}

func (c *ElementContainer) ScrollHeight(d *dom.Document) float64 {
	if n := c.node(d); n != nil {
		return n.ScrollHeight
	}
	return 0
}

func (c *ElementContainer) ScrollPosition(d *dom.Document) float64 {
	if n := c.node(d); n != nil {
		return n.ScrollTop
	}
	return 0
}

func (c *ElementContainer) ScrollTo(ctx context.Context, offset float64) error {
	if err := sleep(ctx, c.settle); err != nil {
		return err
	}
	return c.drv.ScrollTo(ctx, c.backendID, offset)
}

func (c *ElementContainer) ScrollIntoView(ctx context.Context, _ *dom.Document, target *dom.Node) error {
	if target == nil {
		return c.drv.ScrollTo(ctx, c.backendID, 0)
	}
	return c.drv.ScrollNodeIntoView(ctx, target.BackendID)
}
