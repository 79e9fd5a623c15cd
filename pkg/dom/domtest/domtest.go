// Package domtest builds dom.Document snapshots from annotated HTML for
// tests.
//
// Layout is declared with attributes that are stripped from the result:
//
//	data-box="x y w h"            page coordinates of the element's box
//	data-style="display:none; opacity:0; visibility:hidden; overflow-y:auto"
//	data-scroll="top height client"  scroll state of a scroll container
//	data-z="n"                    stacking level, higher paints on top
//
// Boxes are shifted into client coordinates by the window scroll and by the
// scrollTop of every enclosing scroll container. Text nodes take their
// parent's box.
package domtest

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

// DefaultViewport is a 1280x800 window scrolled to the top.
var DefaultViewport = dom.Viewport{Width: 1280, Height: 800}

// Options adjust how a fixture is laid out.
type Options struct {
	URL      string
	Viewport dom.Viewport
	// ScrollTops overrides data-scroll tops, keyed by backend id.
	ScrollTops map[int64]float64
}

var layoutAttrs = map[string]bool{"data-box": true, "data-style": true, "data-scroll": true, "data-z": true}

// Build parses src and returns the laid out snapshot.
func Build(src string, opts Options) (*dom.Document, error) {
	parsed, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	if opts.Viewport == (dom.Viewport{}) {
		opts.Viewport = DefaultViewport
	}
	b := &builder{opts: opts}
	root := &dom.Node{Type: dom.DocumentNode, Name: "#document"}
	for c := parsed.FirstChild; c != nil; c = c.NextSibling {
		if n, err := b.convert(c, 0, 0); err != nil {
			return nil, err
		} else if n != nil {
			root.AppendChild(n)
		}
	}
	b.finishDocumentElement(root)
	return dom.NewDocument(root, opts.URL, opts.Viewport), nil
}

// MustBuild is Build for tests.
func MustBuild(t testing.TB, src string, opts Options) *dom.Document {
	t.Helper()
	d, err := Build(src, opts)
	require.NoError(t, err)
	return d
}

type builder struct {
	opts      Options
	nextID    int64
	maxBottom float64
}

// convert translates one parsed node. offsetY is the accumulated scrollTop of
// enclosing scroll containers and z the inherited stacking level.
func (b *builder) convert(h *html.Node, offsetY float64, z int) (*dom.Node, error) {
	var n *dom.Node
	switch h.Type {
	case html.ElementNode:
		n = &dom.Node{Type: dom.ElementNode, Name: strings.ToUpper(h.Data)}
	case html.TextNode:
		n = dom.NewText(h.Data)
	case html.CommentNode:
		n = &dom.Node{Type: dom.CommentNode, Name: "#comment", Value: h.Data}
	default:
		return nil, nil
	}
	b.nextID++
	n.BackendID = b.nextID

	childOffset := offsetY
	if h.Type == html.ElementNode {
		for _, a := range h.Attr {
			if !layoutAttrs[a.Key] {
				n.Attrs = append(n.Attrs, dom.Attr{Name: a.Key, Value: a.Val})
				continue
			}
			if err := b.applyLayout(n, a, offsetY, &z); err != nil {
				return nil, fmt.Errorf("<%s %s=%q>: %w", h.Data, a.Key, a.Val, err)
			}
		}
		if override, ok := b.opts.ScrollTops[n.BackendID]; ok {
			n.ScrollTop = override
		}
		if n.Name != "HTML" {
			childOffset += n.ScrollTop
		}
		n.PaintOrder = z*1_000_000 + int(n.BackendID)
	}

	for c := h.FirstChild; c != nil; c = c.NextSibling {
		child, err := b.convert(c, childOffset, z)
		if err != nil {
			return nil, err
		}
		if child == nil {
			continue
		}
		if child.Type == dom.TextNode && n.Box != nil {
			box := *n.Box
			child.Box = &box
		}
		n.AppendChild(child)
	}
	return n, nil
}

func (b *builder) applyLayout(n *dom.Node, a html.Attribute, offsetY float64, z *int) error {
	switch a.Key {
	case "data-box":
		v, err := floats(a.Val, 4)
		if err != nil {
			return err
		}
		if v[1]+v[3] > b.maxBottom {
			b.maxBottom = v[1] + v[3]
		}
		n.Box = &dom.Rect{
			X:      v[0] - b.opts.Viewport.ScrollX,
			Y:      v[1] - b.opts.Viewport.ScrollY - offsetY,
			Width:  v[2],
			Height: v[3],
		}
	case "data-scroll":
		v, err := floats(a.Val, 3)
		if err != nil {
			return err
		}
		n.ScrollTop, n.ScrollHeight, n.ClientHeight = v[0], v[1], v[2]
	case "data-style":
		for _, decl := range strings.Split(a.Val, ";") {
			k, v, ok := strings.Cut(decl, ":")
			if !ok {
				continue
			}
			v = strings.TrimSpace(v)
			switch strings.TrimSpace(k) {
			case "display":
				n.Style.Display = v
			case "visibility":
				n.Style.Visibility = v
			case "opacity":
				n.Style.Opacity = v
			case "overflow-y", "overflow":
				n.Style.OverflowY = v
			}
		}
	case "data-z":
		level, err := strconv.Atoi(strings.TrimSpace(a.Val))
		if err != nil {
			return err
		}
		*z = level
	}
	return nil
}

// finishDocumentElement gives <html> the window's scroll metrics.
func (b *builder) finishDocumentElement(root *dom.Node) {
	for _, c := range root.Children {
		if !c.IsElement() {
			continue
		}
		c.ScrollTop = b.opts.Viewport.ScrollY
		c.ClientHeight = b.opts.Viewport.Height
		if c.ScrollHeight == 0 {
			c.ScrollHeight = b.maxBottom
			if c.ScrollHeight < b.opts.Viewport.Height {
				c.ScrollHeight = b.opts.Viewport.Height
			}
		}
		return
	}
}

func floats(s string, want int) ([]float64, error) {
	fields := strings.Fields(s)
	if len(fields) != want {
		return nil, fmt.Errorf("want %d numbers, got %d", want, len(fields))
	}
	out := make([]float64, want)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
