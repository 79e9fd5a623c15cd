// Package dom models a captured page snapshot and the pure algorithms that run
// over it: element classification, path generation, candidate collection and
// XPath queries over the snapshot.
//
// A Document is immutable once built. Drivers capture one per perception
// step; anything derived from it (indices, paths) is only valid for that
// snapshot.
package dom

import "strings"

// NodeType mirrors the DOM nodeType constants.
type NodeType int

const (
	ElementNode  NodeType = 1
	TextNode     NodeType = 3
	CommentNode  NodeType = 8
	DocumentNode NodeType = 9
)

// Attr is a single element attribute. Attribute order is preserved.
type Attr struct {
	Name  string
	Value string
}

// Rect is a box in CSS pixels. For nodes it is in client (viewport)
// coordinates at the time of capture.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Bottom returns the y coordinate of the box's lower edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Contains reports whether the point lies inside the box.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Style holds the computed style properties the classifier reads.
type Style struct {
	Display    string
	Visibility string
	OverflowY  string
	Opacity    string
}

// Node is one node of a captured snapshot.
type Node struct {
	Type NodeType
	// Name is the uppercase tag name for elements, "#text" for text nodes and
	// "#document" for the document.
	Name     string
	Value    string
	Attrs    []Attr
	Parent   *Node
	Children []*Node

	// BackendID identifies the live node across snapshots of the same page.
	BackendID int64

	Box        *Rect
	Style      Style
	PaintOrder int

	ScrollTop    float64
	ScrollHeight float64
	ClientHeight float64

	order int
}

// NewElement returns a detached element node. tag is normalised to upper case.
func NewElement(tag string, attrs ...Attr) *Node {
	return &Node{Type: ElementNode, Name: strings.ToUpper(tag), Attrs: attrs}
}

// NewText returns a detached text node.
func NewText(value string) *Node {
	return &Node{Type: TextNode, Name: "#text", Value: value}
}

// AppendChild attaches child as the last child of n and returns n.
func (n *Node) AppendChild(child *Node) *Node {
	child.Parent = n
	n.Children = append(n.Children, child)
	return n
}

// IsElement reports whether n is an element.
func (n *Node) IsElement() bool { return n != nil && n.Type == ElementNode }

// Tag returns the lowercase tag name of an element, or "" for other nodes.
func (n *Node) Tag() string {
	if !n.IsElement() {
		return ""
	}
	return strings.ToLower(n.Name)
}

// Attr returns the value of the named attribute and whether it is present.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrValue returns the named attribute or "".
func (n *Node) AttrValue(name string) string {
	v, _ := n.Attr(name)
	return v
}

// HasAttr reports whether the named attribute is present.
func (n *Node) HasAttr(name string) bool {
	_, ok := n.Attr(name)
	return ok
}

// ID returns the element's id attribute.
func (n *Node) ID() string { return n.AttrValue("id") }

// ParentElement returns the parent if it is an element.
func (n *Node) ParentElement() *Node {
	if n.Parent != nil && n.Parent.IsElement() {
		return n.Parent
	}
	return nil
}

// ElementChildren returns the element children of n in order.
func (n *Node) ElementChildren() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.IsElement() {
			out = append(out, c)
		}
	}
	return out
}

// TextContent concatenates the values of all descendant text nodes.
func (n *Node) TextContent() string {
	if n.Type == TextNode {
		return n.Value
	}
	var b strings.Builder
	n.writeText(&b)
	return b.String()
}

func (n *Node) writeText(b *strings.Builder) {
	for _, c := range n.Children {
		switch c.Type {
		case TextNode:
			b.WriteString(c.Value)
		case ElementNode:
			c.writeText(b)
		}
	}
}

// Contains reports whether other is n or one of its descendants.
func (n *Node) Contains(other *Node) bool {
	for cur := other; cur != nil; cur = cur.Parent {
		if cur == n {
			return true
		}
	}
	return false
}

// Walk visits n and its descendants in document order until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Closest returns the nearest ancestor-or-self element matching pred.
func (n *Node) Closest(pred func(*Node) bool) *Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.IsElement() && pred(cur) {
			return cur
		}
	}
	return nil
}
