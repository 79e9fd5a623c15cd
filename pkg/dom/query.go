package dom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/antchfx/xpath"
)

// ErrUnsupportedXPath is returned for expressions that do not compile or do
// not select nodes.
var ErrUnsupportedXPath = errors.New("unsupported xpath expression")

// CompileXPath compiles expr. A leading "xpath=" prefix is accepted.
func CompileXPath(expr string) (*xpath.Expr, error) {
	expr = strings.TrimPrefix(strings.TrimSpace(expr), "xpath=")
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrUnsupportedXPath)
	}
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrUnsupportedXPath, expr, err)
	}
	return compiled, nil
}

// Query evaluates an XPath expression against d and returns the matching
// element and text nodes in document order. Attribute matches are
// reported as their owner element.
func Query(d *Document, expr string) ([]*Node, error) {
	compiled, err := CompileXPath(expr)
	if err != nil {
		return nil, err
	}
	return queryCompiled(d, compiled)
}

func queryCompiled(d *Document, compiled *xpath.Expr) (nodes []*Node, err error) {
	// The xpath package panics on evaluation errors such as bad argument types.
	defer func() {
		if r := recover(); r != nil {
			nodes, err = nil, fmt.Errorf("%w %q: %v", ErrUnsupportedXPath, compiled.String(), r)
		}
	}()

	seen := make(map[*Node]bool)
	iter := compiled.Select(newNavigator(d.Root))
	for iter.MoveNext() {
		nav, ok := iter.Current().(*navigator)
		if !ok || seen[nav.cur] {
			continue
		}
		seen[nav.cur] = true
		nodes = append(nodes, nav.cur)
	}
	SortDocumentOrder(nodes)
	return nodes, nil
}

// QueryFirst returns the first match of expr, or nil.
func QueryFirst(d *Document, expr string) (*Node, error) {
	nodes, err := Query(d, expr)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// navigator walks a snapshot for the xpath package. idx is the position of
// cur among its parent's children; attr is the current attribute or -1.
type navigator struct {
	root *Node
	cur  *Node
	idx  int
	attr int
}

func newNavigator(root *Node) *navigator {
	return &navigator{root: root, cur: root, attr: -1}
}

func (n *navigator) NodeType() xpath.NodeType {
	if n.attr >= 0 {
		return xpath.AttributeNode
	}
	switch n.cur.Type {
	case DocumentNode:
		return xpath.RootNode
	case TextNode:
		return xpath.TextNode
	case CommentNode:
		return xpath.CommentNode
	}
	return xpath.ElementNode
}

func (n *navigator) LocalName() string {
	if n.attr >= 0 {
		return n.cur.Attrs[n.attr].Name
	}
	return n.cur.Tag()
}

func (n *navigator) Prefix() string { return "" }

func (n *navigator) Value() string {
	if n.attr >= 0 {
		return n.cur.Attrs[n.attr].Value
	}
	return n.cur.TextContent()
}

func (n *navigator) Copy() xpath.NodeNavigator {
	c := *n
	return &c
}

func (n *navigator) MoveToRoot() {
	n.cur, n.idx, n.attr = n.root, 0, -1
}

func (n *navigator) MoveToParent() bool {
	if n.attr >= 0 {
		n.attr = -1
		return true
	}
	if n.cur == n.root || n.cur.Parent == nil {
		return false
	}
	n.cur = n.cur.Parent
	n.idx = 0
	if p := n.cur.Parent; p != nil {
		for i, c := range p.Children {
			if c == n.cur {
				n.idx = i
				break
			}
		}
	}
	return true
}

func (n *navigator) MoveToNextAttribute() bool {
	if !n.cur.IsElement() || n.attr+1 >= len(n.cur.Attrs) {
		return false
	}
	n.attr++
	return true
}

func (n *navigator) MoveToChild() bool {
	if n.attr >= 0 || len(n.cur.Children) == 0 {
		return false
	}
	n.cur, n.idx = n.cur.Children[0], 0
	return true
}

func (n *navigator) MoveToFirst() bool {
	if n.attr >= 0 || n.cur.Parent == nil || n.idx == 0 {
		return false
	}
	n.cur, n.idx = n.cur.Parent.Children[0], 0
	return true
}

func (n *navigator) MoveToNext() bool {
	if n.attr >= 0 || n.cur.Parent == nil || n.idx+1 >= len(n.cur.Parent.Children) {
		return false
	}
	n.idx++
	n.cur = n.cur.Parent.Children[n.idx]
	return true
}

func (n *navigator) MoveToPrevious() bool {
	if n.attr >= 0 || n.cur.Parent == nil || n.idx == 0 {
		return false
	}
	n.idx--
	n.cur = n.cur.Parent.Children[n.idx]
	return true
}

func (n *navigator) MoveTo(other xpath.NodeNavigator) bool {
	o, ok := other.(*navigator)
	if !ok || o.root != n.root {
		return false
	}
	*n = *o
	return true
}
