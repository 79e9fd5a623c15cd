package dom

import (
	"sort"
	"strconv"
	"strings"
)

// essentialAttributes are rendered, in this order, on collected elements.
var essentialAttributes = []string{
	"id", "class", "href", "src", "aria-label", "aria-name", "aria-role",
	"aria-description", "aria-expanded", "aria-haspopup", "type", "value",
}

// Collection is the result of one collector pass.
type Collection struct {
	// Text holds one line per candidate: "<idx>:<text>" for text runs and
	// "<idx>:<tag attrs>text</tag>" for elements.
	Text string
	// Selectors maps each index to its path candidates.
	Selectors map[int][]string
	// Nodes maps each index to the collected node.
	Nodes map[int]*Node
}

// Indices returns the collected indices in ascending order.
func (c Collection) Indices() []int {
	out := make([]int, 0, len(c.Selectors))
	for idx := range c.Selectors {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Len returns the number of candidates collected.
func (c Collection) Len() int { return len(c.Selectors) }

// Collect walks root's descendants with an explicit stack and indexes every
// visible, active candidate starting at offset. It never scrolls and never
// mutates the document.
func Collect(d *Document, r *PathResolver, root *Node, offset int) Collection {
	out := Collection{Selectors: make(map[int][]string), Nodes: make(map[int]*Node)}
	if root == nil {
		return out
	}

	var candidates []*Node
	stack := append([]*Node(nil), root.Children...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch {
		case n.IsElement():
			for i := len(n.Children) - 1; i >= 0; i-- {
				stack = append(stack, n.Children[i])
			}
			if (IsInteractive(n) || IsLeaf(n)) && IsActive(n) && IsVisible(d, n) {
				candidates = append(candidates, n)
			}
		case IsTextNode(n) && IsTextVisible(d, n):
			candidates = append(candidates, n)
		}
	}

	var b strings.Builder
	for i, n := range candidates {
		idx := i + offset
		out.Selectors[idx] = r.Paths(n)
		out.Nodes[idx] = n

		if n.Type == TextNode {
			if text := strings.TrimSpace(n.Value); text != "" {
				b.WriteString(strconv.Itoa(idx) + ":" + text + "\n")
			}
			continue
		}
		b.WriteString(strconv.Itoa(idx) + ":" + renderElement(n) + "\n")
	}
	out.Text = b.String()
	return out
}

func renderElement(n *Node) string {
	tag := n.Tag()
	var attrs []string
	for _, name := range essentialAttributes {
		if v := n.AttrValue(name); v != "" {
			attrs = append(attrs, name+`="`+v+`"`)
		}
	}
	for _, a := range n.Attrs {
		if strings.HasPrefix(a.Name, "data-") {
			attrs = append(attrs, a.Name+`="`+a.Value+`"`)
		}
	}
	open := "<" + tag
	if len(attrs) > 0 {
		open += " " + strings.Join(attrs, " ")
	}
	return open + ">" + strings.TrimSpace(n.TextContent()) + "</" + tag + ">"
}
