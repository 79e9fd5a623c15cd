package dom

import (
	"strconv"
	"strings"
)

// attributePriority orders the attributes tried when building an
// attribute-based path.
var attributePriority = []string{
	"data-qa", "data-component", "data-role", "role", "aria-role",
	"type", "name", "aria-label", "placeholder", "title", "alt",
}

// PathResolver generates XPath candidates for nodes of one document.
// Results are memoized per node. It is not safe for concurrent use.
type PathResolver struct {
	doc   *Document
	cache map[*Node][]string
}

// NewPathResolver returns a resolver bound to doc.
func NewPathResolver(doc *Document) *PathResolver {
	return &PathResolver{doc: doc, cache: make(map[*Node][]string)}
}

// Paths returns the node's candidates in priority order: the structural
// path, the id path when the node has an id, then the attribute path.
func (r *PathResolver) Paths(n *Node) []string {
	if n == nil {
		return nil
	}
	if p, ok := r.cache[n]; ok {
		return p
	}
	paths := []string{StructuralPath(n)}
	if id := IDPath(n); id != "" {
		paths = append(paths, id)
	}
	paths = append(paths, r.attributePath(n))
	r.cache[n] = paths
	return paths
}

// StructuralPath returns an absolute path with a sibling index at every
// level below <html>. Text nodes resolve to their parent element's path.
func StructuralPath(n *Node) string {
	var parts []string
	for cur := n; cur != nil && (IsTextNode(cur) || cur.IsElement()); cur = cur.ParentElement() {
		index := 0
		hasSiblings := false
		if parent := cur.ParentElement(); parent != nil {
			for _, sib := range parent.Children {
				if sib.Type == cur.Type && sib.Name == cur.Name {
					index++
					hasSiblings = true
					if sib == cur {
						break
					}
				}
			}
		}
		if cur.Type == TextNode {
			continue
		}
		part := strings.ToLower(cur.Name)
		if hasSiblings {
			part += "[" + strconv.Itoa(index) + "]"
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return ""
	}
	reverse(parts)
	return "/" + strings.Join(parts, "/")
}

// IDPath returns //*[@id="..."] for elements with an id, or "". Ids that
// contain a double quote are escaped with EscapeXPathString.
func IDPath(n *Node) string {
	if !n.IsElement() {
		return ""
	}
	id := n.ID()
	if id == "" {
		return ""
	}
	if strings.Contains(id, `"`) {
		return "//*[@id=" + EscapeXPathString(id) + "]"
	}
	return `//*[@id="` + id + `"]`
}

type attrPair struct {
	name  string
	value string
}

// attributePath climbs from n until some combination of prioritized
// attributes selects an ancestor-or-self first in document order, falling
// back to sibling-indexed tag steps.
func (r *PathResolver) attributePath(n *Node) string {
	var parts []string
	for cur := n; cur != nil && (IsTextNode(cur) || cur.IsElement()); cur = parentNode(cur) {
		if !cur.IsElement() {
			continue
		}
		tag := strings.ToLower(cur.Name)
		if unique := r.uniqueAttributeStep(cur, tag); unique != "" {
			parts = append(parts, unique)
			break
		}
		step := tag
		if parent := parentNode(cur); parent != nil {
			var same []*Node
			for _, sib := range parent.ElementChildren() {
				if sib.Name == cur.Name {
					same = append(same, sib)
				}
			}
			if len(same) > 1 {
				for i, sib := range same {
					if sib == cur {
						step += "[" + strconv.Itoa(i+1) + "]"
						break
					}
				}
			}
		}
		parts = append(parts, step)
	}
	reverse(parts)
	return "//" + strings.Join(parts, "/")
}

func (r *PathResolver) uniqueAttributeStep(el *Node, tag string) string {
	var attrs []attrPair
	for _, name := range attributePriority {
		if v := el.AttrValue(name); v != "" {
			attrs = append(attrs, attrPair{name: name, value: v})
		}
	}
	for size := 1; size <= len(attrs); size++ {
		for _, combo := range combinations(attrs, size) {
			if r.firstMatch(el.Name, combo) != el {
				continue
			}
			conds := make([]string, len(combo))
			for i, a := range combo {
				conds[i] = "@" + a.name + "=" + EscapeXPathString(a.value)
			}
			return tag + "[" + strings.Join(conds, " and ") + "]"
		}
	}
	return ""
}

// firstMatch evaluates //tag[@a=.. and @b=..] and returns the first result.
func (r *PathResolver) firstMatch(name string, combo []attrPair) *Node {
	for _, cand := range r.doc.ElementsByTag(name) {
		ok := true
		for _, a := range combo {
			if v, has := cand.Attr(a.name); !has || v != a.value {
				ok = false
				break
			}
		}
		if ok && cand.Parent != nil {
			return cand
		}
	}
	return nil
}

// combinations returns all size-k subsets of attrs in lexicographic order.
func combinations(attrs []attrPair, k int) [][]attrPair {
	var out [][]attrPair
	var combo []attrPair
	var helper func(start int)
	helper = func(start int) {
		if len(combo) == k {
			out = append(out, append([]attrPair(nil), combo...))
			return
		}
		for i := start; i < len(attrs); i++ {
			combo = append(combo, attrs[i])
			helper(i + 1)
			combo = combo[:len(combo)-1]
		}
	}
	helper(0)
	return out
}

// parentNode returns the parent element of an element, or the parent node of
// anything else.
func parentNode(n *Node) *Node {
	if n.IsElement() {
		return n.ParentElement()
	}
	return n.Parent
}

// EscapeXPathString quotes value as an XPath string literal, using concat()
// when it holds both quote kinds.
func EscapeXPathString(value string) string {
	if !strings.Contains(value, "'") {
		return "'" + value + "'"
	}
	if !strings.Contains(value, `"`) {
		return `"` + value + `"`
	}
	var parts []string
	for _, part := range splitQuoteRuns(value) {
		switch {
		case part == "'":
			parts = append(parts, `"'"`)
		case strings.HasPrefix(part, "'") && strings.HasSuffix(part, "'"):
			parts = append(parts, `"`+part+`"`)
		default:
			parts = append(parts, "'"+part+"'")
		}
	}
	return "concat(" + strings.Join(parts, ",") + ")"
}

// splitQuoteRuns splits value around runs of single quotes, keeping the runs
// and the (possibly empty) text between them.
func splitQuoteRuns(value string) []string {
	var out []string
	start := 0
	for i := 0; i < len(value); {
		if value[i] != '\'' {
			i++
			continue
		}
		j := i
		for j < len(value) && value[j] == '\'' {
			j++
		}
		out = append(out, value[start:i], value[i:j])
		start = j
		i = j
	}
	return append(out, value[start:])
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
