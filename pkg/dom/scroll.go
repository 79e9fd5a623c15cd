package dom

import "sort"

// ScrollCandidates returns the document element followed by every element
// whose overflow-y allows scrolling and whose content overflows its box.
// Callers confirm candidates with a live scroll probe.
func ScrollCandidates(d *Document) []*Node {
	var out []*Node
	html := d.DocumentElement()
	if html != nil {
		out = append(out, html)
	}
	for _, n := range d.nodes {
		if !n.IsElement() || n == html {
			continue
		}
		switch n.Style.OverflowY {
		case "auto", "scroll", "overlay":
			if n.ScrollHeight-n.ClientHeight > 0 {
				out = append(out, n)
			}
		}
	}
	return out
}

// SortByScrollHeight orders scrollables from the tallest content down.
func SortByScrollHeight(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].ScrollHeight > nodes[j].ScrollHeight })
}

// NearestScrollable returns the closest ancestor-or-self of n that is in
// scrollables, or the document element.
func NearestScrollable(d *Document, scrollables []*Node, n *Node) *Node {
	set := make(map[*Node]bool, len(scrollables))
	for _, s := range scrollables {
		set[s] = true
	}
	for cur := n; cur != nil; cur = cur.ParentElement() {
		if set[cur] {
			return cur
		}
	}
	return d.DocumentElement()
}
