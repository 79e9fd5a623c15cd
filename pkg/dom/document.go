package dom

import (
	"math"
	"sort"
)

// Viewport describes the window at capture time.
type Viewport struct {
	Width   float64
	Height  float64
	ScrollX float64
	ScrollY float64
}

// Document is an indexed, read-only snapshot of a page.
type Document struct {
	Root     *Node
	URL      string
	Viewport Viewport

	nodes     []*Node
	byBackend map[int64]*Node
	byTag     map[string][]*Node
}

// NewDocument indexes the tree under root. root should be a DocumentNode
// whose element child is <html>; a bare element root is wrapped.
func NewDocument(root *Node, url string, vp Viewport) *Document {
	if root.Type != DocumentNode {
		doc := &Node{Type: DocumentNode, Name: "#document"}
		doc.AppendChild(root)
		root = doc
	}
	d := &Document{
		Root:      root,
		URL:       url,
		Viewport:  vp,
		byBackend: make(map[int64]*Node),
		byTag:     make(map[string][]*Node),
	}
	root.Walk(func(n *Node) bool {
		n.order = len(d.nodes)
		d.nodes = append(d.nodes, n)
		if n.BackendID != 0 {
			d.byBackend[n.BackendID] = n
		}
		if n.IsElement() {
			d.byTag[n.Name] = append(d.byTag[n.Name], n)
		}
		return true
	})
	return d
}

// Nodes returns every node in document order.
func (d *Document) Nodes() []*Node { return d.nodes }

// DocumentElement returns the <html> element.
func (d *Document) DocumentElement() *Node {
	for _, c := range d.Root.Children {
		if c.IsElement() {
			return c
		}
	}
	return nil
}

// Body returns the <body> element, or the document element if there is none.
func (d *Document) Body() *Node {
	html := d.DocumentElement()
	if html == nil {
		return nil
	}
	for _, c := range html.Children {
		if c.Name == "BODY" {
			return c
		}
	}
	return html
}

// ScrollHeight returns the document element's scrollHeight, never less than
// the viewport height.
func (d *Document) ScrollHeight() float64 {
	h := d.Viewport.Height
	if html := d.DocumentElement(); html != nil && html.ScrollHeight > h {
		h = html.ScrollHeight
	}
	return h
}

// ChunkHeight is the page container's viewport height: 75% of the window,
// rounded up.
func (d *Document) ChunkHeight() float64 {
	return math.Ceil(d.Viewport.Height * 0.75)
}

// NodeByBackendID finds the node carrying the given backend id.
func (d *Document) NodeByBackendID(id int64) *Node {
	return d.byBackend[id]
}

// ElementsByTag returns elements with the given uppercase tag in document order.
func (d *Document) ElementsByTag(tag string) []*Node {
	return d.byTag[tag]
}

// Before reports whether a precedes b in document order.
func (d *Document) Before(a, b *Node) bool { return a.order < b.order }

// SortDocumentOrder sorts nodes by document order in place.
func SortDocumentOrder(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].order < nodes[j].order })
}

// ElementFromPoint hit-tests the snapshot at client coordinates. The element
// with the highest paint order whose box contains the point wins; ties go to
// the later element in document order.
func (d *Document) ElementFromPoint(x, y float64) *Node {
	var best *Node
	for _, n := range d.nodes {
		if !n.IsElement() || n.Box == nil || !n.Box.Contains(x, y) {
			continue
		}
		if !hitTestable(n) {
			continue
		}
		if best == nil || n.PaintOrder > best.PaintOrder ||
			(n.PaintOrder == best.PaintOrder && n.order > best.order) {
			best = n
		}
	}
	return best
}

func hitTestable(n *Node) bool {
	if n.Style.Visibility == "hidden" || n.Style.Visibility == "collapse" {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Style.Display == "none" {
			return false
		}
	}
	return true
}
