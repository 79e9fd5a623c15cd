package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/pagehand/pkg/dom"
)

// rawNode is one node of a captured snapshot in pre-order. Both capture
// paths produce it: the CDP DOMSnapshot decoder and the in-page walker.
type rawNode struct {
	Parent    int      `json:"parent"`
	Type      int      `json:"type"`
	Name      string   `json:"name"`
	Value     string   `json:"value"`
	Attrs     []string `json:"attrs"`
	BackendID int64    `json:"id"`
	// Box is x, y, width, height in client coordinates.
	Box   *[4]float64 `json:"box"`
	Style [4]string   `json:"style"`
	Paint int         `json:"paint"`
	// Scroll is scrollTop, scrollHeight, clientHeight.
	Scroll *[3]float64 `json:"scroll"`
}

type jsSnapshot struct {
	URL   string    `json:"url"`
	Nodes []rawNode `json:"nodes"`
}

type viewportInfo struct {
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
	DPR     float64 `json:"dpr"`
}

func (v viewportInfo) viewport() dom.Viewport {
	return dom.Viewport{Width: v.Width, Height: v.Height, ScrollX: v.ScrollX, ScrollY: v.ScrollY}
}

func (r rawNode) node() *dom.Node {
	var n *dom.Node
	switch dom.NodeType(r.Type) {
	case dom.ElementNode:
		attrs := make([]dom.Attr, 0, len(r.Attrs)/2)
		for i := 0; i+1 < len(r.Attrs); i += 2 {
			attrs = append(attrs, dom.Attr{Name: r.Attrs[i], Value: r.Attrs[i+1]})
		}
		n = dom.NewElement(r.Name, attrs...)
		n.Style = dom.Style{Display: r.Style[0], Visibility: r.Style[1], OverflowY: r.Style[2], Opacity: r.Style[3]}
		n.PaintOrder = r.Paint
		if r.Scroll != nil {
			n.ScrollTop, n.ScrollHeight, n.ClientHeight = r.Scroll[0], r.Scroll[1], r.Scroll[2]
		}
	case dom.TextNode:
		n = dom.NewText(r.Value)
	case dom.CommentNode:
		n = &dom.Node{Type: dom.CommentNode, Name: "#comment", Value: r.Value}
	case dom.DocumentNode:
		n = &dom.Node{Type: dom.DocumentNode, Name: "#document"}
	default:
		return nil
	}
	n.BackendID = r.BackendID
	if r.Box != nil {
		n.Box = &dom.Rect{X: r.Box[0], Y: r.Box[1], Width: r.Box[2], Height: r.Box[3]}
	}
	return n
}

// buildDocument links raw nodes into a Document. Parents must precede their
// children. Node types other than element, text, comment and document are
// dropped together with their subtrees.
func buildDocument(raws []rawNode, url string, vp dom.Viewport) (*dom.Document, error) {
	if len(raws) == 0 {
		return nil, errors.New("empty snapshot")
	}
	nodes := make([]*dom.Node, len(raws))
	var root *dom.Node
	for i, r := range raws {
		n := r.node()
		if n == nil {
			continue
		}
		switch {
		case r.Parent < 0:
			if root != nil {
				return nil, fmt.Errorf("snapshot node %d is a second root", i)
			}
			root = n
		case r.Parent >= i:
			return nil, fmt.Errorf("snapshot node %d: parent %d does not precede it", i, r.Parent)
		case nodes[r.Parent] == nil:
			continue
		default:
			nodes[r.Parent].AppendChild(n)
		}
		nodes[i] = n
	}
	if root == nil {
		return nil, errors.New("snapshot has no root")
	}
	return dom.NewDocument(root, url, vp), nil
}

// snapshotStyles are requested from DOMSnapshot.captureSnapshot in the order
// rawNode.Style stores them.
var snapshotStyles = []string{"display", "visibility", "overflow-y", "opacity"}

type cdpSnapshot struct {
	Documents []cdpDocument `json:"documents"`
	Strings   []string      `json:"strings"`
}

type cdpDocument struct {
	DocumentURL int `json:"documentURL"`
	Nodes       struct {
		ParentIndex   []int   `json:"parentIndex"`
		NodeType      []int   `json:"nodeType"`
		NodeName      []int   `json:"nodeName"`
		NodeValue     []int   `json:"nodeValue"`
		BackendNodeID []int64 `json:"backendNodeId"`
		Attributes    [][]int `json:"attributes"`
	} `json:"nodes"`
	Layout struct {
		NodeIndex   []int       `json:"nodeIndex"`
		Styles      [][]int     `json:"styles"`
		Bounds      [][]float64 `json:"bounds"`
		PaintOrders []int       `json:"paintOrders"`
		ScrollRects [][]float64 `json:"scrollRects"`
		ClientRects [][]float64 `json:"clientRects"`
	} `json:"layout"`
	ScrollOffsetX float64 `json:"scrollOffsetX"`
	ScrollOffsetY float64 `json:"scrollOffsetY"`
	ContentHeight float64 `json:"contentHeight"`
}

// decodeCDPSnapshot converts a DOMSnapshot.captureSnapshot result into raw
// nodes. Only the main frame's document is read. Layout bounds are document
// coordinates in device pixels; they are scaled by dpr and shifted by the
// document scroll offset into client coordinates.
func decodeCDPSnapshot(data []byte, vp viewportInfo) ([]rawNode, string, dom.Viewport, error) {
	var snap cdpSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, "", dom.Viewport{}, fmt.Errorf("failed to decode DOM snapshot: %w", err)
	}
	if len(snap.Documents) == 0 {
		return nil, "", dom.Viewport{}, errors.New("DOM snapshot has no documents")
	}
	doc := snap.Documents[0]
	str := func(idx int) string {
		if idx < 0 || idx >= len(snap.Strings) {
			return ""
		}
		return snap.Strings[idx]
	}
	at := func(values []int, i int) int {
		if i < len(values) {
			return values[i]
		}
		return -1
	}
	dpr := vp.DPR
	if dpr <= 0 {
		dpr = 1
	}
	out := dom.Viewport{Width: vp.Width, Height: vp.Height, ScrollX: doc.ScrollOffsetX, ScrollY: doc.ScrollOffsetY}

	raws := make([]rawNode, len(doc.Nodes.NodeType))
	for i := range raws {
		r := rawNode{
			Parent: at(doc.Nodes.ParentIndex, i),
			Type:   doc.Nodes.NodeType[i],
			Name:   str(at(doc.Nodes.NodeName, i)),
			Value:  str(at(doc.Nodes.NodeValue, i)),
		}
		if i < len(doc.Nodes.BackendNodeID) {
			r.BackendID = doc.Nodes.BackendNodeID[i]
		}
		if i < len(doc.Nodes.Attributes) {
			for _, idx := range doc.Nodes.Attributes[i] {
				r.Attrs = append(r.Attrs, str(idx))
			}
		}
		if dom.NodeType(r.Type) == dom.ElementNode {
			r.Name = strings.ToUpper(r.Name)
		}
		raws[i] = r
	}

	for li, ni := range doc.Layout.NodeIndex {
		if ni < 0 || ni >= len(raws) {
			continue
		}
		r := &raws[ni]
		if li < len(doc.Layout.Bounds) && len(doc.Layout.Bounds[li]) == 4 {
			b := doc.Layout.Bounds[li]
			r.Box = &[4]float64{
				b[0]/dpr - out.ScrollX,
				b[1]/dpr - out.ScrollY,
				b[2] / dpr,
				b[3] / dpr,
			}
		}
		if li < len(doc.Layout.Styles) {
			for si, idx := range doc.Layout.Styles[li] {
				if si < len(r.Style) {
					r.Style[si] = str(idx)
				}
			}
		}
		if li < len(doc.Layout.PaintOrders) {
			r.Paint = doc.Layout.PaintOrders[li]
		}
		if li < len(doc.Layout.ScrollRects) && len(doc.Layout.ScrollRects[li]) == 4 {
			scroll := doc.Layout.ScrollRects[li]
			clientHeight := 0.0
			if li < len(doc.Layout.ClientRects) && len(doc.Layout.ClientRects[li]) == 4 {
				clientHeight = doc.Layout.ClientRects[li][3]
			}
			r.Scroll = &[3]float64{scroll[1], scroll[3], clientHeight}
		}
	}

	// The document element scrolls with the window.
	for i := range raws {
		r := &raws[i]
		if r.Type != int(dom.ElementNode) || r.Name != "HTML" {
			continue
		}
		height := doc.ContentHeight
		if r.Scroll != nil && r.Scroll[1] > height {
			height = r.Scroll[1]
		}
		r.Scroll = &[3]float64{out.ScrollY, height, out.Height}
		break
	}
	return raws, str(doc.DocumentURL), out, nil
}

// cdpSnapshotParams are the DOMSnapshot.captureSnapshot arguments.
func cdpSnapshotParams() map[string]interface{} {
	return map[string]interface{}{
		"computedStyles":    snapshotStyles,
		"includePaintOrder": true,
		"includeDOMRects":   true,
	}
}
