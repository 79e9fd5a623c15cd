package browser

import (
	"encoding/json"
	"testing"

	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cdpFixture is a trimmed DOMSnapshot.captureSnapshot result at device pixel
// ratio 2, scrolled 100px down. Node 1 is a doctype.
const cdpFixture = `{
  "strings": ["https://shop.test/", "#document", "HTML", "BODY", "BUTTON", "#text", "Buy",
              "id", "buy", "block", "visible", "auto", "1", "DIV", "html", "inline-block"],
  "documents": [{
    "documentURL": 0,
    "scrollOffsetX": 0,
    "scrollOffsetY": 100,
    "contentHeight": 2000,
    "nodes": {
      "parentIndex":   [-1, 0, 0, 2, 3, 4, 5],
      "nodeType":      [9, 10, 1, 1, 1, 1, 3],
      "nodeName":      [1, 14, 2, 3, 13, 4, 5],
      "nodeValue":     [-1, -1, -1, -1, -1, -1, 6],
      "backendNodeId": [1, 2, 3, 4, 5, 6, 7],
      "attributes":    [[], [], [], [], [], [7, 8], []]
    },
    "layout": {
      "nodeIndex":   [2, 3, 4, 5, 6],
      "styles":      [[9, 10, 10, 12], [9, 10, 10, 12], [9, 10, 11, 12], [15, 10, 10, 12], []],
      "bounds":      [[0, 0, 2560, 4000], [0, 0, 2560, 4000], [0, 400, 1000, 600], [20, 440, 200, 60], [30, 450, 60, 40]],
      "paintOrders": [0, 1, 2, 3, 4],
      "scrollRects": [[0, 100, 1280, 2000], [], [0, 50, 500, 900], [], []],
      "clientRects": [[0, 0, 1280, 800], [], [0, 0, 500, 300], [], []]
    }
  }]
}`

func decodeFixture(t *testing.T) *dom.Document {
	t.Helper()
	raws, url, vp, err := decodeCDPSnapshot([]byte(cdpFixture), viewportInfo{Width: 1280, Height: 800, DPR: 2})
	require.NoError(t, err)
	d, err := buildDocument(raws, url, vp)
	require.NoError(t, err)
	return d
}

func TestDecodeCDPSnapshot(t *testing.T) {
	d := decodeFixture(t)

	assert.Equal(t, "https://shop.test/", d.URL)
	assert.Equal(t, dom.Viewport{Width: 1280, Height: 800, ScrollY: 100}, d.Viewport)

	html := d.DocumentElement()
	require.NotNil(t, html)
	assert.Equal(t, "HTML", html.Name)
	assert.Len(t, d.Root.Children, 1, "the doctype is dropped")

	button := d.NodeByBackendID(6)
	require.NotNil(t, button)
	assert.Equal(t, "/html/body[1]/div[1]/button[1]", dom.StructuralPath(button))
	assert.Equal(t, "buy", button.ID())
	assert.Equal(t, &dom.Rect{X: 10, Y: 120, Width: 100, Height: 30}, button.Box)
	assert.Equal(t, "inline-block", button.Style.Display)
	assert.Equal(t, 3, button.PaintOrder)

	text := d.NodeByBackendID(7)
	require.NotNil(t, text)
	assert.Equal(t, "Buy", text.Value)
	assert.Equal(t, &dom.Rect{X: 15, Y: 125, Width: 30, Height: 20}, text.Box)
	assert.Empty(t, text.Style.Display)
}

func TestDecodeCDPSnapshotScrollMetrics(t *testing.T) {
	d := decodeFixture(t)

	div := d.NodeByBackendID(5)
	require.NotNil(t, div)
	assert.Equal(t, "auto", div.Style.OverflowY)
	assert.Equal(t, 50.0, div.ScrollTop)
	assert.Equal(t, 900.0, div.ScrollHeight)
	assert.Equal(t, 300.0, div.ClientHeight)

	html := d.DocumentElement()
	assert.Equal(t, 100.0, html.ScrollTop)
	assert.Equal(t, 2000.0, html.ScrollHeight)
	assert.Equal(t, 800.0, html.ClientHeight)
	assert.Equal(t, 2000.0, d.ScrollHeight())

	body := d.Body()
	assert.Zero(t, body.ScrollHeight, "no scroll rect was reported")
}

func TestDecodeCDPSnapshotErrors(t *testing.T) {
	_, _, _, err := decodeCDPSnapshot([]byte(`{"documents": []}`), viewportInfo{})
	assert.EqualError(t, err, "DOM snapshot has no documents")

	_, _, _, err = decodeCDPSnapshot([]byte(`not json`), viewportInfo{})
	assert.ErrorContains(t, err, "failed to decode DOM snapshot")
}

func TestDecodeCDPSnapshotDefaultsPixelRatio(t *testing.T) {
	raws, _, _, err := decodeCDPSnapshot([]byte(cdpFixture), viewportInfo{Width: 1280, Height: 800})
	require.NoError(t, err)
	assert.Equal(t, &[4]float64{20, 340, 200, 60}, raws[5].Box)
}

func TestBuildDocumentFromWalker(t *testing.T) {
	const walked = `{"url": "https://a.test/", "nodes": [
	  {"parent": -1, "type": 9, "name": "#document", "id": 1},
	  {"parent": 0, "type": 1, "name": "HTML", "id": 2, "attrs": [], "style": ["block", "visible", "visible", "1"], "scroll": [0, 1600, 800]},
	  {"parent": 1, "type": 1, "name": "BODY", "id": 3, "box": [0, 0, 1280, 1600]},
	  {"parent": 2, "type": 1, "name": "svg", "id": 4, "attrs": ["class", "icon", "role"]},
	  {"parent": 2, "type": 8, "name": "#comment", "value": "note", "id": 5},
	  {"parent": 2, "type": 3, "name": "#text", "value": "hi", "id": 6, "box": [0, 0, 10, 10]}
	]}`
	var snap jsSnapshot
	require.NoError(t, json.Unmarshal([]byte(walked), &snap))

	d, err := buildDocument(snap.Nodes, snap.URL, dom.Viewport{Width: 1280, Height: 800})
	require.NoError(t, err)

	assert.Equal(t, "https://a.test/", d.URL)
	assert.Equal(t, 1600.0, d.ScrollHeight())

	svg := d.NodeByBackendID(4)
	require.NotNil(t, svg)
	assert.Equal(t, "SVG", svg.Name)
	assert.Equal(t, []dom.Attr{{Name: "class", Value: "icon"}}, svg.Attrs, "a dangling attribute name is dropped")
	assert.Nil(t, svg.Box)

	body := d.Body()
	require.Len(t, body.Children, 3)
	assert.Equal(t, dom.CommentNode, body.Children[1].Type)
	assert.Equal(t, "hi", body.TextContent())
}

func TestBuildDocumentRejectsMalformedSnapshots(t *testing.T) {
	tests := []struct {
		name string
		raws []rawNode
		want string
	}{
		{name: "empty", want: "empty snapshot"},
		{
			name: "two roots",
			raws: []rawNode{{Parent: -1, Type: 9}, {Parent: -1, Type: 9}},
			want: "snapshot node 1 is a second root",
		},
		{
			name: "forward parent",
			raws: []rawNode{{Parent: -1, Type: 9}, {Parent: 2, Type: 1, Name: "HTML"}, {Parent: 0, Type: 1, Name: "BODY"}},
			want: "snapshot node 1: parent 2 does not precede it",
		},
		{
			name: "no root",
			raws: []rawNode{{Parent: -1, Type: 10}},
			want: "snapshot has no root",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildDocument(tt.raws, "", dom.Viewport{})
			assert.EqualError(t, err, tt.want)
		})
	}
}

func TestBuildDocumentDropsSubtreesOfUnknownNodes(t *testing.T) {
	raws := []rawNode{
		{Parent: -1, Type: 9},
		{Parent: 0, Type: 1, Name: "HTML", BackendID: 2},
		{Parent: 1, Type: 1, Name: "BODY", BackendID: 3},
		{Parent: 2, Type: 11, BackendID: 4},
		{Parent: 3, Type: 1, Name: "SPAN", BackendID: 5},
		{Parent: 2, Type: 1, Name: "P", BackendID: 6},
	}
	d, err := buildDocument(raws, "", dom.Viewport{})
	require.NoError(t, err)

	assert.Nil(t, d.NodeByBackendID(5), "shadow content is dropped")
	require.NotNil(t, d.NodeByBackendID(6))
	assert.Equal(t, "/html/body[1]/p[1]", dom.StructuralPath(d.NodeByBackendID(6)))
}
