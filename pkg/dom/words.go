package dom

import (
	"strings"
	"unicode/utf8"
)

// WordBox is a word's box in page coordinates.
type WordBox struct {
	Text   string  `json:"text"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// WordBoxes lays out the words under el from the snapshot's geometry. Each
// text run is spread evenly across its box; heights are scaled by 0.75.
// Select elements report their selected option, and elements without words
// report their placeholder (inputs, textareas) or alt text (images).
func WordBoxes(d *Document, el *Node) []WordBox {
	if el == nil {
		return nil
	}
	if opt := selectedOption(el); opt != nil {
		text := strings.TrimSpace(opt.TextContent())
		if text == "" || el.Box == nil {
			return nil
		}
		return []WordBox{d.pageBox(text, *el.Box, 1)}
	}

	var boxes []WordBox
	el.Walk(func(n *Node) bool {
		if n.IsElement() && ignoredForWords[n.Name] && n != el {
			return false
		}
		if !IsTextNode(n) || n.Box == nil {
			return true
		}
		boxes = append(boxes, d.layoutWords(n.Value, *n.Box)...)
		return true
	})
	if len(boxes) > 0 {
		return boxes
	}
	if el.Box == nil {
		return nil
	}
	return []WordBox{d.pageBox(placeholderText(el), *el.Box, 0.75)}
}

var ignoredForWords = map[string]bool{"SCRIPT": true, "STYLE": true, "IFRAME": true, "INPUT": true}

func selectedOption(el *Node) *Node {
	var first, selected *Node
	el.Walk(func(n *Node) bool {
		if n != el && n.Name == "OPTION" {
			if first == nil {
				first = n
			}
			if n.HasAttr("selected") && selected == nil {
				selected = n
			}
		}
		return selected == nil
	})
	if selected != nil {
		return selected
	}
	return first
}

func placeholderText(el *Node) string {
	switch el.Name {
	case "INPUT", "TEXTAREA":
		return el.AttrValue("placeholder")
	case "IMG":
		return el.AttrValue("alt")
	}
	return ""
}

func (d *Document) pageBox(text string, r Rect, heightScale float64) WordBox {
	return WordBox{
		Text:   text,
		Left:   r.X + d.Viewport.ScrollX,
		Top:    r.Y + d.Viewport.ScrollY,
		Width:  r.Width,
		Height: r.Height * heightScale,
	}
}

// layoutWords splits text on whitespace and places each word at its
// character offset within r.
func (d *Document) layoutWords(text string, r Rect) []WordBox {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	total := utf8.RuneCountInString(text)
	if total == 0 || r.Width <= 0 || r.Height <= 0 {
		return nil
	}
	cw := r.Width / float64(total)

	var out []WordBox
	pos := 0
	for _, tok := range splitKeepSpace(text) {
		n := utf8.RuneCountInString(tok)
		if strings.TrimSpace(tok) != "" {
			box := d.pageBox(tok, Rect{X: r.X + float64(pos)*cw, Y: r.Y, Width: float64(n) * cw, Height: r.Height}, 0.75)
			if box.Width > 0 && box.Height > 0 && box.Top >= 0 && box.Left >= 0 {
				out = append(out, box)
			}
		}
		pos += n
	}
	return out
}

// splitKeepSpace splits s into alternating word and whitespace tokens.
func splitKeepSpace(s string) []string {
	var out []string
	start := 0
	inSpace := false
	for i, r := range s {
		space := r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f'
		if i > start && space != inSpace {
			out = append(out, s[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
