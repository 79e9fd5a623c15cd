package dom

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// fingerprintAttributes are the root attributes kept by ComponentString.
var fingerprintAttributes = map[string]bool{
	"type": true, "name": true, "placeholder": true, "aria-label": true,
	"role": true, "href": true, "title": true, "alt": true,
}

// ComponentString renders the element's outer HTML with only the stable
// root attributes kept and whitespace collapsed. It identifies the target
// of a cached action step independently of volatile ids and classes.
func ComponentString(n *Node) string {
	if n == nil {
		return ""
	}
	if n.Type == TextNode {
		return collapseSpace(n.Value)
	}
	root := toHTML(n)
	kept := root.Attr[:0]
	for _, a := range root.Attr {
		if fingerprintAttributes[a.Key] {
			kept = append(kept, a)
		}
	}
	root.Attr = kept

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return collapseSpace(n.TextContent())
	}
	return collapseSpace(buf.String())
}

// OuterHTML renders the subtree rooted at n.
func OuterHTML(n *Node) string {
	if n == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, toHTML(n)); err != nil {
		return ""
	}
	return buf.String()
}

func toHTML(n *Node) *html.Node {
	switch n.Type {
	case TextNode:
		return &html.Node{Type: html.TextNode, Data: n.Value}
	case CommentNode:
		return &html.Node{Type: html.CommentNode, Data: n.Value}
	}
	tag := strings.ToLower(n.Name)
	out := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	for _, a := range n.Attrs {
		out.Attr = append(out.Attr, html.Attribute{Key: a.Name, Val: a.Value})
	}
	for _, c := range n.Children {
		if c.Type == DocumentNode {
			continue
		}
		out.AppendChild(toHTML(c))
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
