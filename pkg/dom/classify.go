package dom

import "strings"

var interactiveTags = map[string]bool{
	"A": true, "BUTTON": true, "DETAILS": true, "EMBED": true, "INPUT": true,
	"LABEL": true, "MENU": true, "MENUITEM": true, "OBJECT": true, "SELECT": true,
	"TEXTAREA": true, "SUMMARY": true,
}

var interactiveRoles = map[string]bool{
	"button": true, "menu": true, "menuitem": true, "link": true, "checkbox": true,
	"radio": true, "slider": true, "tab": true, "tabpanel": true, "textbox": true,
	"combobox": true, "grid": true, "listbox": true, "option": true,
	"progressbar": true, "scrollbar": true, "searchbox": true, "switch": true,
	"tree": true, "treeitem": true, "spinbutton": true, "tooltip": true,
}

var interactiveAriaRoles = map[string]bool{"menu": true, "menuitem": true, "button": true}

var leafDenyList = map[string]bool{"SVG": true, "IFRAME": true, "SCRIPT": true, "STYLE": true, "LINK": true}

// IsTextNode reports whether n is a text node with non-blank content.
func IsTextNode(n *Node) bool {
	return n != nil && n.Type == TextNode && strings.TrimSpace(n.Value) != ""
}

// IsInteractive reports whether the element's tag or role makes it actionable.
func IsInteractive(n *Node) bool {
	if !n.IsElement() {
		return false
	}
	if interactiveTags[n.Name] {
		return true
	}
	if role, ok := n.Attr("role"); ok && interactiveRoles[role] {
		return true
	}
	if role, ok := n.Attr("aria-role"); ok && interactiveAriaRoles[role] {
		return true
	}
	return false
}

// IsLeaf reports whether the element holds a single run of text.
func IsLeaf(n *Node) bool {
	if !n.IsElement() || n.TextContent() == "" {
		return false
	}
	if len(n.Children) == 0 {
		return !leafDenyList[n.Name]
	}
	return len(n.Children) == 1 && IsTextNode(n.Children[0])
}

// IsActive reports whether the element is enabled.
func IsActive(n *Node) bool {
	if n.HasAttr("disabled") || n.HasAttr("hidden") {
		return false
	}
	return n.AttrValue("aria-disabled") != "true"
}

// IsVisible reports whether the element is on screen, unobscured and not
// hidden by style.
func IsVisible(d *Document, n *Node) bool {
	if n.Box == nil || !inViewport(d, *n.Box) {
		return false
	}
	if !isTopElement(d, n, *n.Box) {
		return false
	}
	return checkVisibility(n)
}

// IsTextVisible reports whether a text run is on screen and its parent
// element is not hidden by style.
func IsTextVisible(d *Document, n *Node) bool {
	if n.Box == nil || !inViewport(d, *n.Box) {
		return false
	}
	parent := n.ParentElement()
	if parent == nil {
		return false
	}
	return checkVisibility(parent)
}

func inViewport(d *Document, r Rect) bool {
	return r.Width != 0 && r.Height != 0 && r.Y >= 0 && r.Y <= d.Viewport.Height
}

// isTopElement samples five points of the box and accepts the element when
// any hit lands on it or a descendant of it below <body>.
func isTopElement(d *Document, n *Node, r Rect) bool {
	points := [5][2]float64{
		{r.X + r.Width*0.25, r.Y + r.Height*0.25},
		{r.X + r.Width*0.75, r.Y + r.Height*0.25},
		{r.X + r.Width*0.25, r.Y + r.Height*0.75},
		{r.X + r.Width*0.75, r.Y + r.Height*0.75},
		{r.X + r.Width/2, r.Y + r.Height/2},
	}
	for _, p := range points {
		for cur := d.ElementFromPoint(p[0], p[1]); cur != nil && cur.Name != "BODY"; cur = cur.ParentElement() {
			if cur == n {
				return true
			}
		}
	}
	return false
}

// checkVisibility follows Element.checkVisibility with opacity and
// visibility checks enabled.
func checkVisibility(n *Node) bool {
	if n.Style.Visibility == "hidden" || n.Style.Visibility == "collapse" {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Style.Display == "none" {
			return false
		}
		if op := strings.TrimSpace(cur.Style.Opacity); op == "0" || op == "0.0" {
			return false
		}
	}
	return true
}
