package dom

// IsRadio reports whether n is an <input type="radio">.
func IsRadio(n *Node) bool {
	return n.IsElement() && n.Name == "INPUT" && n.AttrValue("type") == "radio"
}

// RadioLabel finds the label a click on a radio input should go to: a
// label[for=id] anywhere in the document, then an enclosing label, then the
// nearest following sibling label, then the nearest preceding one. It
// returns nil when none exists.
func RadioLabel(d *Document, input *Node) *Node {
	if id := input.ID(); id != "" {
		for _, l := range d.ElementsByTag("LABEL") {
			if l.AttrValue("for") == id {
				return l
			}
		}
	}
	if l := input.Closest(func(n *Node) bool { return n.Name == "LABEL" }); l != nil {
		return l
	}
	parent := input.Parent
	if parent == nil {
		return nil
	}
	pos := -1
	for i, c := range parent.Children {
		if c == input {
			pos = i
			break
		}
	}
	for i := pos + 1; i < len(parent.Children); i++ {
		if c := parent.Children[i]; c.Name == "LABEL" {
			return c
		}
	}
	for i := pos - 1; i >= 0; i-- {
		if c := parent.Children[i]; c.Name == "LABEL" {
			return c
		}
	}
	return nil
}
