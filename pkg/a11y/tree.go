// Package a11y turns the flat accessibility node list reported by the
// browser into a compact, indented tree for the reasoner.
package a11y

import (
	"strconv"
	"strings"

	"github.com/entrhq/pagehand/pkg/logging"
)

// AXNode is one entry of the browser's flat accessibility tree.
type AXNode struct {
	NodeID           string   `json:"nodeId"`
	Role             string   `json:"role"`
	Name             string   `json:"name,omitempty"`
	Description      string   `json:"description,omitempty"`
	Value            string   `json:"value,omitempty"`
	BackendDOMNodeID int64    `json:"backendDOMNodeId,omitempty"`
	ParentID         string   `json:"parentId,omitempty"`
	ChildIDs         []string `json:"childIds,omitempty"`
}

// Node is a cleaned accessibility tree node.
type Node struct {
	Role        string
	Name        string
	Description string
	Value       string
	NodeID      string
	BackendID   int64
	Children    []*Node
}

// TreeResult is the outcome of BuildTree.
type TreeResult struct {
	Tree       []*Node
	Simplified string
	Iframes    []*Node
}

// TagResolver maps a backend DOM node id to its lowercase tag name.
type TagResolver func(backendID int64) (string, error)

// MarkScrollable relabels nodes backed by scrollable elements: generic and
// none become "scrollable", other roles get a "scrollable, " prefix.
func MarkScrollable(nodes []AXNode, scrollable map[int64]bool) []AXNode {
	out := make([]AXNode, len(nodes))
	for i, n := range nodes {
		if n.BackendDOMNodeID != 0 && scrollable[n.BackendDOMNodeID] {
			switch n.Role {
			case "generic", "none":
				n.Role = "scrollable"
			case "":
				n.Role = "scrollable"
			default:
				n.Role = "scrollable, " + n.Role
			}
		}
		out[i] = n
	}
	return out
}

// BuildTree links the flat list into a hierarchy, drops structural noise and
// renders the simplified text form. resolveTag may be nil.
func BuildTree(nodes []AXNode, resolveTag TagResolver, logger *logging.Logger) TreeResult {
	kept := make(map[string]*Node)
	for _, n := range nodes {
		if negativeID(n.NodeID) {
			continue
		}
		hasChildren := len(n.ChildIDs) > 0
		hasName := strings.TrimSpace(n.Name) != ""
		meaningful := n.Role != "none" && n.Role != "generic" && n.Role != "InlineTextBox"
		if !hasName && !hasChildren && !meaningful {
			continue
		}
		node := &Node{
			Role:        n.Role,
			NodeID:      n.NodeID,
			Description: n.Description,
			Value:       n.Value,
			BackendID:   n.BackendDOMNodeID,
		}
		if hasName {
			node.Name = n.Name
		}
		kept[n.NodeID] = node
	}

	var result TreeResult
	for _, n := range nodes {
		if n.Role == "Iframe" {
			result.Iframes = append(result.Iframes, &Node{Role: n.Role, NodeID: n.NodeID})
		}
		if n.ParentID == "" {
			continue
		}
		child, ok := kept[n.NodeID]
		if !ok {
			continue
		}
		if parent, ok := kept[n.ParentID]; ok {
			parent.Children = append(parent.Children, child)
		}
	}

	c := cleaner{resolveTag: resolveTag, logger: logger}
	var rendered []string
	for _, n := range nodes {
		if n.ParentID != "" {
			continue
		}
		root, ok := kept[n.NodeID]
		if !ok {
			continue
		}
		if cleaned := c.clean(root); cleaned != nil {
			result.Tree = append(result.Tree, cleaned)
			rendered = append(rendered, Format(cleaned, 0))
		}
	}
	result.Simplified = strings.Join(rendered, "\n")
	return result
}

type cleaner struct {
	resolveTag TagResolver
	logger     *logging.Logger
}

func structural(role string) bool { return role == "generic" || role == "none" }

// clean collapses single-child structural nodes, drops empty ones and names
// the rest after their DOM tag.
func (c cleaner) clean(n *Node) *Node {
	if negativeID(n.NodeID) {
		return nil
	}
	if len(n.Children) == 0 {
		if structural(n.Role) {
			return nil
		}
		return n
	}

	var children []*Node
	for _, child := range n.Children {
		if cleaned := c.clean(child); cleaned != nil {
			children = append(children, cleaned)
		}
	}

	if structural(n.Role) {
		switch len(children) {
		case 0:
			return nil
		case 1:
			return children[0]
		}
		if c.resolveTag != nil && n.BackendID != 0 {
			tag, err := c.resolveTag(n.BackendID)
			switch {
			case err != nil:
				c.logger.Debugf("Could not resolve DOM node %d: %v", n.BackendID, err)
			case tag != "":
				n.Role = tag
			}
		}
	}

	out := *n
	if len(children) > 0 {
		out.Children = children
	}
	return &out
}

// Format renders n and its subtree as "[nodeId] role: name" lines indented
// two spaces per level.
func Format(n *Node, level int) string {
	var b strings.Builder
	format(&b, n, level)
	return b.String()
}

func format(b *strings.Builder, n *Node, level int) {
	b.WriteString(strings.Repeat("  ", level))
	b.WriteString("[" + n.NodeID + "] " + n.Role)
	if n.Name != "" {
		b.WriteString(": " + n.Name)
	}
	b.WriteString("\n")
	for _, c := range n.Children {
		format(b, c, level+1)
	}
}

// Find returns the node with the given id in the tree, or nil.
func Find(tree []*Node, nodeID string) *Node {
	for _, n := range tree {
		if n.NodeID == nodeID {
			return n
		}
		if found := Find(n.Children, nodeID); found != nil {
			return found
		}
	}
	return nil
}

func negativeID(id string) bool {
	v, err := strconv.ParseInt(id, 10, 64)
	return err == nil && v < 0
}
