package browser

import (
	"encoding/json"
	"fmt"

	"github.com/entrhq/pagehand/pkg/a11y"
)

type cdpAXValue struct {
	Value json.RawMessage `json:"value"`
}

// String renders the value; strings lose their quotes, numbers and booleans
// keep their JSON form.
func (v *cdpAXValue) String() string {
	if v == nil || len(v.Value) == 0 || string(v.Value) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err == nil {
		return s
	}
	return string(v.Value)
}

type cdpAXNode struct {
	NodeID           string      `json:"nodeId"`
	Role             *cdpAXValue `json:"role"`
	Name             *cdpAXValue `json:"name"`
	Description      *cdpAXValue `json:"description"`
	Value            *cdpAXValue `json:"value"`
	ParentID         string      `json:"parentId"`
	ChildIDs         []string    `json:"childIds"`
	BackendDOMNodeID int64       `json:"backendDOMNodeId"`
}

// decodeAXTree converts an Accessibility.getFullAXTree result.
func decodeAXTree(data []byte) ([]a11y.AXNode, error) {
	var res struct {
		Nodes []cdpAXNode `json:"nodes"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode accessibility tree: %w", err)
	}
	out := make([]a11y.AXNode, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		out = append(out, a11y.AXNode{
			NodeID:           n.NodeID,
			Role:             n.Role.String(),
			Name:             n.Name.String(),
			Description:      n.Description.String(),
			Value:            n.Value.String(),
			BackendDOMNodeID: n.BackendDOMNodeID,
			ParentID:         n.ParentID,
			ChildIDs:         n.ChildIDs,
		})
	}
	return out, nil
}

// remoteValue reads the result of Runtime.callFunctionOn. A thrown
// exception becomes an error.
func remoteValue(data []byte, out interface{}) error {
	var res struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("failed to decode call result: %w", err)
	}
	if ex := res.ExceptionDetails; ex != nil {
		if ex.Exception != nil && ex.Exception.Description != "" {
			return fmt.Errorf("page script failed: %s", ex.Exception.Description)
		}
		return fmt.Errorf("page script failed: %s", ex.Text)
	}
	if out == nil || len(res.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(res.Result.Value, out)
}

// objectID reads the remote object id from a DOM.resolveNode result.
func objectID(data []byte) (string, error) {
	var res struct {
		Object struct {
			ObjectID string `json:"objectId"`
		} `json:"object"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("failed to decode resolved node: %w", err)
	}
	if res.Object.ObjectID == "" {
		return "", fmt.Errorf("resolved node has no object id")
	}
	return res.Object.ObjectID, nil
}
