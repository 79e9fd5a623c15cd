package reasoner

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const maxXMLSize = 10 * 1024 * 1024

var (
	toolRegex = regexp.MustCompile(`(?s)<tool>.*?</tool>`)

	// entityRegex matches ampersands that already start an XML entity.
	entityRegex = regexp.MustCompile(`&(?:amp|lt|gt|quot|apos|#\d+|#x[0-9a-fA-F]+);`)
)

// Tool names the model answers with.
const (
	toolDoAction    = "doAction"
	toolSkipSection = "skipSection"
	toolPrintData   = "print_extracted_data"
	toolMetadata    = "report_progress"
	toolObserve     = "report_elements"
	toolVerify      = "report_completion"
)

// toolCall is the single tool invocation expected in every response:
//
//	<tool>
//	<tool_name>doAction</tool_name>
//	<arguments>
//	  <element>3</element>
//	  <method>fill</method>
//	  <args><arg>hello</arg></args>
//	  ...
//	</arguments>
//	</tool>
type toolCall struct {
	XMLName   xml.Name      `xml:"tool"`
	ToolName  string        `xml:"tool_name"`
	Arguments toolArguments `xml:"arguments"`
}

type toolArguments struct {
	Element   string            `xml:"element"`
	Method    string            `xml:"method"`
	Args      []string          `xml:"args>arg"`
	Step      string            `xml:"step"`
	Why       string            `xml:"why"`
	Completed string            `xml:"completed"`
	Reason    string            `xml:"reason"`
	Data      string            `xml:"data"`
	Progress  string            `xml:"progress"`
	Elements  []observedElement `xml:"elements>element"`
}

type observedElement struct {
	ElementID   string   `xml:"element_id"`
	Description string   `xml:"description"`
	Method      string   `xml:"method"`
	Args        []string `xml:"args>arg"`
}

// parseToolCall extracts the first <tool> element of text.
func parseToolCall(text string) (*toolCall, error) {
	if len(text) > maxXMLSize {
		return nil, fmt.Errorf("tool call XML exceeds maximum size of %d bytes", maxXMLSize)
	}
	match := toolRegex.FindString(text)
	if match == "" {
		return nil, fmt.Errorf("no tool call found in response")
	}

	var call toolCall
	if err := unmarshalXMLWithFallback([]byte(strings.TrimSpace(match)), &call); err != nil {
		snippet := match
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return nil, fmt.Errorf("failed to unmarshal tool call XML: %w\nXML snippet: %s", err, snippet)
	}
	call.ToolName = strings.TrimSpace(call.ToolName)
	if call.ToolName == "" {
		return nil, fmt.Errorf("tool_name is required in tool call")
	}
	return &call, nil
}

// unmarshalXMLWithFallback retries with bare ampersands escaped, which models
// emit often.
func unmarshalXMLWithFallback(data []byte, v interface{}) error {
	if err := xml.Unmarshal(data, v); err == nil {
		return nil
	}
	return xml.Unmarshal(escapeUnescapedAmpersands(data), v)
}

func escapeUnescapedAmpersands(data []byte) []byte {
	text := string(data)
	entities := make(map[int]bool)
	for _, m := range entityRegex.FindAllStringIndex(text, -1) {
		entities[m[0]] = true
	}

	var b strings.Builder
	b.Grow(len(text) + 20)
	for i := 0; i < len(text); i++ {
		if text[i] == '&' && !entities[i] {
			b.WriteString("&amp;")
		} else {
			b.WriteByte(text[i])
		}
	}
	return []byte(b.String())
}

func (c *toolCall) expect(names ...string) error {
	for _, n := range names {
		if c.ToolName == n {
			return nil
		}
	}
	return fmt.Errorf("%w: unexpected tool %q", ErrProtocol, c.ToolName)
}

// decision converts a doAction or skipSection call.
func (c *toolCall) decision() (*Decision, error) {
	if err := c.expect(toolDoAction, toolSkipSection); err != nil {
		return nil, err
	}
	a := c.Arguments
	if c.ToolName == toolSkipSection {
		return &Decision{Skip: true, Reason: strings.TrimSpace(a.Reason)}, nil
	}

	idx, err := strconv.Atoi(strings.TrimSpace(a.Element))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid element %q", ErrProtocol, a.Element)
	}
	method := ParseMethod(a.Method)
	if method.IsZero() {
		return nil, fmt.Errorf("%w: doAction without a method", ErrProtocol)
	}
	completed, err := parseBool(a.Completed)
	if err != nil {
		return nil, err
	}
	args := a.Args
	if args == nil {
		args = []string{}
	}
	return &Decision{
		ElementIndex: idx,
		Method:       method,
		Args:         args,
		Step:         strings.TrimSpace(a.Step),
		Why:          strings.TrimSpace(a.Why),
		Completed:    completed,
	}, nil
}

func (c *toolCall) observations(withAction bool) ([]Observation, error) {
	if err := c.expect(toolObserve); err != nil {
		return nil, err
	}
	out := make([]Observation, 0, len(c.Arguments.Elements))
	for _, el := range c.Arguments.Elements {
		idx, err := strconv.Atoi(strings.TrimSpace(el.ElementID))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid element_id %q", ErrProtocol, el.ElementID)
		}
		obs := Observation{ElementIndex: idx, Description: strings.TrimSpace(el.Description)}
		if withAction {
			obs.Method = ParseMethod(el.Method)
			obs.Args = el.Args
			if obs.Args == nil {
				obs.Args = []string{}
			}
		}
		out = append(out, obs)
	}
	return out, nil
}

func parseBool(s string) (bool, error) {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("%w: invalid boolean %q", ErrProtocol, s)
	}
	return v, nil
}
