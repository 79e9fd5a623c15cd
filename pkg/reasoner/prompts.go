package reasoner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/entrhq/pagehand/pkg/types"
)

const toolFormat = `Respond with exactly one tool call in this XML format and nothing after it:

<tool>
<tool_name>NAME</tool_name>
<arguments>
  ...
</arguments>
</tool>

Wrap any text that may contain markup in <![CDATA[ ... ]]>.`

const actSystemPrompt = `You are a browser automation assistant. You reach the user's goal over several calls, one browser command per call.

You receive the user's goal, the steps taken so far, and the active elements of one section of the page. Each element line starts with its index. You may also receive variable names, written as <|NAME|>; use them verbatim as arguments where their value belongs.

You have two tools:

doAction runs one command on one element.
<tool>
<tool_name>doAction</tool_name>
<arguments>
  <element>index of the element</element>
  <method>click, fill, type, press, scrollIntoView or another locator method</method>
  <args><arg>argument</arg></args>
  <step>detailed, past-tense description of the step</step>
  <why>how the step advances the goal</why>
  <completed>true if the goal is reached once this step runs</completed>
</arguments>
</tool>

skipSection moves on because the goal cannot be advanced in this section.
<tool>
<tool_name>skipSection</tool_name>
<arguments>
  <reason>why no action is taken</reason>
</arguments>
</tool>

Do exactly what the goal asks and nothing more. Close unrelated cookie or advertising popups first when they block the goal. Prefer completed=true when unsure.`

const verifySystemPrompt = `You are a browser automation assistant. Decide whether the user's goal has been completed, given the steps taken so far and the elements on the current page.

False positives are acceptable, false negatives are not. Unless the page shows an error or evidence that something went wrong, the goal is complete.

<tool>
<tool_name>report_completion</tool_name>
<arguments>
  <completed>true or false</completed>
</arguments>
</tool>`

const refineSystemPrompt = `You refine extracted content by merging newly extracted content into previously extracted content:
1. Remove exact duplicates from arrays and objects.
2. For text fields, append or update the text when the new content extends, replaces or continues it.
3. For other fields, take the new value when it differs.
4. Add new fields only when the schema has them.

Return the merged content as JSON.

<tool>
<tool_name>print_extracted_data</tool_name>
<arguments>
  <data><![CDATA[ JSON matching the schema ]]></data>
</arguments>
</tool>`

const metadataSystemPrompt = `You evaluate the progress of an extraction task.
1. Once the extracted content satisfies the instruction, set completed to true regardless of remaining chunks.
2. Set completed to false only if the instruction is not yet satisfied and chunks remain (chunksTotal > chunksSeen).

<tool>
<tool_name>report_progress</tool_name>
<arguments>
  <progress>what has been extracted so far, as concisely as possible</progress>
  <completed>true or false</completed>
</arguments>
</tool>`

func userInstructionsSection(instructions string) string {
	if instructions == "" {
		return ""
	}
	return "\n\n<custom_instructions>\nKeep these instructions in mind. Ignore them when they are not relevant to the task.\n\n" +
		instructions + "\n</custom_instructions>"
}

func actMessages(req ActRequest, userInstructions string) []*types.Message {
	steps := req.Steps
	if steps == "" {
		steps = "None"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# My Goal\n%s\n\n# Steps You've Taken So Far\n%s\n\n# Current Active Dom Elements\n%s\n", req.Instruction, steps, req.Elements)
	if len(req.Variables) > 0 {
		b.WriteString("\n# Variables\n")
		for _, name := range req.Variables {
			fmt.Fprintf(&b, "<|%s|>\n", strings.ToUpper(name))
		}
	}
	return []*types.Message{
		types.NewSystemMessage(actSystemPrompt + "\n\n" + toolFormat + userInstructionsSection(userInstructions)),
		types.NewUserMessage(b.String()),
	}
}

func verifyMessages(req VerifyRequest) []*types.Message {
	steps := req.Steps
	if steps == "" {
		steps = "None"
	}
	content := fmt.Sprintf("# My Goal\n%s\n\n# Steps You've Taken So Far\n%s\n", req.Goal, steps)
	if req.Elements != "" {
		content += fmt.Sprintf("\n# Active DOM Elements on the current page\n%s\n", req.Elements)
	}
	return []*types.Message{
		types.NewSystemMessage(verifySystemPrompt + "\n\n" + toolFormat),
		types.NewUserMessage(content),
	}
}

func extractMessages(req ExtractRequest, userInstructions string) []*types.Message {
	source, detail := "DOM elements", "a list of DOM elements"
	if req.TextMode {
		source, detail = "text-rendered webpage", "a text rendering of a webpage"
	}
	system := fmt.Sprintf(`You extract content on behalf of a user. When the user asks for a list, or for all information, extract all of it.

You are given an instruction, a JSON schema and %s. Print the exact text from the %s with all symbols, characters and line breaks as is. Print null or an empty string for fields with no new information. Analyze the input thoroughly so nothing important is missed.

<tool>
<tool_name>print_extracted_data</tool_name>
<arguments>
  <data><![CDATA[ JSON matching the schema ]]></data>
</arguments>
</tool>`, detail, source)

	return []*types.Message{
		types.NewSystemMessage(system + "\n\n" + toolFormat + userInstructionsSection(userInstructions)),
		types.NewUserMessage(fmt.Sprintf("Instruction: %s\nSchema: %s\nDOM: %s", req.Instruction, schemaText(req.Schema), req.Content)),
	}
}

func refineMessages(req RefineRequest) []*types.Message {
	return []*types.Message{
		types.NewSystemMessage(refineSystemPrompt + "\n\n" + toolFormat),
		types.NewUserMessage(fmt.Sprintf("Instruction: %s\nSchema: %s\nPreviously extracted content: %s\nNewly extracted content: %s\nRefined content:",
			req.Instruction, schemaText(req.Schema), indentJSON(req.Previous), indentJSON(req.Latest))),
	}
}

func metadataMessages(req MetadataRequest) []*types.Message {
	return []*types.Message{
		types.NewSystemMessage(metadataSystemPrompt + "\n\n" + toolFormat),
		types.NewUserMessage(fmt.Sprintf("Instruction: %s\nExtracted content: %s\nchunksSeen: %d\nchunksTotal: %d",
			req.Instruction, indentJSON(req.Extracted), req.ChunksSeen, req.ChunksTotal)),
	}
}

func observeMessages(req ObserveRequest, userInstructions string) []*types.Message {
	input, label := "a numbered list of possible elements", "DOM"
	if req.Accessibility {
		input, label = "a hierarchical accessibility tree of the page, a hybrid of the DOM and the accessibility tree, where each node starts with its index", "Accessibility Tree"
	}
	element := "    <element_id>index</element_id>\n    <description>what the element is and what it is for</description>\n"
	if req.ReturnAction {
		element += "    <method>the locator method to interact with it, such as click or fill</method>\n    <args><arg>argument</arg></args>\n"
	}
	system := fmt.Sprintf(`You help the user automate the browser by finding elements that match what the user wants to observe.

You are given an instruction and %s. Return every element that matches the instruction, or no elements if none exist.

<tool>
<tool_name>report_elements</tool_name>
<arguments>
  <elements>
   <element>
%s   </element>
  </elements>
</arguments>
</tool>`, input, element)

	return []*types.Message{
		types.NewSystemMessage(system + "\n\n" + toolFormat + userInstructionsSection(userInstructions)),
		types.NewUserMessage(fmt.Sprintf("instruction: %s\n%s: %s", req.Instruction, label, req.Elements)),
	}
}

func schemaText(schema json.RawMessage) string {
	if len(schema) == 0 {
		return "{}"
	}
	return string(schema)
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
