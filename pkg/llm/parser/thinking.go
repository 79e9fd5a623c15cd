// Package parser separates reasoning blocks from answer text in LLM streams.
package parser

import (
	"strings"

	"github.com/entrhq/pagehand/pkg/llm"
)

// thinkingTags maps recognised opening and closing tags to the state they enter.
var thinkingTags = map[string]bool{
	"<thinking>":  true,
	"</thinking>": false,
	"<think>":     true,
	"</think>":    false,
}

// ThinkingParser splits streamed content into thinking and message chunks.
// Tags may span chunk boundaries, so a partial tag is buffered until '>'
// arrives or another '<' proves it was plain text.
type ThinkingParser struct {
	text       strings.Builder
	tag        strings.Builder
	inThinking bool
	inTag      bool
}

// NewThinkingParser creates a new thinking parser.
func NewThinkingParser() *ThinkingParser {
	return &ThinkingParser{}
}

// Parse consumes one chunk of content. Either result may be nil.
func (p *ThinkingParser) Parse(content string) (thinkingChunk, messageChunk *llm.StreamChunk) {
	var out chunkPair
	for _, ch := range content {
		switch {
		case ch == '<':
			if p.inTag {
				// the earlier '<' never became a tag
				out.add(p.chunk(p.takeTag()))
			}
			out.add(p.chunk(p.takeText()))
			p.inTag = true
			p.tag.WriteRune(ch)
		case ch == '>' && p.inTag:
			p.tag.WriteRune(ch)
			tag := p.takeTag()
			p.inTag = false
			if state, ok := thinkingTags[tag]; ok {
				p.inThinking = state
				continue
			}
			out.add(p.chunk(tag))
		case p.inTag:
			p.tag.WriteRune(ch)
		default:
			p.text.WriteRune(ch)
		}
	}
	out.add(p.chunk(p.takeText()))
	return out.thinking, out.message
}

// Flush emits anything still buffered, including an unterminated tag.
func (p *ThinkingParser) Flush() (thinkingChunk, messageChunk *llm.StreamChunk) {
	var out chunkPair
	if p.inTag {
		out.add(p.chunk(p.takeTag()))
		p.inTag = false
	}
	out.add(p.chunk(p.takeText()))
	return out.thinking, out.message
}

// IsInThinking returns true if currently parsing thinking content.
func (p *ThinkingParser) IsInThinking() bool {
	return p.inThinking
}

// Reset resets the parser state for a new stream.
func (p *ThinkingParser) Reset() {
	p.text.Reset()
	p.tag.Reset()
	p.inThinking = false
	p.inTag = false
}

func (p *ThinkingParser) takeText() string {
	s := p.text.String()
	p.text.Reset()
	return s
}

func (p *ThinkingParser) takeTag() string {
	s := p.tag.String()
	p.tag.Reset()
	return s
}

func (p *ThinkingParser) chunk(text string) *llm.StreamChunk {
	if text == "" {
		return nil
	}
	t := llm.ContentTypeMessage
	if p.inThinking {
		t = llm.ContentTypeThinking
	}
	return &llm.StreamChunk{Content: text, Type: t}
}

type chunkPair struct {
	thinking *llm.StreamChunk
	message  *llm.StreamChunk
}

func (c *chunkPair) add(chunk *llm.StreamChunk) {
	if chunk == nil {
		return
	}
	target := &c.message
	if chunk.Type == llm.ContentTypeThinking {
		target = &c.thinking
	}
	if *target == nil {
		*target = chunk
		return
	}
	(*target).Content += chunk.Content
}
