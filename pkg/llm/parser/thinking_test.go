package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(p *ThinkingParser, chunks ...string) (thinking, message string) {
	for _, c := range chunks {
		th, msg := p.Parse(c)
		if th != nil {
			thinking += th.Content
		}
		if msg != nil {
			message += msg.Content
		}
	}
	th, msg := p.Flush()
	if th != nil {
		thinking += th.Content
	}
	if msg != nil {
		message += msg.Content
	}
	return thinking, message
}

func TestThinkingParser(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []string
		thinking string
		message  string
	}{
		{
			name:    "plain message",
			chunks:  []string{"hello ", "world"},
			message: "hello world",
		},
		{
			name:     "thinking then tool call",
			chunks:   []string{"<thinking>look at ", "the page</thinking>", "<tool>x</tool>"},
			thinking: "look at the page",
			message:  "<tool>x</tool>",
		},
		{
			name:     "short think tag",
			chunks:   []string{"<think>hmm</think>answer"},
			thinking: "hmm",
			message:  "answer",
		},
		{
			name:     "tag split across chunks",
			chunks:   []string{"<thin", "king>a</thi", "nking>b"},
			thinking: "a",
			message:  "b",
		},
		{
			name:     "comparison operators inside thinking",
			chunks:   []string{"<thinking>", "if x>3 and i<10 ", "</thinking>", "done"},
			thinking: "if x>3 and i<10 ",
			message:  "done",
		},
		{
			name:    "unterminated tag is flushed",
			chunks:  []string{"a <b"},
			message: "a <b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thinking, message := collect(NewThinkingParser(), tt.chunks...)
			assert.Equal(t, tt.thinking, thinking)
			assert.Equal(t, tt.message, message)
		})
	}
}

func TestThinkingParserReset(t *testing.T) {
	p := NewThinkingParser()
	p.Parse("<thinking>partial")
	assert.True(t, p.IsInThinking())

	p.Reset()
	assert.False(t, p.IsInThinking())
	_, msg := p.Parse("fresh")
	assert.Equal(t, "fresh", msg.Content)
}
