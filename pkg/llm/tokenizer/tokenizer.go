// Package tokenizer counts and trims prompt text in model tokens.
package tokenizer

import (
	"fmt"

	"github.com/entrhq/pagehand/pkg/types"
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when the model has no known encoding.
const DefaultEncoding = "cl100k_base"

// messageOverhead approximates the framing tokens around each chat message.
const messageOverhead = 4

// Tokenizer wraps a tiktoken encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New returns a tokenizer for the default encoding.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", DefaultEncoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// ForModel returns a tokenizer for model, falling back to the default encoding.
func ForModel(model string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return New()
	}
	return &Tokenizer{enc: enc}, nil
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessagesTokens returns the approximate prompt size of messages.
func (t *Tokenizer) CountMessagesTokens(messages []*types.Message) int {
	total := 3
	for _, m := range messages {
		total += messageOverhead + t.CountTokens(string(m.Role)) + t.CountTokens(m.Content)
	}
	return total
}

// Truncate returns text cut to at most maxTokens tokens and whether it was cut.
func (t *Tokenizer) Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return text, false
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, false
	}
	return t.enc.Decode(tokens[:maxTokens]), true
}
