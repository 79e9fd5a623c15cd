package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/entrhq/pagehand/pkg/reasoner"
	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("attempt: %w", newError(KindUnresolvableTarget, "resolve", errors.New("gone")))

	assert.True(t, IsKind(err, KindUnresolvableTarget))
	assert.False(t, IsKind(err, KindCommandExecution))
	assert.Equal(t, "attempt: resolve: unresolvable_target: gone", err.Error())
	assert.Equal(t, KindUnresolvableTarget, kindOf(err))
	assert.Equal(t, KindCommandExecution, kindOf(errors.New("plain")))

	assert.True(t, KindUnresolvableTarget.Retryable())
	assert.True(t, KindCommandExecution.Retryable())
	assert.False(t, KindUnsupportedCommand.Retryable())
	assert.False(t, KindReasonerProtocol.Retryable())
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestFillVariables(t *testing.T) {
	args := []string{"<|USER|> and <|USER|>", "<|OTHER|>", "plain"}
	got := fillVariables(args, map[string]string{"user": "ada"})

	assert.Equal(t, []string{"ada and ada", "<|OTHER|>", "plain"}, got)
	assert.Equal(t, "<|USER|> and <|USER|>", args[0], "input is not modified")
	assert.Equal(t, []string{}, fillVariables(nil, nil))
}

func TestVariableNames(t *testing.T) {
	assert.Nil(t, variableNames(nil))
	assert.Equal(t, []string{"a", "b"}, variableNames(map[string]string{"b": "2", "a": "1"}))
}

func TestElementLine(t *testing.T) {
	text := "0:<button>B</button>\n1:B\n10:<a>Next</a>\n"
	assert.Equal(t, "B", elementLine(text, 1))
	assert.Equal(t, "<a>Next</a>", elementLine(text, 10))
	assert.Equal(t, "Element not found", elementLine(text, 5))
}

func TestNarrative(t *testing.T) {
	d := &reasoner.Decision{Method: reasoner.Method{Kind: reasoner.MethodFill}, Step: "Typed the name", Why: "the form needs it"}
	assert.Equal(t,
		"## Step: Typed the name\n  Element: <input></input>\n  Action: fill\n  Reasoning: the form needs it\n",
		narrative(d, "<input></input>"))
}

func TestAppendStep(t *testing.T) {
	assert.Equal(t, "a\n", appendStep("", "a\n"))
	assert.Equal(t, "a\nb", appendStep("a", "b"))
	assert.Equal(t, "a\nb", appendStep("a\n", "b"))
}

func TestStripXPathPrefix(t *testing.T) {
	assert.Equal(t, "/html/body[1]", stripXPathPrefix(" xpath=/html/body[1]"))
	assert.Equal(t, "//a", stripXPathPrefix("//a"))
}

func TestKeyDelayRange(t *testing.T) {
	for range 200 {
		d := keyDelay()
		assert.GreaterOrEqual(t, d.Milliseconds(), int64(25))
		assert.LessOrEqual(t, d.Milliseconds(), int64(75))
	}
}

func TestSelfHealInstruction(t *testing.T) {
	tests := []struct {
		method, description, want string
	}{
		{"click", "the submit button", "click the submit button"},
		{"click", "Click the submit button", "Click the submit button"},
		{"fill", "", "fill"},
		{"", "the search box", "the search box"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, selfHealInstruction(tt.method, tt.description))
	}
}
