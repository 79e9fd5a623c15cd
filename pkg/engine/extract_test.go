package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/entrhq/pagehand/internal/fakepage"
	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/entrhq/pagehand/pkg/engine"
	"github.com/entrhq/pagehand/pkg/metrics"
	"github.com/entrhq/pagehand/pkg/reasoner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	textPage  = `<html><body><p data-box="0 100 110 20">Hello world</p></body></html>`
	longPage  = `<html><body>` +
		`<p data-box="0 100 200 30">First</p>` +
		`<p data-box="0 700 200 30">Second</p>` +
		`<p data-box="0 1300 200 30">Third</p>` +
		`</body></html>`
	schema = `{"type":"object","properties":{"items":{"type":"array"}}}`
)

func TestExtractPageText(t *testing.T) {
	page := fakepage.New(textPage)
	r := &reasoner.Scripted{}
	e := newEngine(page, r)

	res, err := e.Extract(context.Background(), engine.ExtractOptions{})
	require.NoError(t, err)

	var text engine.PageText
	require.NoError(t, json.Unmarshal(res.Data, &text))
	dashes := strings.Repeat("-", 31)
	assert.Equal(t, dashes+"\nHello world\n"+dashes, text.PageText)
	assert.True(t, res.Completed)
	assert.Equal(t, 1, res.ChunksSeen)
	assert.Equal(t, 1, res.ChunksTotal)

	assert.Empty(t, r.Calls(), "page text needs no reasoner")
	assert.False(t, page.Highlighted(), "the DOM is restored")
	assert.Equal(t, "storeDOM,highlightWords,restoreDOM", methodsOf(page, "storeDOM", "highlightWords", "restoreDOM"))
}

func TestExtractPageTextRestoresDOMOnFailure(t *testing.T) {
	page := fakepage.New(textPage, fakepage.WithFailure("highlightWords", errors.New("script blocked")))
	e := newEngine(page, &reasoner.Scripted{})

	_, err := e.Extract(context.Background(), engine.ExtractOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script blocked")
	assert.Len(t, page.Calls("restoreDOM"), 1)
}

func TestExtractTextMode(t *testing.T) {
	page := fakepage.New(textPage)
	r := &reasoner.Scripted{
		ExtractFunc: func(req reasoner.ExtractRequest) (json.RawMessage, error) {
			return json.RawMessage(`{"greeting":"Hello world"}`), nil
		},
	}
	e := newEngine(page, r)

	res, err := e.Extract(context.Background(), engine.ExtractOptions{
		Instruction:    "get the greeting",
		Schema:         json.RawMessage(schema),
		UseTextExtract: true,
		RequestID:      "req-t",
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"greeting":"Hello world"}`, string(res.Data))
	assert.True(t, res.Completed)
	assert.Equal(t, 1, res.ChunksSeen)
	assert.Equal(t, 1, res.ChunksTotal)
	assert.Empty(t, res.Error)

	calls := r.Calls(reasoner.KindExtract)
	require.Len(t, calls, 1)
	req := calls[0].Request.(reasoner.ExtractRequest)
	assert.True(t, req.TextMode)
	assert.Contains(t, req.Content, "Hello world")
	assert.Equal(t, "req-t", req.RequestID)
	assert.JSONEq(t, schema, string(req.Schema))
}

func TestExtractTextModeRejectsInvalidSelector(t *testing.T) {
	page := fakepage.New(textPage)
	r := &reasoner.Scripted{}
	e := newEngine(page, r)

	_, err := e.Extract(context.Background(), engine.ExtractOptions{
		Instruction:    "get the greeting",
		UseTextExtract: true,
		Selector:       "xpath=//p[",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, dom.ErrUnsupportedXPath)
	assert.Contains(t, err.Error(), "invalid selector")
	assert.Empty(t, page.Calls("storeDOM"), "the page is left untouched")
	assert.Empty(t, r.Calls(reasoner.KindExtract))
}

func TestExtractWalksChunks(t *testing.T) {
	page := fakepage.New(longPage)
	var seen []string
	r := &reasoner.Scripted{
		ExtractFunc: func(req reasoner.ExtractRequest) (json.RawMessage, error) {
			seen = append(seen, req.Content)
			return json.RawMessage(fmt.Sprintf(`{"chunk":%d}`, len(seen))), nil
		},
	}
	e := newEngine(page, r)

	res, err := e.Extract(context.Background(), engine.ExtractOptions{Instruction: "list paragraphs"})
	require.NoError(t, err)

	assert.Len(t, seen, 3)
	assert.True(t, res.Completed)
	assert.Equal(t, 3, res.ChunksSeen)
	assert.Equal(t, 3, res.ChunksTotal)
	assert.JSONEq(t, `{"chunk":3}`, string(res.Data))
	assert.Contains(t, seen[0], "First")

	var progress []string
	for _, c := range r.Calls(reasoner.KindMetadata) {
		req := c.Request.(reasoner.MetadataRequest)
		progress = append(progress, fmt.Sprintf("%d/%d", req.ChunksSeen, req.ChunksTotal))
	}
	assert.Equal(t, []string{"1/3", "2/3", "3/3"}, progress)

	refines := r.Calls(reasoner.KindRefine)
	require.Len(t, refines, 3)
	assert.JSONEq(t, `{}`, string(refines[0].Request.(reasoner.RefineRequest).Previous))
	assert.JSONEq(t, `{"chunk":1}`, string(refines[1].Request.(reasoner.RefineRequest).Previous))
}

func TestExtractStopsWhenComplete(t *testing.T) {
	r := &reasoner.Scripted{
		MetadataFunc: func(reasoner.MetadataRequest) (*reasoner.Metadata, error) {
			return &reasoner.Metadata{Completed: true, Progress: "found everything"}, nil
		},
	}
	e := newEngine(fakepage.New(longPage), r)

	res, err := e.Extract(context.Background(), engine.ExtractOptions{Instruction: "first paragraph"})
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, "found everything", res.Progress)
	assert.Equal(t, 1, res.ChunksSeen)
	assert.Equal(t, 3, res.ChunksTotal)
	assert.Equal(t, 1, r.Count(reasoner.KindExtract))
}

func TestExtractReportsReasonerFailure(t *testing.T) {
	r := &reasoner.Scripted{
		ExtractFunc: func(reasoner.ExtractRequest) (json.RawMessage, error) {
			return nil, errors.New("model overloaded")
		},
	}
	reg := prometheus.NewRegistry()
	e := newEngine(fakepage.New(longPage), r, engine.WithMetrics(metrics.NewCollector("", reg)))

	res, err := e.Extract(context.Background(), engine.ExtractOptions{Instruction: "anything"})
	require.NoError(t, err)

	assert.False(t, res.Completed)
	assert.Equal(t, "extract call failed: model overloaded", res.Error)
	assert.JSONEq(t, `{}`, string(res.Data))
	assert.Equal(t, 0, r.Count(reasoner.KindRefine))

	assert.Equal(t, 1.0, operationCount(t, reg, engine.OpExtract, "failure"))
}

// operationCount reads the operations counter for op and outcome.
func operationCount(t *testing.T, reg *prometheus.Registry, op, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "pagehand_operations_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["operation"] == op && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
