package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/entrhq/pagehand/pkg/perception"
	"github.com/entrhq/pagehand/pkg/reasoner"
	"github.com/entrhq/pagehand/pkg/types"
)

// ExtractOptions describe one extract operation.
type ExtractOptions struct {
	// Instruction is what to extract. Without one the page text is returned
	// and the reasoner is not called.
	Instruction string
	// Schema is the JSON schema of the result.
	Schema json.RawMessage
	// UseTextExtract renders the page as a text grid and extracts from it
	// in one call instead of chunk by chunk.
	UseTextExtract bool
	// Selector limits text extraction to one element.
	Selector         string
	DOMSettleTimeout time.Duration
	RequestID        string
}

// ExtractResult is the outcome of an extract operation.
type ExtractResult struct {
	Data        json.RawMessage `json:"data"`
	Completed   bool            `json:"completed"`
	Progress    string          `json:"progress,omitempty"`
	ChunksSeen  int             `json:"chunksSeen"`
	ChunksTotal int             `json:"chunksTotal"`
	// Error is set when extraction stopped early; Data holds what was
	// gathered until then.
	Error string `json:"error,omitempty"`
}

// PageText is the result of an extract without instruction.
type PageText struct {
	PageText string `json:"page_text"`
}

// Extract pulls data described by opts from the page.
func (e *Engine) Extract(ctx context.Context, opts ExtractOptions) (*ExtractResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearOverlay(ctx)

	requestID := newRequestID(opts.RequestID)
	start := e.begin(OpExtract, requestID, opts.Instruction)

	var (
		res *ExtractResult
		err error
	)
	switch {
	case opts.Instruction == "":
		var text string
		text, err = e.pageText(ctx, "", opts.DOMSettleTimeout)
		if err == nil {
			data, _ := json.Marshal(PageText{PageText: text})
			res = &ExtractResult{Data: data, Completed: true, ChunksSeen: 1, ChunksTotal: 1}
		}
	case opts.UseTextExtract:
		res, err = e.textExtract(ctx, requestID, opts)
	default:
		res, err = e.domExtract(ctx, requestID, opts)
	}
	if err != nil {
		e.events.Emit(types.NewErrorEvent(OpExtract, requestID, err))
		e.end(OpExtract, requestID, start, false, err.Error())
		return nil, err
	}
	e.end(OpExtract, requestID, start, res.Error == "", res.Progress)
	return res, nil
}

// pageText renders the page, or the element at selector, as a text grid.
// Words are measured with the DOM temporarily rewritten into per-word
// spans; the original DOM is restored before returning.
func (e *Engine) pageText(ctx context.Context, selector string, settle time.Duration) (string, error) {
	e.settle(ctx, settle)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := stripXPathPrefix(selector)
	if target != "" {
		if _, err := dom.CompileXPath(target); err != nil {
			return "", fmt.Errorf("invalid selector: %w", err)
		}
	}

	stored, err := e.page.StoreDOM(ctx, target)
	if err != nil {
		return "", fmt.Errorf("failed to store DOM: %w", err)
	}
	boxes, err := e.measureWords(ctx, target)
	if rerr := e.page.RestoreDOM(ctx, stored, target); rerr != nil {
		e.logger.Errorf("Failed to restore DOM: %v", rerr)
		if err == nil {
			err = fmt.Errorf("failed to restore DOM: %w", rerr)
		}
	}
	if err != nil {
		return "", err
	}

	c, err := e.targetContainer(ctx, target)
	if err != nil {
		return "", err
	}
	words := dedupAnnotations(annotate(boxes, c))
	return formatText(words, c.Width), nil
}

// measureWords collects the word boxes of every candidate under target.
func (e *Engine) measureWords(ctx context.Context, target string) ([]dom.WordBox, error) {
	page, err := e.perceive(ctx, e.perception.DOM(), OpExtract, "", perception.Request{All: true, TargetPath: target})
	if err != nil {
		return nil, fmt.Errorf("failed to process DOM: %w", err)
	}
	e.logger.Debugf("Selector map has %d entries", len(page.Selectors))
	if err := e.page.HighlightWords(ctx, target); err != nil {
		return nil, fmt.Errorf("failed to create text bounding boxes: %w", err)
	}

	var boxes []dom.WordBox
	for _, idx := range page.Indices() {
		paths, ok := page.Paths(idx)
		if !ok {
			continue
		}
		words, err := e.page.WordBoxes(ctx, paths[0])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Debugf("No word boxes for %s: %v", paths[0], err)
			continue
		}
		boxes = append(boxes, words...)
	}
	return boxes, nil
}

// targetContainer measures the element at target, or the window when
// target is empty or missing.
func (e *Engine) targetContainer(ctx context.Context, target string) (container, error) {
	d, err := e.page.Snapshot(ctx)
	if err != nil {
		return container{}, fmt.Errorf("failed to capture snapshot: %w", err)
	}
	window := container{Width: d.Viewport.Width, Height: d.Viewport.Height}
	if target == "" {
		return window, nil
	}
	n, err := dom.QueryFirst(d, target)
	if err != nil {
		return container{}, fmt.Errorf("invalid selector: %w", err)
	}
	if n == nil || n.Box == nil {
		return window, nil
	}
	return container{Width: n.Box.Width, Height: n.Box.Height, OffsetX: n.Box.X, OffsetY: n.Box.Y}, nil
}

// textExtract extracts from the text grid of the page in a single pass.
func (e *Engine) textExtract(ctx context.Context, requestID string, opts ExtractOptions) (*ExtractResult, error) {
	text, err := e.pageText(ctx, opts.Selector, opts.DOMSettleTimeout)
	if err != nil {
		return nil, err
	}
	res := &ExtractResult{Data: json.RawMessage("{}"), ChunksSeen: 1, ChunksTotal: 1}
	if err := e.extractChunk(ctx, requestID, opts, text, true, res); err != nil {
		return e.stopExtract(ctx, res, err)
	}
	if res.Completed {
		e.logger.Infof("Extraction completed successfully")
	} else {
		e.logger.Infof("Extraction incomplete after processing all data")
	}
	return res, nil
}

// domExtract extracts chunk by chunk until the reasoner reports completion
// or every chunk was seen.
func (e *Engine) domExtract(ctx context.Context, requestID string, opts ExtractOptions) (*ExtractResult, error) {
	res := &ExtractResult{Data: json.RawMessage("{}")}
	var seen []int
	e.settle(ctx, opts.DOMSettleTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := e.perceive(ctx, e.perception.DOM(), OpExtract, requestID, perception.Request{ChunksSeen: seen})
		if err != nil {
			if errors.Is(err, perception.ErrNoChunksRemaining) {
				return res, nil
			}
			return e.stopExtract(ctx, res, fmt.Errorf("failed to process DOM: %w", err))
		}
		seen = append(seen, page.Chunk)
		res.ChunksSeen = len(seen)
		res.ChunksTotal = len(page.Chunks)
		e.logger.Debugf("Extracting chunk %d, %d left of %d", page.Chunk, len(page.Chunks)-len(seen), len(page.Chunks))

		if err := e.extractChunk(ctx, requestID, opts, page.Text, false, res); err != nil {
			return e.stopExtract(ctx, res, err)
		}
		if res.Completed || len(seen) >= len(page.Chunks) {
			return res, nil
		}
		e.events.Emit(types.NewChunkAdvanceEvent(OpExtract, requestID, page.Chunk, len(page.Chunks)))
		e.settle(ctx, opts.DOMSettleTimeout)
	}
}

// extractChunk runs extract, refine and the metadata check on content and
// folds the outcome into res. res.ChunksSeen, counting the current chunk,
// and res.ChunksTotal are passed to the metadata check.
func (e *Engine) extractChunk(ctx context.Context, requestID string, opts ExtractOptions, content string, textMode bool, res *ExtractResult) error {
	latest, err := e.reasoner.Extract(ctx, reasoner.ExtractRequest{
		RequestID:   requestID,
		Instruction: opts.Instruction,
		Content:     content,
		Schema:      opts.Schema,
		TextMode:    textMode,
	})
	if err != nil {
		return fmt.Errorf("extract call failed: %w", err)
	}
	refined, err := e.reasoner.Refine(ctx, reasoner.RefineRequest{
		RequestID:   requestID,
		Instruction: opts.Instruction,
		Schema:      opts.Schema,
		Previous:    res.Data,
		Latest:      latest,
	})
	if err != nil {
		return fmt.Errorf("refine call failed: %w", err)
	}
	meta, err := e.reasoner.CheckMetadata(ctx, reasoner.MetadataRequest{
		RequestID:   requestID,
		Instruction: opts.Instruction,
		Extracted:   refined,
		ChunksSeen:  res.ChunksSeen,
		ChunksTotal: res.ChunksTotal,
	})
	if err != nil {
		return fmt.Errorf("metadata call failed: %w", err)
	}
	res.Data = refined
	res.Completed = meta.Completed
	res.Progress = meta.Progress
	return nil
}

// stopExtract ends an extraction early, keeping what was gathered.
// Cancellation is returned as an error.
func (e *Engine) stopExtract(ctx context.Context, res *ExtractResult, err error) (*ExtractResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	e.logger.Errorf("Extraction stopped: %v", err)
	res.Error = err.Error()
	return res, nil
}
