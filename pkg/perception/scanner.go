package perception

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/entrhq/pagehand/pkg/logging"
)

// DefaultScrollSettle is the pause before every chunk scroll.
const DefaultScrollSettle = 1500 * time.Millisecond

// Chunk is the collection gathered at one scroll offset.
type Chunk struct {
	StartOffset float64
	EndOffset   float64
	dom.Collection
}

// Scanner is the DOM perception strategy. It scrolls containers across their
// extent and collects candidates at each offset.
type Scanner struct {
	drv    Driver
	settle time.Duration
	logger *logging.Logger
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithScrollSettle overrides the pause before each chunk scroll.
func WithScrollSettle(d time.Duration) ScannerOption {
	return func(s *Scanner) { s.settle = d }
}

// WithLogger sets the scanner's logger.
func WithLogger(l *logging.Logger) ScannerOption {
	return func(s *Scanner) { s.logger = l }
}

// NewScanner returns a DOM scanner over drv.
func NewScanner(drv Driver, opts ...ScannerOption) *Scanner {
	s := &Scanner{drv: drv, settle: DefaultScrollSettle}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CollectChunks walks container c from start to end in chunkSize steps,
// collecting at each offset with a running index. When root is nil the
// container's own root is walked and content growing during the walk
// extends end.
func (s *Scanner) CollectChunks(ctx context.Context, c Container, start, end, chunkSize float64, doScroll, scrollBack bool, root *dom.Node) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %v", chunkSize)
	}
	var chunks []Chunk
	index := 0
	finalEnd := end
	for current := start; current <= finalEnd; current += chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if doScroll {
			if err := c.ScrollTo(ctx, current); err != nil {
				return nil, fmt.Errorf("failed to scroll to %v: %w", current, err)
			}
		}
		d, err := s.drv.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to capture snapshot: %w", err)
		}

		target := c.Root(d)
		if root != nil {
			target = relocate(d, root)
		}
		col := dom.Collect(d, dom.NewPathResolver(d), target, index)
		chunks = append(chunks, Chunk{StartOffset: current, EndOffset: current + chunkSize, Collection: col})
		index += col.Len()

		if root == nil && current+chunkSize > end {
			if h := c.ScrollHeight(d); h > finalEnd {
				finalEnd = h
			}
		}
	}
	if scrollBack {
		if err := c.ScrollTo(ctx, 0); err != nil {
			return nil, fmt.Errorf("failed to scroll back: %w", err)
		}
	}
	return chunks, nil
}

// relocate finds n's counterpart in a newer snapshot.
func relocate(d *dom.Document, n *dom.Node) *dom.Node {
	if n.BackendID != 0 {
		if found := d.NodeByBackendID(n.BackendID); found != nil {
			return found
		}
	}
	return n
}

// ProcessOneChunk collects the unseen chunk closest to the current scroll
// position. Chunks are 75% of the window tall.
func (s *Scanner) ProcessOneChunk(ctx context.Context, chunksSeen []int) (*Result, error) {
	d, err := s.drv.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture snapshot: %w", err)
	}
	chunk, all, err := pickChunk(d, chunksSeen)
	if err != nil {
		return nil, err
	}

	page := NewPageContainer(s.drv, s.settle)
	size := page.ViewportHeight(d)
	start := float64(chunk) * size
	chunks, err := s.CollectChunks(ctx, page, start, start, size, true, false, page.Root(d))
	if err != nil {
		return nil, err
	}
	res := combine(chunks)
	res.Chunk = chunk
	res.Chunks = all
	return res, nil
}

func pickChunk(d *dom.Document, seen []int) (int, []int, error) {
	size := d.ChunkHeight()
	if size <= 0 {
		return 0, nil, errors.New("viewport has no height")
	}
	count := int(math.Ceil(d.ScrollHeight() / size))
	all := make([]int, count)
	seenSet := make(map[int]bool, len(seen))
	for _, c := range seen {
		seenSet[c] = true
	}
	best := -1
	pos := d.Viewport.ScrollY
	for i := range all {
		all[i] = i
		if seenSet[i] {
			continue
		}
		if best < 0 || math.Abs(pos-size*float64(i)) < math.Abs(pos-size*float64(best)) {
			best = i
		}
	}
	if best < 0 {
		return 0, all, ErrNoChunksRemaining
	}
	return best, all, nil
}

// ProcessAllChunks collects the whole page, or only the element at
// targetPath. A target that fits in its scroll container's viewport is
// collected in one pass; otherwise its full extent is walked. A target that
// matches nothing falls back to the whole page; an invalid one is an error.
func (s *Scanner) ProcessAllChunks(ctx context.Context, targetPath string) (*Result, error) {
	d, err := s.drv.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture snapshot: %w", err)
	}

	if targetPath != "" {
		target, err := dom.QueryFirst(d, targetPath)
		if err != nil {
			return nil, fmt.Errorf("invalid target: %w", err)
		}
		if target != nil {
			return s.processTarget(ctx, d, target)
		}
		s.logger.Warnf("XPath not found: %s. Using entire doc.", targetPath)
	}

	scrollables, err := s.Scrollables(ctx, d)
	if err != nil {
		return nil, err
	}
	var c Container = NewPageContainer(s.drv, s.settle)
	if len(scrollables) > 0 && scrollables[0] != d.DocumentElement() {
		c = NewElementContainer(s.drv, s.settle, scrollables[0].BackendID)
	}
	start := c.ScrollPosition(d)
	chunks, err := s.CollectChunks(ctx, c, start, c.ScrollHeight(d), c.ViewportHeight(d), true, true, nil)
	if err != nil {
		return nil, err
	}
	return combine(chunks), nil
}

func (s *Scanner) processTarget(ctx context.Context, d *dom.Document, target *dom.Node) (*Result, error) {
	scrollables, err := s.Scrollables(ctx, d)
	if err != nil {
		return nil, err
	}
	var c Container = NewPageContainer(s.drv, s.settle)
	if sc := dom.NearestScrollable(d, scrollables, target); sc != d.DocumentElement() {
		c = NewElementContainer(s.drv, s.settle, sc.BackendID)
	}
	if err := c.ScrollIntoView(ctx, d, target); err != nil {
		return nil, fmt.Errorf("failed to scroll target into view: %w", err)
	}

	d, err = s.drv.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture snapshot: %w", err)
	}
	target = relocate(d, target)
	start := c.ScrollPosition(d)

	var chunks []Chunk
	if target.ScrollHeight <= c.ViewportHeight(d) {
		chunks, err = s.CollectChunks(ctx, c, start, start, 1, true, true, target)
	} else {
		chunks, err = s.CollectChunks(ctx, c, start, start+target.ScrollHeight, c.ViewportHeight(d), true, true, target)
	}
	if err != nil {
		return nil, err
	}
	return combine(chunks), nil
}

// Scrollables returns the document element and every element that passes a
// live scroll probe, tallest content first.
func (s *Scanner) Scrollables(ctx context.Context, d *dom.Document) ([]*dom.Node, error) {
	var out []*dom.Node
	html := d.DocumentElement()
	for _, n := range dom.ScrollCandidates(d) {
		if n == html {
			out = append(out, n)
			continue
		}
		ok, err := s.drv.CanScroll(ctx, n.BackendID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Debugf("Scroll probe failed for node %d: %v", n.BackendID, err)
			continue
		}
		if ok {
			out = append(out, n)
		}
	}
	dom.SortByScrollHeight(out)
	return out, nil
}

// combine joins chunk texts in order and merges their selector maps without
// letting later chunks overwrite earlier indices.
func combine(chunks []Chunk) *Result {
	res := &Result{Selectors: make(map[int][]string), Chunks: []int{0}}
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
		for idx, paths := range c.Selectors {
			if _, ok := res.Selectors[idx]; !ok {
				res.Selectors[idx] = paths
			}
		}
	}
	res.Text = b.String()
	res.ChunkCount = len(chunks)
	return res
}
