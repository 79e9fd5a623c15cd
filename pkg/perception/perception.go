package perception

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/entrhq/pagehand/pkg/a11y"
	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/entrhq/pagehand/pkg/logging"
)

// Result is the shared output of both strategies.
type Result struct {
	// Text is the indexed page rendering handed to the reasoner.
	Text string
	// Selectors maps an index in Text to its path candidates.
	Selectors map[int][]string
	// Chunk is the chunk that was collected, and Chunks every chunk of the
	// page. Whole-page results report a single chunk 0.
	Chunk  int
	Chunks []int
	// ChunkCount is how many scroll offsets were collected.
	ChunkCount int
	// Iframes lists iframe nodes found by the accessibility strategy.
	Iframes []*a11y.Node
}

// Paths returns the candidates for idx.
func (r *Result) Paths(idx int) ([]string, bool) {
	p, ok := r.Selectors[idx]
	return p, ok && len(p) > 0
}

// Indices returns the mapped indices in ascending order.
func (r *Result) Indices() []int {
	out := make([]int, 0, len(r.Selectors))
	for idx := range r.Selectors {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Request selects what a strategy should perceive.
type Request struct {
	// ChunksSeen drives single-chunk perception.
	ChunksSeen []int
	// All requests the whole page, or only TargetPath when set.
	All        bool
	TargetPath string
}

// Perception is a page perception strategy.
type Perception interface {
	Perceive(ctx context.Context, req Request) (*Result, error)
	// Name identifies the strategy in logs and metrics.
	Name() string
}

// DOM is the chunked DOM strategy.
type DOM struct {
	Scanner *Scanner
}

// Name returns "dom".
func (DOM) Name() string { return "dom" }

// Perceive runs ProcessAllChunks or ProcessOneChunk depending on req.
func (p DOM) Perceive(ctx context.Context, req Request) (*Result, error) {
	if req.All {
		return p.Scanner.ProcessAllChunks(ctx, req.TargetPath)
	}
	return p.Scanner.ProcessOneChunk(ctx, req.ChunksSeen)
}

// Accessibility is the accessibility tree strategy. Indices in its text are
// accessibility node ids.
type Accessibility struct {
	Driver  AccessibilityDriver
	Scanner *Scanner
	Logger  *logging.Logger
}

// Name returns "accessibility".
func (Accessibility) Name() string { return "accessibility" }

// Perceive fetches and cleans the tree. Scrollable elements are relabeled
// first, and node ids are mapped to structural paths of their DOM nodes.
func (p Accessibility) Perceive(ctx context.Context, _ Request) (*Result, error) {
	d, err := p.Driver.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture snapshot: %w", err)
	}
	scrollIDs := make(map[int64]bool)
	if p.Scanner != nil {
		scrollables, err := p.Scanner.Scrollables(ctx, d)
		if err != nil {
			return nil, err
		}
		for _, n := range scrollables {
			scrollIDs[n.BackendID] = true
		}
	}

	flat, err := p.Driver.AccessibilityTree(ctx)
	if err != nil {
		p.Logger.Errorf("Error getting accessibility tree: %v", err)
		return nil, fmt.Errorf("failed to fetch accessibility tree: %w", err)
	}
	tree := a11y.BuildTree(a11y.MarkScrollable(flat, scrollIDs), tagResolver(d), p.Logger)

	res := &Result{
		Text:       tree.Simplified,
		Selectors:  make(map[int][]string),
		Chunks:     []int{0},
		ChunkCount: 1,
		Iframes:    tree.Iframes,
	}
	var walk func([]*a11y.Node)
	walk = func(nodes []*a11y.Node) {
		for _, n := range nodes {
			if idx, path := resolveAXNode(d, n); path != "" {
				res.Selectors[idx] = []string{path}
			}
			walk(n.Children)
		}
	}
	walk(tree.Tree)
	walk(tree.Iframes)
	return res, nil
}

// resolveAXNode maps an accessibility node to its index and the structural
// path of its backing DOM node. Nodes without a backend id fall back to
// treating the node id as one.
func resolveAXNode(d *dom.Document, n *a11y.Node) (int, string) {
	idx, err := strconv.Atoi(n.NodeID)
	if err != nil {
		return 0, ""
	}
	backend := n.BackendID
	if backend == 0 {
		backend = int64(idx)
	}
	node := d.NodeByBackendID(backend)
	if node == nil {
		return idx, ""
	}
	return idx, dom.StructuralPath(node)
}

func tagResolver(d *dom.Document) a11y.TagResolver {
	return func(backendID int64) (string, error) {
		n := d.NodeByBackendID(backendID)
		if n == nil {
			return "", fmt.Errorf("no node with backend id %d", backendID)
		}
		return n.Tag(), nil
	}
}

// Facade picks a strategy per operation.
type Facade struct {
	dom  Perception
	tree Perception
}

// NewFacade builds both strategies over drv.
func NewFacade(drv AccessibilityDriver, logger *logging.Logger, opts ...ScannerOption) *Facade {
	scanner := NewScanner(drv, append([]ScannerOption{WithLogger(logger)}, opts...)...)
	return &Facade{
		dom:  DOM{Scanner: scanner},
		tree: Accessibility{Driver: drv, Scanner: scanner, Logger: logger},
	}
}

// DOM returns the chunked DOM strategy.
func (f *Facade) DOM() Perception { return f.dom }

// Select returns the accessibility strategy when useAccessibility is set,
// otherwise the DOM strategy.
func (f *Facade) Select(useAccessibility bool) Perception {
	if useAccessibility {
		return f.tree
	}
	return f.dom
}
