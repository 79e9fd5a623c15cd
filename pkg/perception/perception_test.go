package perception_test

import (
	"context"
	"strings"
	"testing"

	"github.com/entrhq/pagehand/internal/fakepage"
	"github.com/entrhq/pagehand/pkg/a11y"
	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/entrhq/pagehand/pkg/perception"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tallPage = `<html><body><button data-box="0 100 100 30">A</button><button data-box="0 700 100 30">B</button><button data-box="0 1300 100 30">C</button></body></html>`

func newScanner(p *fakepage.Page) *perception.Scanner {
	return perception.NewScanner(p, perception.WithScrollSettle(0))
}

func TestProcessOneChunkPicksNearestUnseen(t *testing.T) {
	ctx := context.Background()
	page := fakepage.New(tallPage)
	s := newScanner(page)

	first, err := s.ProcessOneChunk(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Chunk)
	assert.Equal(t, []int{0, 1, 2}, first.Chunks)
	assert.Equal(t, "0:<button>B</button>\n1:B\n2:<button>A</button>\n3:A\n", first.Text)

	second, err := s.ProcessOneChunk(ctx, []int{0})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Chunk)
	assert.Equal(t, 530.0, page.ScrollY(), "scrolling clamps at the bottom of the page")
	assert.Contains(t, second.Text, "<button>C</button>")
	assert.NotContains(t, second.Text, "<button>A</button>")

	_, err = s.ProcessOneChunk(ctx, []int{0, 1, 2})
	assert.ErrorIs(t, err, perception.ErrNoChunksRemaining)
}

func TestProcessAllChunksWalksWholePage(t *testing.T) {
	page := fakepage.New(tallPage)
	res, err := newScanner(page).ProcessAllChunks(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 3, res.ChunkCount)
	assert.Len(t, res.Selectors, 12)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, res.Indices())
	assert.Equal(t, 12, strings.Count(res.Text, "\n"))
	assert.Equal(t, 0.0, page.ScrollY(), "scrolls back to the top")
}

const feedPage = `<html><body>
<div id="feed" data-style="overflow-y:auto" data-scroll="0 2000 300" data-box="0 0 400 300">
<a href="#1" data-box="0 10 100 20">one</a>
<a href="#2" data-box="0 1500 100 20">two</a>
</div>
<p data-box="0 400 100 20">outside</p>
</body></html>`

func TestProcessAllChunksWithinScrollContainer(t *testing.T) {
	page := fakepage.New(feedPage)
	res, err := newScanner(page).ProcessAllChunks(context.Background(), "xpath=//*[@id='feed']")
	require.NoError(t, err)

	assert.Equal(t, 7, res.ChunkCount)
	assert.Contains(t, res.Text, `<a href="#1">one</a>`)
	assert.Contains(t, res.Text, `<a href="#2">two</a>`)
	assert.NotContains(t, res.Text, "outside")
}

func TestProcessAllChunksSmallTargetIsSingleChunk(t *testing.T) {
	page := fakepage.New(feedPage)
	res, err := newScanner(page).ProcessAllChunks(context.Background(), "//p")
	require.NoError(t, err)

	assert.Equal(t, 1, res.ChunkCount)
	assert.Equal(t, "0:outside\n", res.Text)
}

func TestProcessAllChunksMissingTargetUsesWholePage(t *testing.T) {
	page := fakepage.New(tallPage)
	res, err := newScanner(page).ProcessAllChunks(context.Background(), "//*[@id='nope']")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ChunkCount)
}

func TestScrollablesProbesAndSorts(t *testing.T) {
	ctx := context.Background()
	page := fakepage.New(feedPage)
	d, err := page.Snapshot(ctx)
	require.NoError(t, err)

	got, err := newScanner(page).Scrollables(ctx, d)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "feed", got[0].ID())
	assert.Equal(t, "HTML", got[1].Name)
}

func TestAccessibilityPerception(t *testing.T) {
	page := fakepage.New(`<html><body><button data-box="0 0 50 20">Buy</button></body></html>`,
		fakepage.WithAccessibilityTree([]a11y.AXNode{
			{NodeID: "1", Role: "RootWebArea", Name: "Shop", ChildIDs: []string{"2"}},
			{NodeID: "2", Role: "button", Name: "Buy", ParentID: "1", BackendDOMNodeID: 4},
		}))
	f := perception.NewFacade(page, nil, perception.WithScrollSettle(0))

	p := f.Select(true)
	assert.Equal(t, "accessibility", p.Name())
	res, err := p.Perceive(context.Background(), perception.Request{})
	require.NoError(t, err)

	assert.Equal(t, "[1] RootWebArea: Shop\n  [2] button: Buy\n", res.Text)
	paths, ok := res.Paths(2)
	require.True(t, ok)
	assert.Equal(t, []string{"/html/body[1]/button[1]"}, paths)

	assert.Equal(t, "dom", f.Select(false).Name())
}

func TestDOMPerceptionDispatch(t *testing.T) {
	page := fakepage.New(tallPage)
	p := perception.DOM{Scanner: newScanner(page)}

	one, err := p.Perceive(context.Background(), perception.Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, one.ChunkCount)

	all, err := p.Perceive(context.Background(), perception.Request{All: true})
	require.NoError(t, err)
	assert.Equal(t, 3, all.ChunkCount)
}

func TestCollectChunksStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	page := fakepage.New(tallPage)
	_, err := newScanner(page).ProcessAllChunks(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessAllChunksTargets(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		chunks  int
		text    []string
		absent  []string
		wantErr error
	}{
		{name: "function predicate scopes to container", target: "//div[starts-with(@id,'fe')]", chunks: 7, text: []string{"one", "two"}, absent: []string{"outside"}},
		{name: "positional step", target: "(//a)[2]", chunks: 1, text: []string{"two"}, absent: []string{"one", "outside"}},
		{name: "unclosed predicate", target: "//div[", wantErr: dom.ErrUnsupportedXPath},
		{name: "unclosed string", target: "xpath=//a[@href='#1", wantErr: dom.ErrUnsupportedXPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := fakepage.New(feedPage)
			res, err := newScanner(page).ProcessAllChunks(context.Background(), tt.target)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, page.Calls("scrollTo"), "nothing is scrolled for a bad target")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.chunks, res.ChunkCount)
			for _, s := range tt.text {
				assert.Contains(t, res.Text, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, res.Text, s)
			}
		})
	}
}

const grownPage = `<html><body><button data-box="0 100 100 30">A</button><button data-box="0 700 100 30">B</button><button data-box="0 1300 100 30">C</button><button data-box="0 1900 100 30">D</button></body></html>`

// loadMorePage appends content once the window has scrolled to at, the way
// an infinite feed loads its next page.
type loadMorePage struct {
	*fakepage.Page
	at    float64
	more  string
	grown bool
}

func (p *loadMorePage) ScrollTo(ctx context.Context, container int64, offset float64) error {
	if err := p.Page.ScrollTo(ctx, container, offset); err != nil {
		return err
	}
	if !p.grown && container == perception.WindowContainer && offset >= p.at {
		p.grown = true
		p.SetHTML(p.more)
	}
	return nil
}

func TestCollectChunksFollowsGrowingPage(t *testing.T) {
	page := fakepage.New(tallPage)
	drv := &loadMorePage{Page: page, at: 1200, more: grownPage}
	res, err := perception.NewScanner(drv, perception.WithScrollSettle(0)).ProcessAllChunks(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 4, res.ChunkCount, "the content loaded at the last chunk adds one more")
	assert.Contains(t, res.Text, "<button>D</button>")

	var offsets []string
	for _, c := range page.Calls("scrollTo") {
		offsets = append(offsets, c.Args[1])
	}
	assert.Equal(t, []string{"0", "600", "1200", "1800", "0"}, offsets, "the walk stops at the new end and scrolls back")
}
