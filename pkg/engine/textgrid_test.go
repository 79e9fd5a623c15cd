package engine

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func word(text string, x, y, w, h float64) annotation {
	return annotation{Text: text, BottomLeft: point{X: x, Y: y}, Width: w, Height: h}
}

func framed(width int, body string) string {
	frame := strings.Repeat("-", width)
	return frame + "\n" + body + "\n" + frame
}

func TestFormatTextOrdersLines(t *testing.T) {
	got := formatText([]annotation{
		word("Subtitle", 0, 140, 40, 15),
		word("Title", 0, 100, 25, 15),
	}, 1280)
	assert.Equal(t, framed(28, "Title\nSubtitle"), got)
}

func TestFormatTextInsertsBlankLinesForGaps(t *testing.T) {
	got := formatText([]annotation{
		word("A", 0, 100, 5, 15),
		word("B", 0, 120, 5, 15),
		word("C", 0, 200, 5, 15),
	}, 1280)
	assert.Equal(t, framed(21, "A\nB\n\nC"), got)
}

func TestFormatTextPlacesWordsByPosition(t *testing.T) {
	a := word("right", 500, 100, 25, 15)
	a.Normalized = point{X: 0.5}
	got := formatText([]annotation{a}, 1000)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Repeat(" ", 100)+"right", lines[1])
	assert.Len(t, lines[0], 125)
}

func TestFormatTextEmpty(t *testing.T) {
	assert.Equal(t, framed(20, ""), formatText(nil, 1280))
}

func TestGroupWords(t *testing.T) {
	t.Run("joins punctuation", func(t *testing.T) {
		got := groupWords([]annotation{
			word("Hello", 0, 100, 25, 15),
			word(",", 25, 100, 5, 15),
			word("world", 35, 100, 25, 15),
		})
		require.Len(t, got, 1)
		assert.Equal(t, "Hello, world", got[0].Text)
		assert.Equal(t, 55.0, got[0].Width)
	})

	t.Run("bolds tall phrases", func(t *testing.T) {
		got := groupWords([]annotation{word("Big", 0, 100, 30, 30), word("News", 35, 100, 40, 30)})
		require.Len(t, got, 1)
		assert.Equal(t, "**Big News**", got[0].Text)
	})

	t.Run("does not bold punctuation", func(t *testing.T) {
		got := groupWords([]annotation{word("--", 0, 100, 10, 30)})
		require.Len(t, got, 1)
		assert.Equal(t, "--", got[0].Text)
	})

	t.Run("splits on height and distance", func(t *testing.T) {
		got := groupWords([]annotation{
			word("Big", 0, 100, 30, 30),
			word("small", 31, 100, 25, 15),
			word("far", 300, 100, 15, 15),
		})
		require.Len(t, got, 3)
		assert.Equal(t, "**Big**", got[0].Text)
		assert.Equal(t, "small", got[1].Text)
		assert.Equal(t, "far", got[2].Text)
	})
}

func TestAnnotate(t *testing.T) {
	got := annotate([]dom.WordBox{
		{Text: "word", Left: 110, Top: 220, Width: 30, Height: 15},
		{Text: "  ", Left: 0, Top: 0, Width: 5, Height: 5},
	}, container{Width: 200, Height: 100, OffsetX: 100, OffsetY: 200})

	require.Len(t, got, 1)
	assert.Equal(t, point{X: 10, Y: 35}, got[0].BottomLeft)
	assert.InDelta(t, 0.05, got[0].Normalized.X, 1e-9)
	assert.InDelta(t, 0.35, got[0].Normalized.Y, 1e-9)
}

func TestAnnotateZeroContainer(t *testing.T) {
	got := annotate([]dom.WordBox{{Text: "x", Left: 10, Top: 10, Width: 5, Height: 5}}, container{})
	require.Len(t, got, 1)
	assert.Equal(t, point{}, got[0].Normalized)
}

func TestDedupAnnotations(t *testing.T) {
	got := dedupAnnotations([]annotation{
		word("a", 0, 0, 5, 5),
		word("b", 0, 0, 5, 5),
		word("a", 10, 0, 5, 5),
		word("a", 20, 0, 5, 5),
	})
	texts := make([]string, len(got))
	for i, a := range got {
		texts[i] = fmt.Sprintf("%s@%v", a.Text, a.BottomLeft.X)
	}
	assert.Equal(t, []string{"a@0", "a@20", "b@0"}, texts)
}

func TestDedupAnnotationsProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) annotation {
			return word(
				rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, "text"),
				rapid.Float64Range(0, 100).Draw(t, "x"),
				rapid.Float64Range(0, 100).Draw(t, "y"),
				5, 5,
			)
		}), 0, 30).Draw(t, "words")

		out := dedupAnnotations(in)
		if len(out) > len(in) {
			t.Fatalf("dedup grew %d words to %d", len(in), len(out))
		}
		dist := func(a, b annotation) float64 {
			return math.Hypot(a.BottomLeft.X-b.BottomLeft.X, a.BottomLeft.Y-b.BottomLeft.Y)
		}
		for i, a := range out {
			for _, b := range out[i+1:] {
				if a.Text == b.Text && dist(a, b) < dedupDistance {
					t.Fatalf("kept two %q words %.2f apart", a.Text, dist(a, b))
				}
			}
		}
		for _, a := range in {
			covered := false
			for _, k := range out {
				if k == a || (k.Text == a.Text && dist(a, k) < dedupDistance) {
					covered = true
					break
				}
			}
			if !covered {
				t.Fatalf("word %q at %v has no kept counterpart", a.Text, a.BottomLeft)
			}
		}
	})
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, median(nil))
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
}
