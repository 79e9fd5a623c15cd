package engine

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/entrhq/pagehand/pkg/dom"
)

const (
	// charWidth is the assumed pixel width of one rendered character.
	charWidth = 5
	// dedupDistance is how close two identical words must be to count as
	// the same word.
	dedupDistance = 15
	// lineEpsilon groups words whose baselines differ by less than this.
	lineEpsilon = 1
	// boldHeight marks phrases taller than this as bold.
	boldHeight = 25
)

var (
	wordPattern = regexp.MustCompile(`[a-zA-Z0-9]`)

	// attachedPunctuation joins the preceding word without a space.
	attachedPunctuation = map[string]bool{
		".": true, ",": true, `"`: true, "'": true, ":": true, ";": true,
		"!": true, "?": true, "{": true, "}": true, "’": true, "”": true,
	}
)

type point struct {
	X float64
	Y float64
}

// annotation is a word placed relative to its container.
type annotation struct {
	Text string
	// BottomLeft is in container pixels; Normalized divides it by the
	// container size.
	BottomLeft point
	Normalized point
	Width      float64
	Height     float64
}

// container is the area word positions are measured against.
type container struct {
	Width   float64
	Height  float64
	OffsetX float64
	OffsetY float64
}

// annotate converts word boxes to annotations, dropping blank words.
func annotate(boxes []dom.WordBox, c container) []annotation {
	out := make([]annotation, 0, len(boxes))
	for _, b := range boxes {
		if strings.TrimSpace(b.Text) == "" {
			continue
		}
		left := b.Left - c.OffsetX
		bottom := b.Top - c.OffsetY + b.Height
		out = append(out, annotation{
			Text:       b.Text,
			BottomLeft: point{X: left, Y: bottom},
			Normalized: point{X: safeDiv(left, c.Width), Y: safeDiv(bottom, c.Height)},
			Width:      b.Width,
			Height:     b.Height,
		})
	}
	return out
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// dedupAnnotations drops words whose text matches an already kept word
// less than dedupDistance away. Words are visited grouped by text, in order
// of first appearance.
func dedupAnnotations(in []annotation) []annotation {
	var order []string
	groups := make(map[string][]annotation)
	for _, a := range in {
		if _, ok := groups[a.Text]; !ok {
			order = append(order, a.Text)
		}
		groups[a.Text] = append(groups[a.Text], a)
	}

	var out []annotation
	for _, text := range order {
		var kept []annotation
		for _, a := range groups[text] {
			dup := false
			for _, k := range kept {
				if math.Hypot(k.BottomLeft.X-a.BottomLeft.X, k.BottomLeft.Y-a.BottomLeft.Y) < dedupDistance {
					dup = true
					break
				}
			}
			if !dup {
				kept = append(kept, a)
			}
		}
		out = append(out, kept...)
	}
	return out
}

// formatText renders annotations as a character grid that keeps the page
// layout: words are placed by their normalized x on lines ordered by
// baseline, and larger vertical gaps become blank lines. The grid is framed
// by dashed lines.
func formatText(annotations []annotation, pageWidth float64) string {
	sorted := append([]annotation(nil), annotations...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BottomLeft.Y < sorted[j].BottomLeft.Y })

	var keys []float64
	lines := make(map[float64][]annotation)
	for _, a := range sorted {
		key, found := a.BottomLeft.Y, false
		for _, k := range keys {
			if math.Abs(k-a.BottomLeft.Y) < lineEpsilon {
				key, found = k, true
				break
			}
		}
		if !found {
			keys = append(keys, key)
		}
		lines[key] = append(lines[key], a)
	}
	sort.Float64s(keys)

	final := make([][]annotation, 0, len(keys))
	for _, k := range keys {
		line := lines[k]
		sort.SliceStable(line, func(i, j int) bool { return line[i].BottomLeft.X < line[j].BottomLeft.X })
		final = append(final, groupWords(line))
	}

	startX := func(a annotation) int {
		return int(math.Round(a.Normalized.X * (pageWidth / charWidth)))
	}
	maxEnd := 0
	for _, line := range final {
		for _, a := range line {
			if end := startX(a) + utf8.RuneCountInString(a.Text); end > maxEnd {
				maxEnd = end
			}
		}
	}
	width := max(maxEnd+20, 1)

	baselines := make([]float64, len(final))
	for i, line := range final {
		baselines[i] = math.Inf(1)
		for _, a := range line {
			baselines[i] = math.Min(baselines[i], a.BottomLeft.Y)
		}
	}
	var gaps []float64
	for i := 1; i < len(baselines); i++ {
		gaps = append(gaps, baselines[i]-baselines[i-1])
	}
	spacing := median(gaps)

	var canvas [][]rune
	newRow := func() {
		row := make([]rune, width)
		for i := range row {
			row[i] = ' '
		}
		canvas = append(canvas, row)
	}
	for i, line := range final {
		if i > 0 {
			gap := baselines[i] - baselines[i-1]
			if spacing > 0 && gap > 1.2*spacing {
				for extra := max(int(math.Round(gap/spacing))-1, 0); extra > 0; extra-- {
					newRow()
				}
			}
		}
		newRow()
		row := canvas[len(canvas)-1]
		for _, a := range line {
			x := startX(a)
			for _, r := range a.Text {
				if x >= 0 && x < width {
					row[x] = r
				}
				x++
			}
		}
	}

	rows := make([]string, len(canvas))
	for i, row := range canvas {
		rows[i] = strings.TrimRight(string(row), " \t\n\r")
	}
	text := strings.TrimRight(strings.Join(rows, "\n"), " \t\n\r")
	frame := strings.Repeat("-", width)
	return frame + "\n" + text + "\n" + frame
}

// groupWords merges adjacent words of similar height that are at most one
// character width apart.
func groupWords(line []annotation) []annotation {
	var out, group []annotation
	for _, a := range line {
		if len(group) == 0 {
			group = append(group, a)
			continue
		}
		last := group[len(group)-1]
		charW := last.Width / float64(max(utf8.RuneCountInString(last.Text), 1))
		near := a.BottomLeft.X <= last.BottomLeft.X+last.Width+charW
		if math.Abs(a.Height-group[0].Height) <= 4 && near {
			group = append(group, a)
			continue
		}
		if merged := mergeGroup(group); merged.Text != "" {
			out = append(out, merged)
		}
		group = []annotation{a}
	}
	if len(group) > 0 {
		out = append(out, mergeGroup(group))
	}
	return out
}

// mergeGroup joins a group into one annotation positioned at its first
// word. Tall phrases are wrapped in ** markers.
func mergeGroup(group []annotation) annotation {
	var b strings.Builder
	heights := make([]float64, len(group))
	width := 0.0
	for i, w := range group {
		if b.Len() > 0 && !attachedPunctuation[w.Text] {
			b.WriteByte(' ')
		}
		b.WriteString(w.Text)
		heights[i] = w.Height
		width += w.Width
	}
	text := b.String()
	if wordPattern.MatchString(text) && median(heights) > boldHeight {
		text = "**" + text + "**"
	}
	return annotation{
		Text:       text,
		BottomLeft: group[0].BottomLeft,
		Normalized: group[0].Normalized,
		Width:      width,
		Height:     group[0].Height,
	}
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
