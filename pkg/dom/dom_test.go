package dom_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/entrhq/pagehand/pkg/dom/domtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const basicPage = `<html><body>
<div id="main" data-box="0 0 800 400">
<button id="go" class="primary" type="submit" data-box="10 10 100 30">Go</button>
<p data-box="10 50 300 20">Hello world</p>
<span data-box="10 80 100 20" data-style="visibility:hidden">Hidden</span>
<a href="/next" data-box="10 900 100 20">Far</a>
</div>
</body></html>`

func collectBody(t *testing.T, d *dom.Document, offset int) dom.Collection {
	t.Helper()
	return dom.Collect(d, dom.NewPathResolver(d), d.Body(), offset)
}

func TestCollectBasicPage(t *testing.T) {
	d := domtest.MustBuild(t, basicPage, domtest.Options{})
	c := collectBody(t, d, 0)

	want := "0:<button id=\"go\" class=\"primary\" type=\"submit\">Go</button>\n" +
		"1:Go\n" +
		"2:<p>Hello world</p>\n" +
		"3:Hello world\n"
	assert.Equal(t, want, c.Text)
	assert.Equal(t, []int{0, 1, 2, 3}, c.Indices())

	assert.Equal(t, []string{
		"/html/body[1]/div[1]/button[1]",
		`//*[@id="go"]`,
		"//button[@type='submit']",
	}, c.Selectors[0])
	assert.Equal(t, []string{
		"/html/body[1]/div[1]/button[1]",
		"//button[@type='submit']",
	}, c.Selectors[1], "text runs resolve to their parent element")
	assert.Equal(t, []string{
		"/html/body[1]/div[1]/p[1]",
		"//html/body/div/p",
	}, c.Selectors[2])
}

func TestCollectOffset(t *testing.T) {
	d := domtest.MustBuild(t, basicPage, domtest.Options{})
	c := collectBody(t, d, 7)
	assert.Equal(t, []int{7, 8, 9, 10}, c.Indices())
	assert.True(t, strings.HasPrefix(c.Text, "7:<button"))
}

func TestCollectRootChildrenOrder(t *testing.T) {
	page := `<html><body><button data-box="0 0 50 20">A</button><button data-box="0 30 50 20">B</button></body></html>`
	d := domtest.MustBuild(t, page, domtest.Options{})
	c := collectBody(t, d, 0)

	// Direct children of the root come off the stack last first; their
	// subtrees are visited in document order.
	assert.Equal(t, "0:<button>B</button>\n1:B\n2:<button>A</button>\n3:A\n", c.Text)
}

func TestCollectSkipsObscuredAndDisabled(t *testing.T) {
	page := `<html><body>
<button id="under" data-box="0 0 100 100">Under</button>
<div data-z="1" data-box="0 0 100 100">cover</div>
<button id="off" disabled data-box="0 200 100 20">Off</button>
<button id="dim" data-box="0 300 100 20" data-style="opacity:0">Dim</button>
<div data-box="0 400 100 20"></div>
</body></html>`
	d := domtest.MustBuild(t, page, domtest.Options{})
	c := collectBody(t, d, 0)

	assert.NotContains(t, c.Text, `id="under"`)
	assert.NotContains(t, c.Text, `id="off"`)
	assert.NotContains(t, c.Text, `id="dim"`)
	assert.NotContains(t, c.Text, "Dim")
	assert.Contains(t, c.Text, "<div>cover</div>")
	// Text visibility does not hit-test, so the covered label still shows.
	assert.Contains(t, c.Text, ":Under\n")
	assert.Contains(t, c.Text, ":Off\n")
}

func TestCollectRendersDataAttributes(t *testing.T) {
	page := `<html><body><input type="text" value="abc" data-testid="q" aria-label="Search" data-box="0 0 200 20"></body></html>`
	d := domtest.MustBuild(t, page, domtest.Options{})
	c := collectBody(t, d, 0)
	assert.Equal(t, `0:<input aria-label="Search" type="text" value="abc" data-testid="q"></input>`+"\n", c.Text)
}

func TestClassifier(t *testing.T) {
	d := domtest.MustBuild(t, `<html><body>
<div role="button" data-box="0 0 10 10">x</div>
<div aria-role="menu" data-box="0 20 10 10"><span>a</span><span>b</span></div>
<div role="banner" data-box="0 40 10 10"><b>x</b></div>
<span aria-disabled="true" data-box="0 60 10 10">y</span>
<img data-box="0 80 10 10">
</body></html>`, domtest.Options{})
	divs := d.ElementsByTag("DIV")
	require.Len(t, divs, 3)

	assert.True(t, dom.IsInteractive(divs[0]))
	assert.True(t, dom.IsLeaf(divs[0]))
	assert.True(t, dom.IsInteractive(divs[1]))
	assert.False(t, dom.IsLeaf(divs[1]))
	assert.False(t, dom.IsInteractive(divs[2]))
	assert.False(t, dom.IsLeaf(divs[2]))

	span := d.ElementsByTag("SPAN")[2]
	assert.False(t, dom.IsActive(span))

	img := d.ElementsByTag("IMG")[0]
	assert.False(t, dom.IsLeaf(img), "childless elements have empty text")
	assert.True(t, dom.IsVisible(d, img))
}

func TestVisibilityRespectsViewportAndScroll(t *testing.T) {
	page := `<html><body>
<div data-style="overflow-y:auto" data-scroll="200 1000 300" data-box="0 0 500 300">
<a href="#a" data-box="0 250 100 20">A</a>
</div>
<a href="#b" data-box="0 1000 100 20">B</a>
</body></html>`

	d := domtest.MustBuild(t, page, domtest.Options{})
	links := d.ElementsByTag("A")
	require.Len(t, links, 2)
	assert.Equal(t, 50.0, links[0].Box.Y)
	assert.True(t, dom.IsVisible(d, links[0]))
	assert.False(t, dom.IsVisible(d, links[1]))

	scrolled := domtest.MustBuild(t, page, domtest.Options{Viewport: dom.Viewport{Width: 1280, Height: 800, ScrollY: 600}})
	assert.True(t, dom.IsVisible(scrolled, scrolled.ElementsByTag("A")[1]))
}

func TestQuery(t *testing.T) {
	d := domtest.MustBuild(t, basicPage, domtest.Options{})
	button := d.ElementsByTag("BUTTON")[0]
	p := d.ElementsByTag("P")[0]

	tests := []struct {
		expr string
		want *dom.Node
	}{
		{"/html/body[1]/div[1]/button[1]", button},
		{"//*[@id='go']", button},
		{`//*[@id="go"]`, button},
		{"xpath=//button[@type='submit' and @class='primary']", button},
		{"//html/body/div/p", p},
		{"//div//p[1]", p},
		{"//p[@data-missing]", nil},
		{"/html/body[2]", nil},
		{"//button[contains(@class,'prim')]", button},
		{"(//div)[1]/p", p},
		{"//p/text()/..", p},
		{"//div/*[last()]/preceding-sibling::p", p},
		{"//*[normalize-space(.)='Go']", button},
		{"//button/@type", button},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := dom.QueryFirst(d, tt.expr)
			require.NoError(t, err)
			assert.Same(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "xpath=", "//a[@href='x'", "//div["} {
		_, err := dom.Query(d, bad)
		assert.ErrorIs(t, err, dom.ErrUnsupportedXPath, bad)
	}
}

func TestIDPath(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"go", `//*[@id="go"]`},
		{"it's", `//*[@id="it's"]`},
		{`say "hi"`, `//*[@id='say "hi"']`},
		{`a'b"c`, `//*[@id=concat('a',"'",'b"c')]`},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			target := dom.NewElement("div", dom.Attr{Name: "id", Value: tt.id})
			body := dom.NewElement("body")
			body.AppendChild(dom.NewElement("div", dom.Attr{Name: "id", Value: tt.id + "x"}))
			body.AppendChild(target)
			d := dom.NewDocument(dom.NewElement("html").AppendChild(body), "", domtest.DefaultViewport)

			path := dom.IDPath(target)
			assert.Equal(t, tt.want, path)
			got, err := dom.Query(d, path)
			require.NoError(t, err)
			assert.Equal(t, []*dom.Node{target}, got)
		})
	}
	assert.Empty(t, dom.IDPath(dom.NewElement("div")))
}

func TestEscapeXPathString(t *testing.T) {
	assert.Equal(t, "'abc'", dom.EscapeXPathString("abc"))
	assert.Equal(t, `"it's"`, dom.EscapeXPathString("it's"))
	assert.Equal(t, `concat('a',"'",'b"c')`, dom.EscapeXPathString(`a'b"c`))
	assert.Equal(t, `concat('',"''",'x"')`, dom.EscapeXPathString(`''x"`))
}

func TestEscapeXPathStringRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		value := rapid.StringMatching(`[a-z'" =/\]\[]{0,12}`).Draw(t, "value")

		body := dom.NewElement("body")
		target := dom.NewElement("span", dom.Attr{Name: "title", Value: value})
		body.AppendChild(dom.NewElement("span", dom.Attr{Name: "title", Value: value + "x"}))
		body.AppendChild(target)
		d := dom.NewDocument(dom.NewElement("html").AppendChild(body), "", domtest.DefaultViewport)

		got, err := dom.Query(d, "//span[@title="+dom.EscapeXPathString(value)+"]")
		if err != nil {
			t.Fatalf("query failed for %q: %v", value, err)
		}
		if len(got) != 1 || got[0] != target {
			t.Fatalf("value %q matched %d nodes", value, len(got))
		}
	})
}

func genPage(t *rapid.T) string {
	n := rapid.IntRange(1, 12).Draw(t, "items")
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < n; i++ {
		tag := rapid.SampledFrom([]string{"button", "p", "a", "div"}).Draw(t, "tag")
		text := rapid.StringMatching(`[a-z]{0,6}`).Draw(t, "text")
		nested := rapid.Bool().Draw(t, "nested")
		y := i * 40
		if nested {
			fmt.Fprintf(&b, `<div data-box="0 %d 300 30"><%s data-box="0 %d 200 30">%s</%s></div>`, y, tag, y, text, tag)
		} else {
			fmt.Fprintf(&b, `<%s type="t%d" data-box="0 %d 200 30">%s</%s>`, tag, i%3, y, text, tag)
		}
	}
	b.WriteString("</body></html>")
	return b.String()
}

func TestCollectIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		page := genPage(t)
		first, err := domtest.Build(page, domtest.Options{})
		if err != nil {
			t.Fatal(err)
		}
		second, err := domtest.Build(page, domtest.Options{})
		if err != nil {
			t.Fatal(err)
		}

		a := dom.Collect(first, dom.NewPathResolver(first), first.Body(), 0)
		b := dom.Collect(second, dom.NewPathResolver(second), second.Body(), 0)
		if a.Text != b.Text {
			t.Fatalf("text differs:\n%s\n---\n%s", a.Text, b.Text)
		}
		for idx, paths := range a.Selectors {
			if strings.Join(paths, "|") != strings.Join(b.Selectors[idx], "|") {
				t.Fatalf("paths for %d differ", idx)
			}
		}
	})
}

func TestStructuralPathIsSound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d, err := domtest.Build(genPage(t), domtest.Options{})
		if err != nil {
			t.Fatal(err)
		}
		c := dom.Collect(d, dom.NewPathResolver(d), d.Body(), 0)
		for idx, n := range c.Nodes {
			want := n
			if n.Type == dom.TextNode {
				want = n.ParentElement()
			}
			got, err := dom.Query(d, c.Selectors[idx][0])
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 || got[0] != want {
				t.Fatalf("index %d: %q matched %d nodes", idx, c.Selectors[idx][0], len(got))
			}
			last := c.Selectors[idx][len(c.Selectors[idx])-1]
			first, err := dom.QueryFirst(d, last)
			if err != nil {
				t.Fatal(err)
			}
			if first != want {
				t.Fatalf("index %d: attribute path %q does not select the node first", idx, last)
			}
		}
	})
}

func TestComponentString(t *testing.T) {
	d := domtest.MustBuild(t, `<html><body><a id="x1" class="btn" href="/buy" title="Buy"
  data-box="0 0 10 10">  Buy
   now </a></body></html>`, domtest.Options{})
	a := d.ElementsByTag("A")[0]
	assert.Equal(t, `<a href="/buy" title="Buy"> Buy now </a>`, dom.ComponentString(a))
}

func TestRadioLabel(t *testing.T) {
	d := domtest.MustBuild(t, `<html><body>
<label for="r1">One</label><input type="radio" id="r1">
<label>Two <input type="radio" id="r2"></label>
<div><input type="radio" id="r3"><label>Three</label></div>
<div><label>Four</label><input type="radio" id="r4"></div>
<div><input type="radio" id="r5"></div>
</body></html>`, domtest.Options{})

	inputs := d.ElementsByTag("INPUT")
	require.Len(t, inputs, 5)
	text := func(n *dom.Node) string {
		if n == nil {
			return ""
		}
		return strings.TrimSpace(n.TextContent())
	}
	assert.Equal(t, "One", text(dom.RadioLabel(d, inputs[0])))
	assert.Equal(t, "Two", text(dom.RadioLabel(d, inputs[1])))
	assert.Equal(t, "Three", text(dom.RadioLabel(d, inputs[2])))
	assert.Equal(t, "Four", text(dom.RadioLabel(d, inputs[3])))
	assert.Nil(t, dom.RadioLabel(d, inputs[4]))
	assert.True(t, dom.IsRadio(inputs[0]))
}

func TestScrollCandidates(t *testing.T) {
	d := domtest.MustBuild(t, `<html><body>
<div id="feed" data-style="overflow-y:scroll" data-scroll="0 3000 400" data-box="0 0 500 400"><a href="#" data-box="0 10 50 10">x</a></div>
<div id="flat" data-style="overflow-y:auto" data-scroll="0 100 100" data-box="0 500 500 100"></div>
</body></html>`, domtest.Options{})

	cands := dom.ScrollCandidates(d)
	require.Len(t, cands, 2)
	assert.Equal(t, "HTML", cands[0].Name)
	assert.Equal(t, "feed", cands[1].ID())

	dom.SortByScrollHeight(cands)
	assert.Equal(t, "feed", cands[0].ID())

	link := d.ElementsByTag("A")[0]
	assert.Same(t, cands[0], dom.NearestScrollable(d, cands, link))
	assert.Same(t, d.DocumentElement(), dom.NearestScrollable(d, nil, link))
}

func TestElementFromPoint(t *testing.T) {
	d := domtest.MustBuild(t, `<html><body>
<div id="a" data-box="0 0 100 100"><span id="b" data-box="10 10 20 20">x</span></div>
<div id="c" data-style="display:none" data-box="0 0 100 100"></div>
</body></html>`, domtest.Options{})

	assert.Equal(t, "b", d.ElementFromPoint(15, 15).ID())
	assert.Equal(t, "a", d.ElementFromPoint(50, 50).ID())
	assert.Nil(t, d.ElementFromPoint(500, 500))
}
