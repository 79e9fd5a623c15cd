package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/entrhq/pagehand/internal/fakepage"
	"github.com/entrhq/pagehand/pkg/config"
	"github.com/entrhq/pagehand/pkg/dom"
	"github.com/entrhq/pagehand/pkg/engine"
	"github.com/entrhq/pagehand/pkg/pagehand"
	"github.com/entrhq/pagehand/pkg/reasoner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	shopURL  = "https://shop.test/"
	shopPage = `<html><body><button data-box="0 100 100 30">Submit</button><p data-box="0 200 200 20">Total 12 EUR</p></body></html>`
)

// elementIndex returns the index of the first element line containing
// fragment, or -1.
func elementIndex(elements, fragment string) int {
	for _, line := range strings.Split(elements, "\n") {
		idx, rest, ok := strings.Cut(line, ":")
		if !ok || !strings.Contains(rest, fragment) {
			continue
		}
		if n, err := strconv.Atoi(idx); err == nil {
			return n
		}
	}
	return -1
}

func clickSubmit(req reasoner.ActRequest) (*reasoner.Decision, error) {
	n := elementIndex(req.Elements, "<button>Submit</button>")
	if n < 0 {
		return &reasoner.Decision{Skip: true, Reason: "no submit button"}, nil
	}
	return &reasoner.Decision{
		ElementIndex: n,
		Method:       reasoner.Method{Kind: reasoner.MethodClick},
		Args:         []string{},
		Step:         "Clicked submit",
		Completed:    true,
	}, nil
}

// newHand binds a fake page at shopURL to a scripted reasoner, wired to the
// runner's event sink.
func newHand(t *testing.T, r *Runner, sr *reasoner.Scripted, opts ...fakepage.Option) (*pagehand.Pagehand, *fakepage.Page) {
	t.Helper()
	page := fakepage.New("<html><body></body></html>", append([]fakepage.Option{fakepage.WithRoute(shopURL, shopPage)}, opts...)...)
	es := config.DefaultEngineSettings()
	es.ScrollSettleMs = 0
	es.EnableCaching = false
	hand, err := pagehand.New(page,
		pagehand.WithReasoner(sr),
		pagehand.WithEngineSettings(es),
		pagehand.WithDOMSettleTimeout(50*time.Millisecond),
		pagehand.WithNavigationGuard(func(string) bool { return true }),
		pagehand.WithEventSink(r.EventSink()),
	)
	require.NoError(t, err)
	return hand, page
}

func newRunner(t *testing.T, c *Config, opts ...Option) (*Runner, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	r, err := New(c, append([]Option{WithConsole(NewConsoleWriter(LogLevelNormal, &buf))}, opts...)...)
	require.NoError(t, err)
	return r, &buf
}

func TestRunTask(t *testing.T) {
	dir := t.TempDir()
	c := &Config{
		Task: "checkout",
		URL:  shopURL,
		Steps: []Step{
			{Act: "click submit"},
			{AllText: true},
			{Observe: "the submit button", OnlyVisible: true},
		},
		Artifacts: ArtifactConfig{Enabled: true, OutputDir: dir},
	}
	r, out := newRunner(t, c)

	sr := &reasoner.Scripted{
		DecideFunc: clickSubmit,
		ObserveFunc: func(req reasoner.ObserveRequest) ([]reasoner.Observation, error) {
			return []reasoner.Observation{{
				ElementIndex: elementIndex(req.Elements, "<button>Submit</button>"),
				Description:  "submit",
				Method:       reasoner.Method{Kind: reasoner.MethodClick},
			}}, nil
		},
	}
	hand, page := newHand(t, r, sr)

	summary, err := r.Run(context.Background(), hand)
	require.NoError(t, err)

	assert.Equal(t, statusSuccess, summary.Status)
	require.Len(t, summary.Steps, 4)
	assert.Equal(t, StepGoto, summary.Steps[0].Kind)
	assert.Equal(t, "open "+shopURL, summary.Steps[0].Label)
	assert.Equal(t, shopURL, summary.Steps[1].URL)
	assert.Len(t, page.Calls("click"), 1)

	var text engine.PageText
	require.NoError(t, json.Unmarshal(summary.Steps[2].Data, &text))
	assert.Contains(t, text.PageText, "Total 12 EUR")

	require.Len(t, summary.Steps[3].Observations, 1)
	assert.Equal(t, "xpath=/html/body[1]/button[1]", summary.Steps[3].Observations[0].Selector)

	assert.Equal(t, 4, summary.Metrics.Succeeded)
	assert.GreaterOrEqual(t, summary.Metrics.Decisions, 1)
	assert.GreaterOrEqual(t, summary.Metrics.Commands, 1)
	assert.GreaterOrEqual(t, summary.Metrics.Perceptions, 1)

	for _, name := range []string{ExecutionFile, SummaryFile, ResultsFile, MetricsFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	results, err := os.ReadFile(filepath.Join(dir, ResultsFile))
	require.NoError(t, err)
	var outputs []StepOutput
	require.NoError(t, json.Unmarshal(results, &outputs))
	require.Len(t, outputs, 2)
	assert.Equal(t, StepExtract, outputs[0].Kind)
	assert.Equal(t, StepObserve, outputs[1].Kind)

	assert.Contains(t, out.String(), "Status: ✓ SUCCESS")
}

func TestRunStopsOnFailure(t *testing.T) {
	c := &Config{
		URL:   shopURL,
		Steps: []Step{{Act: "click the missing link"}, {AllText: true}},
	}
	r, _ := newRunner(t, c)
	hand, _ := newHand(t, r, &reasoner.Scripted{
		DecideFunc: func(reasoner.ActRequest) (*reasoner.Decision, error) {
			return &reasoner.Decision{Skip: true, Reason: "no such link"}, nil
		},
	})

	summary, err := r.Run(context.Background(), hand)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2 (act: click the missing link) failed")

	assert.Equal(t, statusFailed, summary.Status)
	require.Len(t, summary.Steps, 2, "the extract step never ran")
	assert.False(t, summary.Steps[1].Success)
	assert.Equal(t, 1, summary.Metrics.Failed)
}

func TestRunContinueOnFailure(t *testing.T) {
	c := &Config{
		URL:               shopURL,
		ContinueOnFailure: true,
		Steps:             []Step{{Extract: "the total", Schema: map[string]interface{}{"type": "object"}}, {AllText: true}},
	}
	r, out := newRunner(t, c)
	hand, _ := newHand(t, r, &reasoner.Scripted{
		ExtractFunc: func(reasoner.ExtractRequest) (json.RawMessage, error) {
			return nil, errors.New("model overloaded")
		},
	})

	summary, err := r.Run(context.Background(), hand)
	require.NoError(t, err)

	assert.Equal(t, statusPartialSuccess, summary.Status)
	require.Len(t, summary.Steps, 3)
	assert.Equal(t, "extract call failed: model overloaded", summary.Steps[1].Error)
	require.NotNil(t, summary.Steps[1].Completed)
	assert.False(t, *summary.Steps[1].Completed)
	assert.True(t, summary.Steps[2].Success)
	assert.Contains(t, out.String(), "PARTIAL SUCCESS")
}

func TestRunRejectsDeniedNavigation(t *testing.T) {
	c := &Config{
		ContinueOnFailure: true,
		Steps:             []Step{{Goto: "https://evil.test/"}, {AllText: true}},
		Constraints:       ConstraintConfig{AllowedURLs: []string{"https://shop.test/**"}},
	}
	r, _ := newRunner(t, c)
	hand, page := newHand(t, r, &reasoner.Scripted{})

	summary, err := r.Run(context.Background(), hand)
	require.Error(t, err)

	assert.Contains(t, err.Error(), "url_pattern")
	require.Len(t, summary.Steps, 1, "a violation ends the run even when failures are tolerated")
	assert.Contains(t, summary.Steps[0].Error, "https://evil.test/")
	assert.Empty(t, page.Calls("goto"))
}

func TestRunRejectsActThatLeavesAllowedURLs(t *testing.T) {
	c := &Config{
		URL:         shopURL,
		Steps:       []Step{{Act: "click submit"}},
		Constraints: ConstraintConfig{AllowedURLs: []string{"https://shop.test/**"}},
	}
	r, _ := newRunner(t, c)
	hand, _ := newHand(t, r, &reasoner.Scripted{DecideFunc: clickSubmit},
		fakepage.WithClickHandler(func(p *fakepage.Page, _ *dom.Node) (string, error) {
			p.Navigate("https://evil.test/landing")
			return "", nil
		}))

	summary, err := r.Run(context.Background(), hand)
	require.Error(t, err)
	require.Len(t, summary.Steps, 2)
	assert.False(t, summary.Steps[1].Success)
	assert.Contains(t, summary.Steps[1].Error, "https://evil.test/landing")
	assert.Equal(t, "https://evil.test/landing", summary.Steps[1].URL)
}

func TestRunMaxSteps(t *testing.T) {
	c := &Config{
		Steps:       []Step{{Goto: shopURL}, {AllText: true}},
		Constraints: ConstraintConfig{MaxSteps: 1},
	}
	r, _ := newRunner(t, c)
	hand, _ := newHand(t, r, &reasoner.Scripted{})

	summary, err := r.Run(context.Background(), hand)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum step count exceeded (1)")
	assert.Len(t, summary.Steps, 1)
}

func TestRunCanceled(t *testing.T) {
	c := &Config{URL: shopURL}
	r, _ := newRunner(t, c)
	hand, _ := newHand(t, r, &reasoner.Scripted{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := r.Run(ctx, hand)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution canceled")
	assert.Empty(t, summary.Steps)
}

type recordingReporter struct {
	started  []string
	finished []StepResult
}

func (r *recordingReporter) StepStarted(index int, label string) {
	r.started = append(r.started, strconv.Itoa(index)+" "+label)
}

func (r *recordingReporter) StepFinished(result StepResult) {
	r.finished = append(r.finished, result)
}

func TestRunReportsSteps(t *testing.T) {
	rep := &recordingReporter{}
	r, _ := newRunner(t, &Config{URL: shopURL, Steps: []Step{{Name: "page text", AllText: true}}}, WithReporter(rep))
	hand, _ := newHand(t, r, &reasoner.Scripted{})

	_, err := r.Run(context.Background(), hand)
	require.NoError(t, err)

	assert.Equal(t, []string{"1 open " + shopURL, "2 page text"}, rep.started)
	require.Len(t, rep.finished, 2)
	assert.True(t, rep.finished[1].Success)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(&Config{})
	assert.EqualError(t, err, "invalid configuration: task needs a url or at least one step")

	_, err = New(&Config{URL: shopURL, Constraints: ConstraintConfig{AllowedURLs: []string{"[oops"}}})
	assert.ErrorContains(t, err, "failed to create constraint manager")
}
