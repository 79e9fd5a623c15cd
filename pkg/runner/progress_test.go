package runner

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/entrhq/pagehand/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(t *testing.T, m progressModel, msg tea.Msg) (progressModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	pm, ok := next.(progressModel)
	require.True(t, ok)
	return pm, cmd
}

func TestProgressModelTracksSteps(t *testing.T) {
	m := newProgressModel("checkout", nil)

	m, _ = update(t, m, stepStartedMsg{index: 1, label: "act: click buy"})
	m, _ = update(t, m, engineEventMsg{event: types.NewPerceiveEvent("act", "r1", 1, 3)})
	view := m.View()
	assert.Contains(t, view, "checkout")
	assert.Contains(t, view, "[1] act: click buy")
	assert.Contains(t, view, "act: reading chunk 2/3")

	m, _ = update(t, m, engineEventMsg{event: types.NewErrorEvent("act", "r1", nil)})
	assert.Contains(t, m.View(), "act: reading chunk 2/3", "events without a stage keep the last one")

	m, _ = update(t, m, stepFinishedMsg{result: StepResult{Index: 1, Label: "act: click buy", Success: true, Duration: 1200 * time.Millisecond}})
	m, _ = update(t, m, stepStartedMsg{index: 2, label: "observe: pay"})
	m, _ = update(t, m, stepFinishedMsg{result: StepResult{Index: 2, Label: "observe: pay", Error: "rate limited"}})

	view = m.View()
	assert.Contains(t, view, "✓ [1] act: click buy (1.2s)")
	assert.Contains(t, view, "✗ [2] observe: pay: rate limited")
	assert.NotContains(t, view, "reading chunk")
}

func TestProgressModelQuits(t *testing.T) {
	m := newProgressModel("checkout", nil)
	m, _ = update(t, m, stepStartedMsg{index: 1, label: "act: click"})

	m, cmd := update(t, m, progressDoneMsg{})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.NotContains(t, m.View(), "act: click", "the spinner line is gone once done")
}

func TestProgressModelCtrlCCancels(t *testing.T) {
	canceled := false
	m := newProgressModel("checkout", func() { canceled = true })
	m, _ = update(t, m, stepStartedMsg{index: 1, label: "act: click"})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, canceled)
	assert.Contains(t, m.View(), "canceling...")
}

func TestDescribeStage(t *testing.T) {
	assert.Equal(t, "extract: starting", describeStage(types.NewOperationStartEvent("extract", "r", "price")))
	assert.Equal(t, "act: Clicked buy", describeStage(types.NewDecideEvent("act", "r", "Clicked buy")))
	assert.Equal(t, "act: click", describeStage(types.NewExecuteEvent("act", "r", "click")))
	assert.Equal(t, "act: checking the goal", describeStage(types.NewVerifyEvent("act", "r", true)))
	assert.Equal(t, "extract: scrolling to chunk 3/4", describeStage(types.NewChunkAdvanceEvent("extract", "r", 2, 4)))
	assert.Empty(t, describeStage(types.NewOperationEndEvent("act", "r", "done", true)))
	assert.Empty(t, describeStage(nil))
}
