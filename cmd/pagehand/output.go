package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/alecthomas/chroma/v2/quick"

	"github.com/entrhq/pagehand/pkg/runner"
)

// taskResults is one task's entry when several tasks ran.
type taskResults struct {
	Task    string              `json:"task"`
	Status  string              `json:"status"`
	Results []runner.StepOutput `json:"results"`
}

// resultsJSON renders the extract and observe outputs. A single task prints
// its outputs directly. It returns nil when no task produced any.
func resultsJSON(summaries []*runner.ExecutionSummary) ([]byte, error) {
	var tasks []taskResults
	found := false
	for _, s := range summaries {
		if s == nil {
			continue
		}
		results := s.Results()
		found = found || len(results) > 0
		tasks = append(tasks, taskResults{Task: s.Task, Status: s.Status, Results: results})
	}
	if !found {
		return nil, nil
	}

	var v interface{} = tasks
	if len(summaries) == 1 {
		v = tasks[0].Results
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal results: %w", err)
	}
	return data, nil
}

func highlightJSON(w io.Writer, data []byte, color bool) error {
	if !color {
		_, err := fmt.Fprintln(w, string(data))
		return err
	}
	if err := quick.Highlight(w, string(data), "json", "terminal256", "monokai"); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}
