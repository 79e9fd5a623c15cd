package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/pagehand/pkg/engine"
)

// Artifact file names.
const (
	ExecutionFile = "execution.json"
	SummaryFile   = "summary.md"
	ResultsFile   = "results.json"
	MetricsFile   = "metrics.json"
)

// ArtifactWriter handles writing execution artifacts
type ArtifactWriter struct {
	outputDir string
}

// NewArtifactWriter creates a new artifact writer
func NewArtifactWriter(outputDir string) *ArtifactWriter {
	return &ArtifactWriter{
		outputDir: outputDir,
	}
}

// OutputDir returns the directory artifacts are written to.
func (w *ArtifactWriter) OutputDir() string { return w.outputDir }

// WriteAll writes every artifact.
func (w *ArtifactWriter) WriteAll(summary *ExecutionSummary) error {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := w.WriteExecutionJSON(summary); err != nil {
		return fmt.Errorf("failed to write execution JSON: %w", err)
	}

	if err := w.WriteSummaryMarkdown(summary); err != nil {
		return fmt.Errorf("failed to write summary markdown: %w", err)
	}

	if err := w.WriteResultsJSON(summary); err != nil {
		return fmt.Errorf("failed to write results JSON: %w", err)
	}

	if err := w.WriteMetricsJSON(summary); err != nil {
		return fmt.Errorf("failed to write metrics JSON: %w", err)
	}

	return nil
}

func (w *ArtifactWriter) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if writeErr := os.WriteFile(filepath.Join(w.outputDir, name), data, 0600); writeErr != nil {
		return fmt.Errorf("failed to write %s: %w", name, writeErr)
	}
	return nil
}

// WriteExecutionJSON writes the full execution summary as JSON
func (w *ArtifactWriter) WriteExecutionJSON(summary *ExecutionSummary) error {
	return w.writeJSON(ExecutionFile, summary)
}

// WriteResultsJSON writes the data returned by extract and observe steps.
func (w *ArtifactWriter) WriteResultsJSON(summary *ExecutionSummary) error {
	return w.writeJSON(ResultsFile, summary.Results())
}

// WriteMetricsJSON writes execution metrics as JSON
func (w *ArtifactWriter) WriteMetricsJSON(summary *ExecutionSummary) error {
	return w.writeJSON(MetricsFile, summary.Metrics)
}

// WriteSummaryMarkdown writes a human-readable markdown summary
func (w *ArtifactWriter) WriteSummaryMarkdown(summary *ExecutionSummary) error {
	path := filepath.Join(w.outputDir, SummaryFile)

	var md strings.Builder

	md.WriteString("# Pagehand Execution Summary\n\n")
	md.WriteString(fmt.Sprintf("**Task:** %s\n\n", summary.Task))
	if summary.URL != "" {
		md.WriteString(fmt.Sprintf("**URL:** %s\n\n", summary.URL))
	}
	md.WriteString(fmt.Sprintf("**Status:** %s\n\n", summary.Status))
	md.WriteString(fmt.Sprintf("**Started:** %s\n\n", summary.StartTime.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Completed:** %s\n\n", summary.EndTime.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Duration:** %s\n\n", summary.Duration))

	md.WriteString("## Result\n\n")
	if summary.Error != "" {
		md.WriteString(fmt.Sprintf("❌ **Error:** %s\n\n", summary.Error))
	} else {
		md.WriteString("✅ **Success**\n\n")
	}

	if len(summary.Steps) > 0 {
		md.WriteString("## Steps\n\n")
		for _, step := range summary.Steps {
			status := "✅"
			if !step.Success {
				status = "❌"
			}
			md.WriteString(fmt.Sprintf("%s **%d. %s** (%s)\n", status, step.Index, step.Label, step.Duration.Round(time.Millisecond)))
			if step.Message != "" {
				md.WriteString(fmt.Sprintf("   %s\n", step.Message))
			}
			if step.Error != "" {
				md.WriteString(fmt.Sprintf("   Error: %s\n", step.Error))
			}
		}
		md.WriteString("\n")
	}

	md.WriteString("## Metrics\n\n")
	md.WriteString(fmt.Sprintf("- **Steps:** %d\n", summary.Metrics.Steps))
	md.WriteString(fmt.Sprintf("- **Succeeded:** %d\n", summary.Metrics.Succeeded))
	md.WriteString(fmt.Sprintf("- **Failed:** %d\n", summary.Metrics.Failed))
	md.WriteString(fmt.Sprintf("- **Reasoner Decisions:** %d\n", summary.Metrics.Decisions))
	md.WriteString(fmt.Sprintf("- **Browser Commands:** %d\n", summary.Metrics.Commands))
	md.WriteString(fmt.Sprintf("- **Chunks Perceived:** %d\n", summary.Metrics.Perceptions))

	if writeErr := os.WriteFile(path, []byte(md.String()), 0600); writeErr != nil {
		return fmt.Errorf("failed to write summary markdown: %w", writeErr)
	}

	return nil
}

// ExecutionSummary contains a complete summary of a run
type ExecutionSummary struct {
	Task      string           `json:"task"`
	URL       string           `json:"url,omitempty"`
	Status    string           `json:"status"`
	Error     string           `json:"error,omitempty"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Duration  time.Duration    `json:"duration"`
	Steps     []StepResult     `json:"steps"`
	Metrics   ExecutionMetrics `json:"metrics"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index    int           `json:"index"`
	Kind     StepKind      `json:"kind"`
	Label    string        `json:"label"`
	Success  bool          `json:"success"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	URL      string        `json:"url,omitempty"`
	Duration time.Duration `json:"duration"`

	Data         json.RawMessage        `json:"data,omitempty"`
	Observations []engine.ObserveResult `json:"observations,omitempty"`
	Completed    *bool                  `json:"completed,omitempty"`
}

// StepOutput is an entry of results.json.
type StepOutput struct {
	Index int             `json:"index"`
	Label string          `json:"label"`
	Kind  StepKind        `json:"kind"`
	Data  json.RawMessage `json:"data"`
}

// Results returns the outputs of the extract and observe steps in order.
func (s *ExecutionSummary) Results() []StepOutput {
	out := []StepOutput{}
	for _, step := range s.Steps {
		switch step.Kind {
		case StepExtract:
			if step.Data != nil {
				out = append(out, StepOutput{Index: step.Index, Label: step.Label, Kind: step.Kind, Data: step.Data})
			}
		case StepObserve:
			data, err := json.Marshal(step.Observations)
			if err != nil {
				continue
			}
			out = append(out, StepOutput{Index: step.Index, Label: step.Label, Kind: step.Kind, Data: data})
		}
	}
	return out
}

// ExecutionMetrics counts steps and the engine events seen during a run.
type ExecutionMetrics struct {
	Steps       int `json:"steps"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Decisions   int `json:"decisions"`
	Commands    int `json:"commands"`
	Perceptions int `json:"perceptions"`
	Retries     int `json:"retries"`
}
