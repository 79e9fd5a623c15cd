package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a task file: a start URL and the steps to run on it.
type Config struct {
	// Task names the run in artifacts and the console.
	Task string `yaml:"task" json:"task"`

	// URL is visited before the first step when set.
	URL string `yaml:"url" json:"url"`

	Steps []Step `yaml:"steps" json:"steps"`

	// ContinueOnFailure runs the remaining steps after a failed one.
	ContinueOnFailure bool `yaml:"continue_on_failure" json:"continue_on_failure"`

	Constraints ConstraintConfig `yaml:"constraints" json:"constraints"`
	Artifacts   ArtifactConfig   `yaml:"artifacts" json:"artifacts"`
	Logging     LoggingConfig    `yaml:"logging" json:"logging"`
}

// StepKind identifies what a step does.
type StepKind string

const (
	StepGoto    StepKind = "goto"
	StepAct     StepKind = "act"
	StepExtract StepKind = "extract"
	StepObserve StepKind = "observe"
)

// Step is one operation. Exactly one of Goto, Act, Extract and Observe is
// set; the remaining fields tune that operation.
type Step struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	Goto    string `yaml:"goto,omitempty" json:"goto,omitempty"`
	Act     string `yaml:"act,omitempty" json:"act,omitempty"`
	Extract string `yaml:"extract,omitempty" json:"extract,omitempty"`
	Observe string `yaml:"observe,omitempty" json:"observe,omitempty"`

	// Act
	Variables map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	TimeoutMs int               `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`

	// Extract. Schema is a JSON schema written in YAML. An extract step with
	// an empty instruction and all_text set returns the page text.
	Schema         map[string]interface{} `yaml:"schema,omitempty" json:"schema,omitempty"`
	AllText        bool                   `yaml:"all_text,omitempty" json:"all_text,omitempty"`
	UseTextExtract bool                   `yaml:"use_text_extract,omitempty" json:"use_text_extract,omitempty"`
	Selector       string                 `yaml:"selector,omitempty" json:"selector,omitempty"`

	// Observe
	OnlyVisible  bool `yaml:"only_visible,omitempty" json:"only_visible,omitempty"`
	ReturnAction bool `yaml:"return_action,omitempty" json:"return_action,omitempty"`
	DrawOverlay  bool `yaml:"draw_overlay,omitempty" json:"draw_overlay,omitempty"`

	DOMSettleTimeoutMs int `yaml:"dom_settle_timeout_ms,omitempty" json:"dom_settle_timeout_ms,omitempty"`
}

// Kind reports which operation the step runs, or "" when none or several
// are set.
func (s Step) Kind() StepKind {
	var kind StepKind
	n := 0
	if s.Goto != "" {
		kind, n = StepGoto, n+1
	}
	if s.Act != "" {
		kind, n = StepAct, n+1
	}
	if s.Extract != "" || s.AllText {
		kind, n = StepExtract, n+1
	}
	if s.Observe != "" {
		kind, n = StepObserve, n+1
	}
	if n != 1 {
		return ""
	}
	return kind
}

// Instruction returns the step's argument: a URL or an instruction.
func (s Step) Instruction() string {
	switch s.Kind() {
	case StepGoto:
		return s.Goto
	case StepAct:
		return s.Act
	case StepExtract:
		return s.Extract
	case StepObserve:
		return s.Observe
	}
	return ""
}

// Label is the step's display name.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Kind() == StepExtract && s.Extract == "" {
		return "extract page text"
	}
	return fmt.Sprintf("%s: %s", s.Kind(), s.Instruction())
}

// SchemaJSON encodes Schema, or returns nil when there is none.
func (s Step) SchemaJSON() (json.RawMessage, error) {
	if len(s.Schema) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(s.Schema)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return data, nil
}

// ConstraintConfig bounds a run.
type ConstraintConfig struct {
	// AllowedURLs and DeniedURLs are globs checked before each navigation.
	// Denied patterns take precedence; no allowed patterns allows all.
	AllowedURLs []string `yaml:"allowed_urls" json:"allowed_urls"`
	DeniedURLs  []string `yaml:"denied_urls" json:"denied_urls"`

	// MaxSteps caps the number of steps run, 0 for no cap.
	MaxSteps int `yaml:"max_steps" json:"max_steps"`

	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig defines console output
type LoggingConfig struct {
	// Verbosity controls logging level: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity" json:"verbosity"`
}

// ArtifactConfig defines artifact generation configuration
type ArtifactConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`
}

// Validate checks the configuration and fills the default verbosity.
func (c *Config) Validate() error {
	if len(c.Steps) == 0 && c.URL == "" {
		return errors.New("task needs a url or at least one step")
	}

	for i, step := range c.Steps {
		if step.Kind() == "" {
			return fmt.Errorf("step %d: exactly one of goto, act, extract or observe is required", i+1)
		}
		if step.TimeoutMs < 0 || step.DOMSettleTimeoutMs < 0 {
			return fmt.Errorf("step %d: timeouts cannot be negative", i+1)
		}
		if _, err := step.SchemaJSON(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	if c.Constraints.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}

	if c.Constraints.MaxSteps < 0 {
		return fmt.Errorf("max_steps cannot be negative")
	}

	// Set default verbosity if not specified
	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}

	validLevels := map[string]bool{
		"quiet":   true,
		"normal":  true,
		"verbose": true,
		"debug":   true,
	}
	if !validLevels[c.Logging.Verbosity] {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Logging.Verbosity)
	}

	return nil
}

// DefaultConfig returns a default configuration suitable for most use cases
func DefaultConfig() *Config {
	return &Config{
		Constraints: ConstraintConfig{
			Timeout: 5 * time.Minute,
		},
		Artifacts: ArtifactConfig{
			Enabled:   true,
			OutputDir: ".pagehand/artifacts",
		},
	}
}

// LoadConfig reads a YAML task file over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML task over DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse task file: %w", err)
	}
	return config, nil
}
