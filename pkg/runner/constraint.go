package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// ConstraintManager enforces a run's limits.
type ConstraintManager struct {
	config *ConstraintConfig

	stepsRun  int
	startTime time.Time

	urls *PatternMatcher

	mu sync.RWMutex
}

// ConstraintViolation represents a constraint violation error
type ConstraintViolation struct {
	Type    ViolationType
	Message string
	Details map[string]interface{}
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint violation (%s): %s", e.Type, e.Message)
}

// ViolationType identifies the type of constraint that was violated
type ViolationType string

const (
	ViolationURLPattern ViolationType = "url_pattern"
	ViolationStepCount  ViolationType = "step_count"
	ViolationTimeout    ViolationType = "timeout"
)

// NewConstraintManager compiles the URL patterns of config.
func NewConstraintManager(config ConstraintConfig) (*ConstraintManager, error) {
	urls, err := NewPatternMatcher(config.AllowedURLs, config.DeniedURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern matcher: %w", err)
	}

	return &ConstraintManager{
		config:    &config,
		startTime: time.Now(),
		urls:      urls,
	}, nil
}

// CheckURL rejects navigation to url when the patterns do not allow it.
func (cm *ConstraintManager) CheckURL(url string) error {
	if cm.urls.IsAllowed(url) {
		return nil
	}
	return &ConstraintViolation{
		Type:    ViolationURLPattern,
		Message: fmt.Sprintf("url '%s' does not match allowed patterns", url),
		Details: map[string]interface{}{
			"url":          url,
			"allowed_urls": cm.config.AllowedURLs,
			"denied_urls":  cm.config.DeniedURLs,
		},
	}
}

// StartStep counts a step and fails once MaxSteps have run.
func (cm *ConstraintManager) StartStep() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.config.MaxSteps > 0 && cm.stepsRun >= cm.config.MaxSteps {
		return &ConstraintViolation{
			Type:    ViolationStepCount,
			Message: fmt.Sprintf("maximum step count exceeded (%d)", cm.config.MaxSteps),
			Details: map[string]interface{}{
				"max_steps": cm.config.MaxSteps,
			},
		}
	}
	cm.stepsRun++
	return nil
}

// CheckTimeout checks if execution has exceeded the timeout
func (cm *ConstraintManager) CheckTimeout() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.config.Timeout <= 0 {
		return nil
	}

	elapsed := time.Since(cm.startTime)
	if elapsed > cm.config.Timeout {
		return &ConstraintViolation{
			Type:    ViolationTimeout,
			Message: fmt.Sprintf("execution timeout exceeded (%v)", cm.config.Timeout),
			Details: map[string]interface{}{
				"timeout": cm.config.Timeout,
				"elapsed": elapsed,
			},
		}
	}

	return nil
}

// StepsRun returns the number of steps started.
func (cm *ConstraintManager) StepsRun() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stepsRun
}

// PatternMatcher matches URLs against allow and deny globs. Globs use '/'
// as the separator, so '*' stays within a path segment and '**' crosses
// them.
type PatternMatcher struct {
	allowedPatterns []glob.Glob
	deniedPatterns  []glob.Glob
}

// NewPatternMatcher creates a new pattern matcher
func NewPatternMatcher(allowed, denied []string) (*PatternMatcher, error) {
	pm := &PatternMatcher{}

	for _, pattern := range allowed {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid allowed pattern '%s': %w", pattern, err)
		}
		pm.allowedPatterns = append(pm.allowedPatterns, g)
	}

	for _, pattern := range denied {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid denied pattern '%s': %w", pattern, err)
		}
		pm.deniedPatterns = append(pm.deniedPatterns, g)
	}

	return pm, nil
}

// IsAllowed returns true if the URL is allowed by the pattern rules
func (pm *PatternMatcher) IsAllowed(url string) bool {
	// Denied patterns take precedence
	for _, pattern := range pm.deniedPatterns {
		if pattern.Match(url) {
			return false
		}
	}

	if len(pm.allowedPatterns) == 0 {
		return true
	}

	for _, pattern := range pm.allowedPatterns {
		if pattern.Match(url) {
			return true
		}
	}

	return false
}
