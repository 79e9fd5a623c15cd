package config

import (
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

const (
	// SectionIDNavigation is the identifier for the navigation guard section
	SectionIDNavigation = "navigation"
)

// NavigationSection holds URL globs that gate where the browser may navigate.
// A blocked match always wins; an empty allow list allows everything.
type NavigationSection struct {
	allowed  []string
	blocked  []string
	compiled struct {
		allowed []glob.Glob
		blocked []glob.Glob
	}
	mu sync.RWMutex
}

// NewNavigationSection creates an unrestricted navigation section.
func NewNavigationSection() *NavigationSection {
	return &NavigationSection{}
}

func (s *NavigationSection) ID() string    { return SectionIDNavigation }
func (s *NavigationSection) Title() string { return "Navigation" }
func (s *NavigationSection) Description() string {
	return "URL glob patterns the browser may (allowed_patterns) or may not (blocked_patterns) visit"
}

// Data returns the current configuration data.
func (s *NavigationSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"allowed_patterns": toInterfaceSlice(s.allowed),
		"blocked_patterns": toInterfaceSlice(s.blocked),
	}
}

func toInterfaceSlice(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// SetData updates the patterns. Invalid globs are rejected and nothing changes.
func (s *NavigationSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	allowed, err := toStringSlice(data["allowed_patterns"])
	if err != nil {
		return fmt.Errorf("allowed_patterns: %w", err)
	}
	blocked, err := toStringSlice(data["blocked_patterns"])
	if err != nil {
		return fmt.Errorf("blocked_patterns: %w", err)
	}
	return s.SetPatterns(allowed, blocked)
}

// SetPatterns replaces both pattern lists.
func (s *NavigationSection) SetPatterns(allowed, blocked []string) error {
	allowedGlobs, err := compileGlobs(allowed)
	if err != nil {
		return err
	}
	blockedGlobs, err := compileGlobs(blocked)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed = allowed
	s.blocked = blocked
	s.compiled.allowed = allowedGlobs
	s.compiled.blocked = blockedGlobs
	return nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Validate always passes; patterns are compiled when set.
func (s *NavigationSection) Validate() error {
	return nil
}

// Reset clears every pattern.
func (s *NavigationSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed = nil
	s.blocked = nil
	s.compiled.allowed = nil
	s.compiled.blocked = nil
}

// IsURLAllowed reports whether url passes the navigation guard.
func (s *NavigationSection) IsURLAllowed(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.compiled.blocked {
		if g.Match(url) {
			return false
		}
	}
	if len(s.compiled.allowed) == 0 {
		return true
	}
	for _, g := range s.compiled.allowed {
		if g.Match(url) {
			return true
		}
	}
	return false
}
