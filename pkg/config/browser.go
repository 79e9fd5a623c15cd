package config

import (
	"fmt"
	"sync"
)

const (
	// SectionIDBrowser is the identifier for the browser settings section
	SectionIDBrowser = "browser"

	BrowserChromium = "chromium"
	BrowserFirefox  = "firefox"
	BrowserWebKit   = "webkit"

	DefaultViewportWidth       = 1280
	DefaultViewportHeight      = 720
	DefaultNavigationTimeoutMs = 30000
	DefaultDOMSettleTimeoutMs  = 2000
)

// BrowserSection configures the browser the engine drives.
type BrowserSection struct {
	Headless            bool
	BrowserType         string
	ViewportWidth       int
	ViewportHeight      int
	NavigationTimeoutMs int
	DOMSettleTimeoutMs  int
	mu                  sync.RWMutex
}

// NewBrowserSection creates a browser section with defaults.
func NewBrowserSection() *BrowserSection {
	s := &BrowserSection{}
	s.Reset()
	return s
}

func (s *BrowserSection) ID() string          { return SectionIDBrowser }
func (s *BrowserSection) Title() string       { return "Browser" }
func (s *BrowserSection) Description() string { return "Browser engine, window size and page timeouts" }

// Data returns the current configuration data.
func (s *BrowserSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"headless":              s.Headless,
		"browser_type":          s.BrowserType,
		"viewport_width":        s.ViewportWidth,
		"viewport_height":       s.ViewportHeight,
		"navigation_timeout_ms": s.NavigationTimeoutMs,
		"dom_settle_timeout_ms": s.DOMSettleTimeoutMs,
	}
}

// SetData updates the configuration from the provided data.
func (s *BrowserSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := data["headless"].(bool); ok {
		s.Headless = v
	}
	if v, ok := data["browser_type"].(string); ok && v != "" {
		s.BrowserType = v
	}
	if v, ok := toInt(data["viewport_width"]); ok {
		s.ViewportWidth = v
	}
	if v, ok := toInt(data["viewport_height"]); ok {
		s.ViewportHeight = v
	}
	if v, ok := toInt(data["navigation_timeout_ms"]); ok {
		s.NavigationTimeoutMs = v
	}
	if v, ok := toInt(data["dom_settle_timeout_ms"]); ok {
		s.DOMSettleTimeoutMs = v
	}
	return nil
}

// Validate checks the browser type and dimensions.
func (s *BrowserSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.BrowserType {
	case BrowserChromium, BrowserFirefox, BrowserWebKit:
	default:
		return fmt.Errorf("unknown browser_type %q", s.BrowserType)
	}
	if s.ViewportWidth <= 0 || s.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", s.ViewportWidth, s.ViewportHeight)
	}
	if s.NavigationTimeoutMs < 0 || s.DOMSettleTimeoutMs < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *BrowserSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Headless = true
	s.BrowserType = BrowserChromium
	s.ViewportWidth = DefaultViewportWidth
	s.ViewportHeight = DefaultViewportHeight
	s.NavigationTimeoutMs = DefaultNavigationTimeoutMs
	s.DOMSettleTimeoutMs = DefaultDOMSettleTimeoutMs
}

// IsHeadless reports whether the browser runs without a window.
func (s *BrowserSection) IsHeadless() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Headless
}

// GetBrowserType returns chromium, firefox or webkit.
func (s *BrowserSection) GetBrowserType() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BrowserType
}

// GetViewport returns the window width and height.
func (s *BrowserSection) GetViewport() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ViewportWidth, s.ViewportHeight
}

// GetNavigationTimeoutMs returns the page navigation timeout.
func (s *BrowserSection) GetNavigationTimeoutMs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NavigationTimeoutMs
}

// GetDOMSettleTimeoutMs returns the DOM quiescence wait cap.
func (s *BrowserSection) GetDOMSettleTimeoutMs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.DOMSettleTimeoutMs
}
