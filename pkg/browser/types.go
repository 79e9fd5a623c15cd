package browser

import (
	"time"

	"github.com/playwright-community/playwright-go"
)

// Browser engines a session can launch.
const (
	Chromium = "chromium"
	Firefox  = "firefox"
	WebKit   = "webkit"
)

// Session is an open browser with one page the engines drive.
type Session struct {
	// Name is the unique identifier for this session
	Name string

	Browser playwright.Browser
	Context playwright.BrowserContext

	// Page is the engine-facing adapter over the session's page
	Page *Page

	BrowserType string
	Headless    bool

	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.LastUsedAt = time.Now()
}

// SessionOptions configures a new browser session.
type SessionOptions struct {
	// BrowserType is chromium, firefox or webkit. Empty means chromium.
	BrowserType string

	// Headless controls whether the browser runs without a visible window
	Headless bool

	// Viewport sets the window size
	Viewport *Viewport

	// Timeout caps single browser commands (in milliseconds)
	Timeout float64

	// SettleQuiet is the mutation-free window of DOM settle waits
	SettleQuiet time.Duration
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// SessionInfo contains metadata about a browser session.
type SessionInfo struct {
	Name        string
	CurrentURL  string
	BrowserType string
	Headless    bool
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// Default values for sessions
const (
	DefaultTimeout        = 30000.0 // 30 seconds in milliseconds
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultMaxSessions    = 5
	DefaultIdleTimeout    = 300 // 5 minutes in seconds
)
