package browser

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/pagehand/pkg/logging"
	"github.com/playwright-community/playwright-go"
)

// ErrNotInitialized is returned when a session is started before Initialize.
var ErrNotInitialized = errors.New("session manager not initialized")

// SessionManager owns the playwright driver and the open sessions.
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	playwright  *playwright.Playwright
	logger      *logging.Logger
	maxSessions int
	idleTimeout time.Duration
	initialized bool
}

// NewSessionManager creates a new session manager.
func NewSessionManager(logger *logging.Logger) *SessionManager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SessionManager{
		sessions:    make(map[string]*Session),
		logger:      logger,
		maxSessions: DefaultMaxSessions,
		idleTimeout: time.Duration(DefaultIdleTimeout) * time.Second,
	}
}

// Initialize installs the drivers and browsers and starts playwright. It
// must be called before creating any sessions.
func (m *SessionManager) Initialize(browserTypes ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	if len(browserTypes) == 0 {
		browserTypes = []string{Chromium}
	}
	for _, bt := range browserTypes {
		if err := validBrowserType(bt); err != nil {
			return err
		}
	}

	opts := &playwright.RunOptions{
		Browsers: browserTypes,
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	m.logger.Infof("Playwright started for %v", browserTypes)
	return nil
}

func validBrowserType(bt string) error {
	switch bt {
	case Chromium, Firefox, WebKit:
		return nil
	}
	return fmt.Errorf("unknown browser type %q", bt)
}

// withDefaults fills unset options.
func (o SessionOptions) withDefaults() SessionOptions {
	if o.BrowserType == "" {
		o.BrowserType = Chromium
	}
	if o.Viewport == nil {
		o.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.SettleQuiet == 0 {
		o.SettleQuiet = DefaultSettleQuiet
	}
	return o
}

func (m *SessionManager) launcher(bt string) playwright.BrowserType {
	switch bt {
	case Firefox:
		return m.playwright.Firefox
	case WebKit:
		return m.playwright.WebKit
	}
	return m.playwright.Chromium
}

// StartSession launches a browser and wraps its first page.
func (m *SessionManager) StartSession(name string, opts SessionOptions) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[name]; exists {
		return nil, fmt.Errorf("session %q already exists", name)
	}
	if len(m.sessions) >= m.maxSessions {
		return nil, fmt.Errorf("maximum number of sessions (%d) reached", m.maxSessions)
	}
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	opts = opts.withDefaults()
	if err := validBrowserType(opts.BrowserType); err != nil {
		return nil, err
	}

	browser, err := m.launcher(opts.BrowserType).Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", opts.BrowserType, err)
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	raw, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	raw.SetDefaultTimeout(opts.Timeout)

	pageOpts := []PageOption{
		WithLogger(m.logger.With("page:" + name)),
		WithCommandTimeout(time.Duration(opts.Timeout) * time.Millisecond),
		WithSettleQuiet(opts.SettleQuiet),
	}
	if opts.BrowserType == Chromium {
		cdp, err := context.NewCDPSession(raw)
		if err != nil {
			m.logger.Warnf("No CDP session for %q, falling back to in-page snapshots: %v", name, err)
		} else {
			pageOpts = append(pageOpts, WithCDP(cdp))
		}
	}
	page, err := NewPage(raw, pageOpts...)
	if err != nil {
		context.Close()
		browser.Close()
		return nil, err
	}

	now := time.Now()
	session := &Session{
		Name:        name,
		Browser:     browser,
		Context:     context,
		Page:        page,
		BrowserType: opts.BrowserType,
		Headless:    opts.Headless,
		CreatedAt:   now,
		LastUsedAt:  now,
	}
	m.sessions[name] = session
	m.logger.Infof("Started %s session %q", opts.BrowserType, name)
	return session, nil
}

// closeSession releases the session's resources, collecting errors.
func closeSession(s *Session) []error {
	var errs []error
	if s.Page != nil {
		if err := s.Page.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Context != nil {
		if err := s.Context.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Browser != nil {
		if err := s.Browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// CloseSession closes and removes a browser session.
func (m *SessionManager) CloseSession(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[name]
	if !exists {
		return fmt.Errorf("session %q not found", name)
	}
	delete(m.sessions, name)
	if errs := closeSession(session); len(errs) > 0 {
		return fmt.Errorf("errors closing session %q: %w", name, errors.Join(errs...))
	}
	return nil
}

// GetSession retrieves an active session by name and marks it used.
func (m *SessionManager) GetSession(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[name]
	if !exists {
		return nil, fmt.Errorf("session %q not found", name)
	}
	session.Touch()
	return session, nil
}

// ListSessions returns information about all active sessions, by name.
func (m *SessionManager) ListSessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		info := SessionInfo{
			Name:        s.Name,
			BrowserType: s.BrowserType,
			Headless:    s.Headless,
			CreatedAt:   s.CreatedAt,
			LastUsedAt:  s.LastUsedAt,
		}
		if s.Page != nil {
			info.CurrentURL = s.Page.URL()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// HasSessions returns true if there are any active sessions.
func (m *SessionManager) HasSessions() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions) > 0
}

// CloseAll closes all active sessions.
func (m *SessionManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeAllLocked()
}

func (m *SessionManager) closeAllLocked() error {
	var errs []error
	for name, s := range m.sessions {
		errs = append(errs, closeSession(s)...)
		delete(m.sessions, name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing sessions: %w", errors.Join(errs...))
	}
	return nil
}

// Shutdown closes all sessions and stops playwright.
func (m *SessionManager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.closeAllLocked(); err != nil {
		m.logger.Warnf("%v", err)
	}
	if m.initialized && m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		m.initialized = false
	}
	return nil
}

// CleanupIdleSessions closes sessions idle for longer than the timeout and
// returns their names.
func (m *SessionManager) CleanupIdleSessions() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var closed []string
	var errs []error
	for name, s := range m.sessions {
		if now.Sub(s.LastUsedAt) <= m.idleTimeout {
			continue
		}
		errs = append(errs, closeSession(s)...)
		delete(m.sessions, name)
		closed = append(closed, name)
	}
	sort.Strings(closed)
	if len(errs) > 0 {
		return closed, fmt.Errorf("errors during cleanup: %w", errors.Join(errs...))
	}
	return closed, nil
}

// SetMaxSessions sets the maximum number of concurrent sessions.
func (m *SessionManager) SetMaxSessions(max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSessions = max
}

// SetIdleTimeout sets the idle timeout duration.
func (m *SessionManager) SetIdleTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleTimeout = timeout
}
