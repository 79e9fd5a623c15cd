package config

import (
	"fmt"
	"sync"
)

const (
	// SectionIDEngine is the identifier for the engine settings section
	SectionIDEngine = "engine"

	CacheBackendFile   = "file"
	CacheBackendSQLite = "sqlite"

	DefaultMaxRetries        = 2
	DefaultActionTimeoutMs   = 0
	DefaultScrollSettleMs    = 1500
	DefaultRequestsPerSecond = 5.0
)

// EngineSection configures the act/extract/observe engine.
type EngineSection struct {
	EnableCaching           bool
	CacheDir                string // empty means ./tmp/.cache
	CacheBackend            string
	SelfHeal                bool
	VerifierDefaultComplete bool
	MaxRetries              int
	ActionTimeoutMs         int // zero disables the wall-clock cap
	ScrollSettleMs          int
	RequestsPerSecond       float64
	UserInstructions        string
	mu                      sync.RWMutex
}

// NewEngineSection creates an engine section with defaults.
func NewEngineSection() *EngineSection {
	s := &EngineSection{}
	s.Reset()
	return s
}

func (s *EngineSection) ID() string    { return SectionIDEngine }
func (s *EngineSection) Title() string { return "Engine" }
func (s *EngineSection) Description() string {
	return "Caching, retries, self-heal and timing of browser operations"
}

// Data returns the current configuration data.
func (s *EngineSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"enable_caching":            s.EnableCaching,
		"cache_dir":                 s.CacheDir,
		"cache_backend":             s.CacheBackend,
		"self_heal":                 s.SelfHeal,
		"verifier_default_complete": s.VerifierDefaultComplete,
		"max_retries":               s.MaxRetries,
		"action_timeout_ms":         s.ActionTimeoutMs,
		"scroll_settle_ms":          s.ScrollSettleMs,
		"requests_per_second":       s.RequestsPerSecond,
		"user_instructions":         s.UserInstructions,
	}
}

// SetData updates the configuration from the provided data.
func (s *EngineSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := data["enable_caching"].(bool); ok {
		s.EnableCaching = v
	}
	if v, ok := data["cache_dir"].(string); ok {
		s.CacheDir = v
	}
	if v, ok := data["cache_backend"].(string); ok && v != "" {
		s.CacheBackend = v
	}
	if v, ok := data["self_heal"].(bool); ok {
		s.SelfHeal = v
	}
	if v, ok := data["verifier_default_complete"].(bool); ok {
		s.VerifierDefaultComplete = v
	}
	if v, ok := toInt(data["max_retries"]); ok {
		s.MaxRetries = v
	}
	if v, ok := toInt(data["action_timeout_ms"]); ok {
		s.ActionTimeoutMs = v
	}
	if v, ok := toInt(data["scroll_settle_ms"]); ok {
		s.ScrollSettleMs = v
	}
	if v, ok := toFloat(data["requests_per_second"]); ok {
		s.RequestsPerSecond = v
	}
	if v, ok := data["user_instructions"].(string); ok {
		s.UserInstructions = v
	}
	return nil
}

// Validate checks backend names and numeric ranges.
func (s *EngineSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.CacheBackend != CacheBackendFile && s.CacheBackend != CacheBackendSQLite {
		return fmt.Errorf("unknown cache_backend %q", s.CacheBackend)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if s.ActionTimeoutMs < 0 || s.ScrollSettleMs < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if s.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *EngineSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EnableCaching = true
	s.CacheDir = ""
	s.CacheBackend = CacheBackendFile
	s.SelfHeal = true
	s.VerifierDefaultComplete = true
	s.MaxRetries = DefaultMaxRetries
	s.ActionTimeoutMs = DefaultActionTimeoutMs
	s.ScrollSettleMs = DefaultScrollSettleMs
	s.RequestsPerSecond = DefaultRequestsPerSecond
	s.UserInstructions = ""
}

// Snapshot returns a copy of the section values without the lock.
func (s *EngineSection) Snapshot() EngineSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return EngineSettings{
		EnableCaching:           s.EnableCaching,
		CacheDir:                s.CacheDir,
		CacheBackend:            s.CacheBackend,
		SelfHeal:                s.SelfHeal,
		VerifierDefaultComplete: s.VerifierDefaultComplete,
		MaxRetries:              s.MaxRetries,
		ActionTimeoutMs:         s.ActionTimeoutMs,
		ScrollSettleMs:          s.ScrollSettleMs,
		RequestsPerSecond:       s.RequestsPerSecond,
		UserInstructions:        s.UserInstructions,
	}
}

// EngineSettings is a lock-free copy of EngineSection.
type EngineSettings struct {
	EnableCaching           bool
	CacheDir                string
	CacheBackend            string
	SelfHeal                bool
	VerifierDefaultComplete bool
	MaxRetries              int
	ActionTimeoutMs         int
	ScrollSettleMs          int
	RequestsPerSecond       float64
	UserInstructions        string
}

// DefaultEngineSettings returns the defaults used when config is not initialized.
func DefaultEngineSettings() EngineSettings {
	return NewEngineSection().Snapshot()
}
