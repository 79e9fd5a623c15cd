package config

import (
	"sync"
)

var (
	// globalManager is the singleton configuration manager instance
	globalManager *Manager
	globalMu      sync.Mutex
)

// Initialize creates and initializes the global configuration manager.
// This should be called once at application startup.
func Initialize(configPath string) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	store, err := NewFileStore(configPath)
	if err != nil {
		return err
	}

	manager := NewManager(store)
	for _, section := range []Section{
		NewLLMSection(),
		NewBrowserSection(),
		NewEngineSection(),
		NewNavigationSection(),
	} {
		if err := manager.RegisterSection(section); err != nil {
			return err
		}
	}

	if err := manager.LoadAll(); err != nil {
		return err
	}

	globalManager = manager
	return nil
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}
	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

func lookupSection[T Section](id string) T {
	var zero T
	if !IsInitialized() {
		return zero
	}
	s, ok := Global().GetSection(id)
	if !ok {
		return zero
	}
	typed, ok := s.(T)
	if !ok {
		return zero
	}
	return typed
}

// GetLLM returns the LLM settings section, or nil if config is not initialized.
func GetLLM() *LLMSection {
	return lookupSection[*LLMSection](SectionIDLLM)
}

// GetBrowser returns the browser section, or nil if config is not initialized.
func GetBrowser() *BrowserSection {
	return lookupSection[*BrowserSection](SectionIDBrowser)
}

// GetEngine returns the engine section, or nil if config is not initialized.
func GetEngine() *EngineSection {
	return lookupSection[*EngineSection](SectionIDEngine)
}

// GetNavigation returns the navigation section, or nil if config is not initialized.
func GetNavigation() *NavigationSection {
	return lookupSection[*NavigationSection](SectionIDNavigation)
}

// EngineSettingsOrDefault returns the configured engine settings or the defaults.
func EngineSettingsOrDefault() EngineSettings {
	if s := GetEngine(); s != nil {
		return s.Snapshot()
	}
	return DefaultEngineSettings()
}

// IsURLAllowed checks the navigation guard. Returns true if config is not initialized.
func IsURLAllowed(url string) bool {
	nav := GetNavigation()
	if nav == nil {
		return true
	}
	return nav.IsURLAllowed(url)
}
