package features

import "sync"

// Flags the service checks at request time. The original product toggled
// these by redeploying; here they are runtime switches.
const (
	// Wall gates the public Wall of Lovers listing.
	Wall = "wall"
	// RevealAnswer gates the pay-to-reveal-secret-answer endpoint.
	RevealAnswer = "reveal_answer"
)

// Flag represents a feature flag configuration.
type Flag struct {
	Name        string
	Enabled     bool
	Description string
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*Flag
}

// NewManager creates a manager with the standard flags enabled.
func NewManager() *Manager {
	m := &Manager{flags: make(map[string]*Flag)}
	m.Register(Wall, true, "public Wall of Lovers listing")
	m.Register(RevealAnswer, true, "pay to reveal the secret answer")
	return m
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &Flag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled checks if a feature flag is enabled. Unknown flags are off.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}
	return flag.Enabled
}

// Enable enables a feature flag.
func (m *Manager) Enable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Enabled = true
	}
}

// Disable disables a feature flag.
func (m *Manager) Disable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Enabled = false
	}
}
