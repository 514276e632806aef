package breaker

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager owns the breaker registry: exactly one breaker per provider
// name, created lazily, process lifetime. Each breaker carries its own
// lock so traffic to one provider never serializes behind another's.
type Manager struct {
	mu       sync.RWMutex
	defaults Config
	breakers map[string]*Breaker
	logger   *logrus.Logger
}

// NewManager creates a breaker manager with the given per-provider
// defaults.
func NewManager(defaults Config, logger *logrus.Logger) *Manager {
	return &Manager{
		defaults: defaults,
		breakers: make(map[string]*Breaker),
		logger:   logger,
	}
}

// GetOrCreate returns the provider's breaker, creating it on first use.
// A nil config uses the manager defaults; the config of an existing
// breaker is never changed.
func (m *Manager) GetOrCreate(name string, config *Config) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[name]; ok {
		return b
	}

	cfg := m.defaults
	if config != nil {
		cfg = *config
	}
	b = New(name, cfg)
	m.breakers[name] = b

	m.logger.WithFields(logrus.Fields{
		"provider":          name,
		"failure_threshold": cfg.FailureThreshold,
		"timeout":           cfg.Timeout,
	}).Debug("Circuit breaker created")
	return b
}

// Get returns the provider's breaker without creating one.
func (m *Manager) Get(name string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[name]
	return b, ok
}

// AllSnapshots aggregates read-only snapshots for status reporting.
func (m *Manager) AllSnapshots() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Snapshot, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
