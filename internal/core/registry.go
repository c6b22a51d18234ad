package core

import (
	"sort"
	"sync"
)

// Registry is the host-owned configuration store connectors register their defaults into
type Registry struct {
	mu      sync.RWMutex
	entries map[string]ConnectorSettings
}

// NewRegistry creates an empty configuration registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]ConnectorSettings)}
}

// RegisterConfiguration stores settings under key. An existing entry is only
// replaced when overwrite is true. It reports whether settings were stored.
func (r *Registry) RegisterConfiguration(key string, settings ConnectorSettings, overwrite bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists && !overwrite {
		return false
	}
	r.entries[key] = settings
	return true
}

// Configuration returns the settings registered under key
func (r *Registry) Configuration(key string) (ConnectorSettings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	settings, ok := r.entries[key]
	return settings, ok
}

// Keys returns the registered keys in sorted order
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
