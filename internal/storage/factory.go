package storage

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/FilipRus/boxItFindIt/internal/config"
)

// FactoryFunc builds a backend from the loaded configuration.
type FactoryFunc func(*config.Config) (Storage, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]FactoryFunc{}
)

// Register makes a backend available under name. Backends call it from init; a later
// registration under the same name replaces the earlier one.
func Register(name string, factory FactoryFunc) {
	if factory == nil {
		panic("storage: Register factory is nil for " + name)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewStorage builds the backend named by storage.default_backend.
func NewStorage(cfg *config.Config) (Storage, error) {
	name := cfg.Storage.DefaultBackend

	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unsupported storage backend %q (registered: %s)", name, strings.Join(Backends(), ", "))
	}
	s, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s storage: %w", name, err)
	}
	return s, nil
}
