package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/promptflux-stt/pkg/audio"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: not registered")

// EngineFactory builds a transcription engine from its config entry.
type EngineFactory func(EngineEntry) (stt.Transcriber, error)

// BackendFactory builds an audio backend.
type BackendFactory func() (audio.Backend, error)

// Registry maps engine and audio backend names to their constructors. It is
// safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	engines  map[string]EngineFactory
	backends map[string]BackendFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		engines:  make(map[string]EngineFactory),
		backends: make(map[string]BackendFactory),
	}
}

// RegisterEngine registers an engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterEngine(name string, factory EngineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = factory
}

// RegisterBackend registers an audio backend factory under name.
func (r *Registry) RegisterBackend(name string, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// CreateEngine instantiates the engine registered under entry.Name.
// Returns [ErrNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateEngine(entry EngineEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.engines[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: engine/%q", ErrNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateBackend instantiates the audio backend registered under name.
func (r *Registry) CreateBackend(name string) (audio.Backend, error) {
	r.mu.RLock()
	factory, ok := r.backends[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrNotRegistered, name)
	}
	return factory()
}

// EngineNames returns the registered engine names in sorted order.
func (r *Registry) EngineNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.engines)
}

// BackendNames returns the registered backend names in sorted order.
func (r *Registry) BackendNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.backends)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
