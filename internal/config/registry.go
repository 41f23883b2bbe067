package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nxtg-ai/voxbridge/pkg/realtime"
)

// ErrProviderNotRegistered is returned by [Registry.CreateUpstream] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps upstream provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	upstream map[string]func(UpstreamConfig) (realtime.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		upstream: make(map[string]func(UpstreamConfig) (realtime.Provider, error)),
	}
}

// RegisterUpstream registers a realtime provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterUpstream(name string, factory func(UpstreamConfig) (realtime.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstream[name] = factory
}

// CreateUpstream instantiates a realtime provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateUpstream(entry UpstreamConfig) (realtime.Provider, error) {
	r.mu.RLock()
	factory, ok := r.upstream[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: upstream/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
