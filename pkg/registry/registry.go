// Package registry holds the machine processors available to the controller.
package registry

import (
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/jobctl/pkg/domain"
	"github.com/aretw0/jobctl/pkg/ports"
)

// Registry manages the available processors, keyed by kind.
type Registry struct {
	mu         sync.RWMutex
	processors map[domain.ProcessorKind]ports.JobProcessor
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[domain.ProcessorKind]ports.JobProcessor),
	}
}

// Register adds a processor to the registry.
// If a processor of the same kind exists, it is overwritten.
func (r *Registry) Register(kind domain.ProcessorKind, p ports.JobProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[kind] = p
}

// Get looks up a processor by kind.
// Returns an error wrapping domain.ErrUnknownProcessor if none is registered.
func (r *Registry) Get(kind domain.ProcessorKind) (ports.JobProcessor, error) {
	r.mu.RLock()
	p, ok := r.processors[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProcessor, kind)
	}
	return p, nil
}

// Has reports whether a processor of the given kind is registered.
func (r *Registry) Has(kind domain.ProcessorKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.processors[kind]
	return ok
}

// Kinds returns the registered kinds in canonical order.
func (r *Registry) Kinds() []domain.ProcessorKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var kinds []domain.ProcessorKind
	for _, k := range domain.ProcessorKinds {
		if _, ok := r.processors[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return slices.Clip(kinds)
}
