package providers

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps adapter names to adapters. Hosts build it once at start-up.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	registry := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, adapter := range adapters {
		registry.adapters[adapter.Name()] = adapter
	}
	return registry
}

func DefaultRegistry() *Registry {
	return NewRegistry(OpenAI{}, Anthropic{})
}

func (r *Registry) Get(name string) (Adapter, bool) {
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	return adapter, ok
}

// Lookup is Get with an error naming the known adapters.
func (r *Registry) Lookup(name string) (Adapter, error) {
	if adapter, ok := r.Get(name); ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("unknown provider %q (known: %s)", name, strings.Join(r.Names(), ", "))
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
