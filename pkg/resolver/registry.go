package resolver

import (
	"fmt"

	"github.com/sandialabs/firewheel/pkg/manifest"
)

// Registry is the set of installed model components available to the
// resolver, indexed by name and by the attributes they provide.
type Registry struct {
	components      map[string]*manifest.Manifest
	providersByAttr map[string][]string
}

// NewRegistry builds a Registry from a set of loaded manifests. Name
// collisions across repositories are rejected per the Model Component
// identity invariant.
func NewRegistry(components []*manifest.Manifest) (*Registry, error) {
	r := &Registry{
		components:      make(map[string]*manifest.Manifest, len(components)),
		providersByAttr: make(map[string][]string),
	}
	for _, c := range components {
		if _, exists := r.components[c.Name]; exists {
			return nil, fmt.Errorf("duplicate model component name: %s", c.Name)
		}
		r.components[c.Name] = c
		for _, attr := range c.AttributeProvides {
			r.providersByAttr[attr] = append(r.providersByAttr[attr], c.Name)
		}
	}
	return r, nil
}

// Get returns the manifest for a component name, or ok=false if not installed.
func (r *Registry) Get(name string) (*manifest.Manifest, bool) {
	m, ok := r.components[name]
	return m, ok
}

// ProvidersOf returns every installed component that provides attr.
func (r *Registry) ProvidersOf(attr string) []string {
	return r.providersByAttr[attr]
}
