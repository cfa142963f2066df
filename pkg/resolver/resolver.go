// Package resolver builds an acyclic, deterministically ordered plan of
// model components from a seed list, honoring depends/provides/precedes
// relations on both attributes and components (spec.md §4.4).
package resolver

import (
	"fmt"
	"sort"

	"github.com/sandialabs/firewheel/pkg/fwerrors"
	"github.com/sandialabs/firewheel/pkg/log"
)

const maxOuterIterations = 1000

// Plan is the resolved, topologically ordered set of model components.
type Plan struct {
	Order []string
}

// Resolver holds the installed-component registry and the attribute ->
// component default-provider mapping loaded from configuration.
type Resolver struct {
	registry          *Registry
	attributeDefaults map[string]string
}

// New creates a Resolver against an installed-component registry and an
// attribute -> default-provider-component mapping (spec.md §6,
// "attribute_defaults").
func New(registry *Registry, attributeDefaults map[string]string) *Resolver {
	if attributeDefaults == nil {
		attributeDefaults = map[string]string{}
	}
	return &Resolver{registry: registry, attributeDefaults: attributeDefaults}
}

// planState tracks the fixed-point insertion process.
type planState struct {
	inPlan   map[string]bool
	grouping map[string]int
	order    []string // insertion order, used only to seed the unprocessed queue
	pending  []string // entities whose component-level relations haven't been expanded yet
	counter  int
}

func newPlanState() *planState {
	return &planState{
		inPlan:   make(map[string]bool),
		grouping: make(map[string]int),
	}
}

func (s *planState) insert(name string, groupingHint int) bool {
	if s.inPlan[name] {
		return false
	}
	s.inPlan[name] = true
	s.grouping[name] = groupingHint
	s.order = append(s.order, name)
	s.pending = append(s.pending, name)
	return true
}

// Resolve runs the fixed-point algorithm from spec.md §4.4 and returns the
// lexicographic-Kahn topological order of the resulting plan.
func (r *Resolver) Resolve(seeds []string) (*Plan, error) {
	logger := log.WithComponent("resolver")
	state := newPlanState()

	for i, seed := range seeds {
		if _, ok := r.registry.Get(seed); !ok {
			return nil, fmt.Errorf("seed component %q is not installed", seed)
		}
		state.insert(seed, i)
	}

	iterations := 0
	for {
		iterations++
		if iterations > maxOuterIterations {
			return nil, fwerrors.ErrInfiniteLoop
		}

		changed := false

		// 2a. Drain the pending-component queue, inserting component-level
		// dependencies. Duplicate inserts are rejected and reuse the first
		// occurrence (insert() already enforces that).
		pending := state.pending
		state.pending = nil
		for _, name := range pending {
			m, ok := r.registry.Get(name)
			if !ok {
				continue
			}
			for _, dep := range m.ComponentDepends {
				if _, ok := r.registry.Get(dep); !ok {
					return nil, fmt.Errorf("%s depends on uninstalled component %q", name, dep)
				}
				if state.insert(dep, state.grouping[name]) {
					changed = true
				}
			}
		}

		// 2b. Every attribute constraint with in-degree zero (no provider
		// currently in the plan) must be resolved to a default provider.
		depended := dependedAttributes(r.registry, state)
		for _, attr := range sortedKeys(depended) {
			if attrProvidedInPlan(r.registry, state, attr) {
				continue
			}
			provider, err := r.defaultProvider(attr)
			if err != nil {
				return nil, err
			}
			if state.insert(provider, state.grouping[depended[attr]]) {
				changed = true
				logger.Debug().Str("attribute", attr).Str("provider", provider).Msg("inserted default provider")
			}
		}

		// 2c. precedes relations: insert targets not yet present.
		for _, name := range state.order {
			m, ok := r.registry.Get(name)
			if !ok {
				continue
			}
			for _, target := range m.ComponentPrecedes {
				if state.inPlan[target] {
					continue
				}
				if _, ok := r.registry.Get(target); !ok {
					return nil, fmt.Errorf("%s precedes uninstalled component %q", name, target)
				}
				if state.insert(target, state.grouping[name]) {
					changed = true
				}
			}
		}

		if !changed {
			break
		}
	}

	return r.topoSort(state)
}

// defaultProvider picks the unique installed provider of attr, or falls
// back to the configured attribute_defaults mapping.
func (r *Resolver) defaultProvider(attr string) (string, error) {
	candidates := r.registry.ProvidersOf(attr)
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	mapped, ok := r.attributeDefaults[attr]
	if !ok {
		return "", fmt.Errorf("%w: attribute %q has %d candidate providers", fwerrors.ErrNoDefaultProvider, attr, len(candidates))
	}
	m, ok := r.registry.Get(mapped)
	if !ok {
		return "", fmt.Errorf("%w: attribute_defaults[%q]=%q is not installed", fwerrors.ErrInvalidDefaultProvider, attr, mapped)
	}
	provides := false
	for _, p := range m.AttributeProvides {
		if p == attr {
			provides = true
			break
		}
	}
	if !provides {
		return "", fmt.Errorf("%w: attribute_defaults[%q]=%q does not provide it", fwerrors.ErrInvalidDefaultProvider, attr, mapped)
	}
	return mapped, nil
}

// dependedAttributes returns, for every attribute depended on by an entity
// currently in the plan, one representative depending entity (used only to
// inherit a grouping hint for the inserted provider).
func dependedAttributes(reg *Registry, state *planState) map[string]string {
	out := make(map[string]string)
	for name := range state.inPlan {
		m, ok := reg.Get(name)
		if !ok {
			continue
		}
		for _, attr := range m.AttributeDepends {
			if _, exists := out[attr]; !exists {
				out[attr] = name
			}
		}
	}
	return out
}

func attrProvidedInPlan(reg *Registry, state *planState, attr string) bool {
	for name := range state.inPlan {
		m, ok := reg.Get(name)
		if !ok {
			continue
		}
		for _, p := range m.AttributeProvides {
			if p == attr {
				return true
			}
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
