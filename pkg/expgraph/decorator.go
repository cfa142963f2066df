package expgraph

import (
	"fmt"

	"github.com/sandialabs/firewheel/pkg/fwerrors"
)

// decoratable is the subset of Vertex/Edge that Decorator.Apply needs;
// it lets one decorator implementation target either kind of node.
type decoratable interface {
	has(capability string) bool
	markApplied(capability string)
	set(name string, value any)
	get(name string) (any, bool)
}

func (v *Vertex) has(capability string) bool   { return v.capabilities[capability] }
func (v *Vertex) markApplied(capability string) { v.capabilities[capability] = true }
func (v *Vertex) set(name string, value any)    { v.attrs[name] = value }
func (v *Vertex) get(name string) (any, bool)   { val, ok := v.attrs[name]; return val, ok }

func (e *Edge) has(capability string) bool    { return e.capabilities[capability] }
func (e *Edge) markApplied(capability string) { e.capabilities[capability] = true }
func (e *Edge) set(name string, value any)    { e.attrs[name] = value }
func (e *Edge) get(name string) (any, bool)   { val, ok := e.attrs[name]; return val, ok }

// ConflictHandler resolves a collision between an attribute a decorator
// wants to add and a value already present on the target. It returns the
// value to install and true if it resolved the conflict, or false to
// defer to the next handler in the chain.
type ConflictHandler func(attr string, existing, incoming any) (resolved any, ok bool)

// Decorator is a named capability: a bag of attributes plus an
// initializer, optionally depending on other capabilities already having
// been applied first.
type Decorator struct {
	Name       string
	Requires   []*Decorator
	Attributes map[string]any
	// Ignore names attributes this decorator does not add even though
	// Attributes carries a default for them (an instance opting out of
	// part of a capability).
	Ignore map[string]bool
	// Init, if set, runs once after Attributes are merged in, typically
	// to derive a value from the attributes just installed.
	Init func(target any)

	conflictHandlers []ConflictHandler
}

// OnConflict appends a conflict handler, consulted in insertion order
// when Apply hits a collision.
func (d *Decorator) OnConflict(h ConflictHandler) *Decorator {
	d.conflictHandlers = append(d.conflictHandlers, h)
	return d
}

// Apply decorates target with d. Decoration is idempotent by identity:
// re-applying the same decorator to an already-decorated target fails.
// Required prerequisite decorators are applied first if missing.
func Apply(target decoratable, d *Decorator) error {
	if target.has(d.Name) {
		return fmt.Errorf("%s already applied: %w", d.Name, fwerrors.ErrDecoratorConflict)
	}
	for _, req := range d.Requires {
		if !target.has(req.Name) {
			if err := Apply(target, req); err != nil {
				return err
			}
		}
	}
	for attr, value := range d.Attributes {
		if d.Ignore[attr] {
			continue
		}
		existing, present := target.get(attr)
		if !present {
			target.set(attr, value)
			continue
		}
		resolved, ok := resolveConflict(d, attr, existing, value)
		if !ok {
			return fmt.Errorf("%s on attribute %s: %w", d.Name, attr, fwerrors.ErrDecoratorConflict)
		}
		target.set(attr, resolved)
	}
	target.markApplied(d.Name)
	if d.Init != nil {
		d.Init(target)
	}
	return nil
}

func resolveConflict(d *Decorator, attr string, existing, incoming any) (any, bool) {
	for _, h := range d.conflictHandlers {
		if resolved, ok := h(attr, existing, incoming); ok {
			return resolved, true
		}
	}
	return nil, false
}
