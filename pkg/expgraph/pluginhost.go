package expgraph

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sandialabs/firewheel/pkg/fwerrors"
	"github.com/sandialabs/firewheel/pkg/log"
)

// Plugin is a model component's entry point: given the shared graph and
// the arguments declared for it, build or mutate the graph in place.
type Plugin interface {
	Run(g *Graph, args map[string]any) error
}

// PluginFunc adapts a function to the Plugin interface.
type PluginFunc func(g *Graph, args map[string]any) error

// Run calls f.
func (f PluginFunc) Run(g *Graph, args map[string]any) error { return f(g, args) }

// PluginHost runs each component's plugin against the shared graph, in
// resolver order, importing each by name exactly once. Plugin module
// paths resolve against a static registry rather than a dynamic import,
// since this runtime has no equivalent of importing an arbitrary module
// path discovered at resolve time.
type PluginHost struct {
	registry map[string]Plugin
	run      map[string]bool
	logger   zerolog.Logger
}

// NewPluginHost creates a host backed by registry, keyed by
// "module.ClassName" the same way a manifest's `plugin` field names it.
func NewPluginHost(registry map[string]Plugin) *PluginHost {
	return &PluginHost{
		registry: registry,
		run:      make(map[string]bool),
		logger:   log.WithComponent("expgraph"),
	}
}

// Register adds or replaces a plugin entry, keyed "module.ClassName".
func (h *PluginHost) Register(qualifiedName string, p Plugin) {
	h.registry[qualifiedName] = p
}

// RunOnce executes the named plugin against g exactly once; a second call
// for the same name is a no-op, matching the "imported once per name"
// contract. Panics inside the plugin are caught and re-raised as
// ModelComponentImport with a trimmed trace tail.
func (h *PluginHost) RunOnce(componentName, qualifiedName string, g *Graph, args map[string]any) (err error) {
	if h.run[qualifiedName] {
		return nil
	}
	plugin, ok := h.registry[qualifiedName]
	if !ok {
		return fmt.Errorf("%s: no plugin registered for %s: %w", componentName, qualifiedName, fwerrors.ErrModelComponentImport)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: plugin %s panicked: %s: %w", componentName, qualifiedName, traceTail(r), fwerrors.ErrModelComponentImport)
		}
	}()

	if runErr := plugin.Run(g, args); runErr != nil {
		return fmt.Errorf("%s: plugin %s failed: %w: %w", componentName, qualifiedName, runErr, fwerrors.ErrModelComponentImport)
	}
	h.run[qualifiedName] = true
	h.logger.Debug().Str("component", componentName).Str("plugin", qualifiedName).Msg("plugin run")
	return nil
}

// SplitQualifiedName splits "module.ClassName" into its module path and
// class name, matching the manifest `plugin` field's "." separator
// convention.
func SplitQualifiedName(qualified string) (module, class string) {
	idx := strings.LastIndex(qualified, ".")
	if idx < 0 {
		return "", qualified
	}
	return qualified[:idx], qualified[idx+1:]
}

func traceTail(r any) string {
	msg := fmt.Sprint(r)
	lines := strings.Split(msg, "\n")
	if len(lines) <= 3 {
		return msg
	}
	return strings.Join(lines[len(lines)-3:], "\n")
}
