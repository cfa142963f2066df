// Package manifest describes a model component on disk: its name, its
// attribute and component dependency declarations, and the globs that
// point at its plugin, VM resource files, and images.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Image is a disk image shipped by a model component for a specific architecture.
type Image struct {
	Path string `yaml:"path"`
	Arch string `yaml:"arch"`
}

// Manifest is the on-disk MANIFEST.yaml / MANIFEST.yml for a model component.
type Manifest struct {
	Name string `yaml:"name"`

	// Attribute-level relations (constraint nodes in the dependency graph).
	AttributeDepends  []string `yaml:"attribute_depends,omitempty"`
	AttributeProvides []string `yaml:"attribute_provides,omitempty"`
	AttributePrecedes []string `yaml:"attribute_precedes,omitempty"`

	// Component-level relations (entity-to-entity edges).
	ComponentDepends  []string `yaml:"model_component_depends,omitempty"`
	ComponentPrecedes []string `yaml:"model_component_precedes,omitempty"`

	Plugin             string   `yaml:"plugin,omitempty"`
	ModelComponentObj  string   `yaml:"model_component_objects,omitempty"`
	VMResourceGlobs    []string `yaml:"vm_resources,omitempty"`
	Images             []Image  `yaml:"images,omitempty"`

	// Root is not part of the YAML; it is set to the directory containing
	// the manifest so glob expansion can resolve relative to it.
	Root string `yaml:"-"`
}

// Load reads and parses a single component's manifest from dir/MANIFEST.yaml
// (or MANIFEST.yml). The component's name collisions across repositories are
// the resolver's concern, not this loader's.
func Load(dir string) (*Manifest, error) {
	for _, candidate := range []string{"MANIFEST.yaml", "MANIFEST.yml"} {
		path := filepath.Join(dir, candidate)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading manifest %s: %w", path, err)
		}
		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
		}
		if m.Name == "" {
			return nil, fmt.Errorf("manifest %s: missing required field name", path)
		}
		m.Root = dir
		return &m, nil
	}
	return nil, fmt.Errorf("no MANIFEST.yaml found in %s", dir)
}

// ExpandVMResourceGlobs applies the glob expansion rules: "dir" or "dir/"
// means "dir/*" non-recursive, "dir/**" or "dir/**/" means "dir/**/*"
// recursive, and anything with an explicit extension is taken verbatim.
// Only regular files are returned, resolved relative to the manifest root.
func (m *Manifest) ExpandVMResourceGlobs() ([]string, error) {
	var out []string
	for _, pattern := range m.VMResourceGlobs {
		expanded, err := expandOnePattern(m.Root, pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func expandOnePattern(root, pattern string) ([]string, error) {
	trimmed := strings.TrimSuffix(pattern, "/")
	switch {
	case strings.HasSuffix(trimmed, "**"):
		pattern = trimmed + "/*"
		return recursiveGlob(root, strings.TrimSuffix(trimmed, "**"))
	case filepath.Ext(trimmed) == "" && !strings.ContainsAny(trimmed, "*?["):
		pattern = trimmed + "/*"
	}

	matches, err := filepath.Glob(filepath.Join(root, pattern))
	if err != nil {
		return nil, fmt.Errorf("expanding glob %s: %w", pattern, err)
	}
	return onlyRegularFiles(matches), nil
}

func recursiveGlob(root, relDir string) ([]string, error) {
	base := filepath.Join(root, relDir)
	var out []string
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", base, err)
	}
	return out, nil
}

func onlyRegularFiles(paths []string) []string {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		out = append(out, p)
	}
	return out
}
