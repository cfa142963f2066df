// Package expgraph implements the Experiment Graph & Plugin Host (C5): a
// decorable vertex/edge graph that component plugins build up in
// resolver order, plus the plugin host that runs them and the artifact
// upload pass that walks the finished graph.
package expgraph

import "fmt"

// Vertex is a decorable graph node. Decorations live in a capability bag
// rather than as typed struct fields, standing in for the dynamic
// attribute injection a reflective language would use here.
type Vertex struct {
	Name string

	attrs        map[string]any
	capabilities map[string]bool // capability name -> applied
}

// Edge is a decorable directed connection between two vertices.
type Edge struct {
	Src, Dst *Vertex

	attrs        map[string]any
	capabilities map[string]bool
}

// NewVertex creates an undecorated vertex.
func NewVertex(name string) *Vertex {
	return &Vertex{Name: name, attrs: make(map[string]any), capabilities: make(map[string]bool)}
}

// NewEdge creates an undecorated edge between two vertices already in the graph.
func NewEdge(src, dst *Vertex) *Edge {
	return &Edge{Src: src, Dst: dst, attrs: make(map[string]any), capabilities: make(map[string]bool)}
}

// Attr returns a decoration value, or (nil, false) if it was never set,
// mirroring getattr(self, attr, default) call sites that never raise on a
// missing decoration.
func (v *Vertex) Attr(name string) (any, bool) {
	val, ok := v.attrs[name]
	return val, ok
}

// Attr returns a decoration value on an edge.
func (e *Edge) Attr(name string) (any, bool) {
	val, ok := e.attrs[name]
	return val, ok
}

// Has reports whether a capability has already been applied.
func (v *Vertex) Has(capability string) bool { return v.capabilities[capability] }

// Has reports whether a capability has already been applied.
func (e *Edge) Has(capability string) bool { return e.capabilities[capability] }

// Graph is the full experiment graph built up by plugins.
type Graph struct {
	vertices map[string]*Vertex
	edges    []*Edge
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{vertices: make(map[string]*Vertex)}
}

// AddVertex inserts v, failing if its name is already taken.
func (g *Graph) AddVertex(v *Vertex) error {
	if _, exists := g.vertices[v.Name]; exists {
		return fmt.Errorf("vertex %s already exists", v.Name)
	}
	g.vertices[v.Name] = v
	return nil
}

// Vertex looks up a vertex by name.
func (g *Graph) Vertex(name string) (*Vertex, bool) {
	v, ok := g.vertices[name]
	return v, ok
}

// Vertices returns every vertex in the graph, in no particular order.
func (g *Graph) Vertices() []*Vertex {
	out := make([]*Vertex, 0, len(g.vertices))
	for _, v := range g.vertices {
		out = append(out, v)
	}
	return out
}

// AddEdge records e in the graph. Both endpoints must already have been
// added via AddVertex.
func (g *Graph) AddEdge(e *Edge) {
	g.edges = append(g.edges, e)
}

// Edges returns every edge in the graph.
func (g *Graph) Edges() []*Edge {
	return g.edges
}
