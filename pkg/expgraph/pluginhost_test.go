package expgraph

import (
	"errors"
	"testing"

	"github.com/sandialabs/firewheel/pkg/fwerrors"
	"github.com/stretchr/testify/require"
)

func TestRunOnceExecutesExactlyOnce(t *testing.T) {
	calls := 0
	host := NewPluginHost(map[string]Plugin{
		"topology.Build": PluginFunc(func(g *Graph, args map[string]any) error {
			calls++
			return g.AddVertex(NewVertex("host1"))
		}),
	})
	g := New()

	require.NoError(t, host.RunOnce("topology", "topology.Build", g, nil))
	require.NoError(t, host.RunOnce("topology", "topology.Build", g, nil))
	require.Equal(t, 1, calls)
	_, ok := g.Vertex("host1")
	require.True(t, ok)
}

func TestRunOnceMissingPluginFails(t *testing.T) {
	host := NewPluginHost(map[string]Plugin{})
	err := host.RunOnce("topology", "topology.Build", New(), nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, fwerrors.ErrModelComponentImport))
}

func TestRunOncePanicBecomesModelComponentImport(t *testing.T) {
	host := NewPluginHost(map[string]Plugin{
		"topology.Build": PluginFunc(func(g *Graph, args map[string]any) error {
			panic("line1\nline2\nline3\nline4\nline5")
		}),
	})
	err := host.RunOnce("topology", "topology.Build", New(), nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, fwerrors.ErrModelComponentImport))
}

func TestSplitQualifiedName(t *testing.T) {
	module, class := SplitQualifiedName("topology.Build")
	require.Equal(t, "topology", module)
	require.Equal(t, "Build", class)

	module, class = SplitQualifiedName("NoDot")
	require.Equal(t, "", module)
	require.Equal(t, "NoDot", class)
}

func TestGraphAddVertexRejectsDuplicateNames(t *testing.T) {
	g := New()
	require.NoError(t, g.AddVertex(NewVertex("host1")))
	err := g.AddVertex(NewVertex("host1"))
	require.Error(t, err)
}

func TestGraphEdgesConnectExistingVertices(t *testing.T) {
	g := New()
	a, b := NewVertex("a"), NewVertex("b")
	require.NoError(t, g.AddVertex(a))
	require.NoError(t, g.AddVertex(b))
	g.AddEdge(NewEdge(a, b))

	require.Len(t, g.Edges(), 1)
	require.Equal(t, a, g.Edges()[0].Src)
	require.Equal(t, b, g.Edges()[0].Dst)
}
