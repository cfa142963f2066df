package expgraph

import (
	"errors"
	"testing"

	"github.com/sandialabs/firewheel/pkg/fwerrors"
	"github.com/stretchr/testify/require"
)

func TestApplyAddsEveryAttribute(t *testing.T) {
	v := NewVertex("host1")
	d := &Decorator{Name: "networked", Attributes: map[string]any{"ip": "10.0.0.1", "mtu": 1500}}

	require.NoError(t, Apply(v, d))

	ip, ok := v.Attr("ip")
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", ip)
	require.True(t, v.Has("networked"))
}

func TestApplyIsIdempotentByIdentity(t *testing.T) {
	v := NewVertex("host1")
	d := &Decorator{Name: "networked", Attributes: map[string]any{"ip": "10.0.0.1"}}

	require.NoError(t, Apply(v, d))
	err := Apply(v, d)
	require.Error(t, err)
	require.True(t, errors.Is(err, fwerrors.ErrDecoratorConflict))
}

func TestApplyHonorsIgnoreSet(t *testing.T) {
	v := NewVertex("host1")
	d := &Decorator{
		Name:       "networked",
		Attributes: map[string]any{"ip": "10.0.0.1", "mtu": 1500},
		Ignore:     map[string]bool{"mtu": true},
	}

	require.NoError(t, Apply(v, d))
	_, ok := v.Attr("mtu")
	require.False(t, ok)
}

func TestApplyFailsOnUnresolvedConflict(t *testing.T) {
	v := NewVertex("host1")
	require.NoError(t, Apply(v, &Decorator{Name: "base", Attributes: map[string]any{"ip": "10.0.0.1"}}))

	conflicting := &Decorator{Name: "override", Attributes: map[string]any{"ip": "10.0.0.2"}}
	err := Apply(v, conflicting)
	require.Error(t, err)
	require.True(t, errors.Is(err, fwerrors.ErrDecoratorConflict))
}

func TestConflictHandlerResolvesInInsertionOrder(t *testing.T) {
	v := NewVertex("host1")
	require.NoError(t, Apply(v, &Decorator{Name: "base", Attributes: map[string]any{"ip": "10.0.0.1"}}))

	var calledFirst, calledSecond bool
	conflicting := &Decorator{Name: "override", Attributes: map[string]any{"ip": "10.0.0.2"}}
	conflicting.OnConflict(func(attr string, existing, incoming any) (any, bool) {
		calledFirst = true
		return nil, false // defer to next handler
	}).OnConflict(func(attr string, existing, incoming any) (any, bool) {
		calledSecond = true
		return incoming, true
	})

	require.NoError(t, Apply(v, conflicting))
	require.True(t, calledFirst)
	require.True(t, calledSecond)
	ip, _ := v.Attr("ip")
	require.Equal(t, "10.0.0.2", ip)
}

func TestApplyAppliesRequiredPrerequisitesFirst(t *testing.T) {
	v := NewVertex("host1")
	base := &Decorator{Name: "base", Attributes: map[string]any{"ip": "10.0.0.1"}}
	dependent := &Decorator{Name: "routed", Requires: []*Decorator{base}, Attributes: map[string]any{"gateway": "10.0.0.254"}}

	require.NoError(t, Apply(v, dependent))
	require.True(t, v.Has("base"))
	require.True(t, v.Has("routed"))
	ip, ok := v.Attr("ip")
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", ip)
}

func TestEdgeDecorationIndependentOfVertex(t *testing.T) {
	src, dst := NewVertex("a"), NewVertex("b")
	e := NewEdge(src, dst)
	d := &Decorator{Name: "link", Attributes: map[string]any{"bandwidth_mbps": 1000}}

	require.NoError(t, Apply(e, d))
	require.False(t, src.Has("link"))
	bw, ok := e.Attr("bandwidth_mbps")
	require.True(t, ok)
	require.Equal(t, 1000, bw)
}
