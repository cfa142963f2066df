package resolver

import (
	"errors"
	"testing"

	"github.com/sandialabs/firewheel/pkg/fwerrors"
	"github.com/sandialabs/firewheel/pkg/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRegistry(t *testing.T, manifests ...*manifest.Manifest) *Registry {
	t.Helper()
	reg, err := NewRegistry(manifests)
	require.NoError(t, err)
	return reg
}

// Scenario 1: two-component plan, acyclic. Seeds = [m1 depends c1],
// installed m2 provides c1. Expected ordered plan = [m2, m1].
func TestResolveTwoComponentAcyclicPlan(t *testing.T) {
	m1 := &manifest.Manifest{Name: "m1", AttributeDepends: []string{"c1"}}
	m2 := &manifest.Manifest{Name: "m2", AttributeProvides: []string{"c1"}}
	reg := mustRegistry(t, m1, m2)

	plan, err := New(reg, nil).Resolve([]string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m1"}, plan.Order)
}

// Scenario 2: ambiguous attribute with default. Installed m_a provides c1,
// m_b provides c1; attribute_defaults = {c1: m_b}; seed [m1 depends c1].
// Expected plan = [m_b, m1]. Without the default: NoDefaultProvider.
func TestResolveAmbiguousAttributeWithDefault(t *testing.T) {
	m1 := &manifest.Manifest{Name: "m1", AttributeDepends: []string{"c1"}}
	ma := &manifest.Manifest{Name: "m_a", AttributeProvides: []string{"c1"}}
	mb := &manifest.Manifest{Name: "m_b", AttributeProvides: []string{"c1"}}
	reg := mustRegistry(t, m1, ma, mb)

	plan, err := New(reg, map[string]string{"c1": "m_b"}).Resolve([]string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m_b", "m1"}, plan.Order)
}

func TestResolveAmbiguousAttributeWithoutDefaultFails(t *testing.T) {
	m1 := &manifest.Manifest{Name: "m1", AttributeDepends: []string{"c1"}}
	ma := &manifest.Manifest{Name: "m_a", AttributeProvides: []string{"c1"}}
	mb := &manifest.Manifest{Name: "m_b", AttributeProvides: []string{"c1"}}
	reg := mustRegistry(t, m1, ma, mb)

	_, err := New(reg, nil).Resolve([]string{"m1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fwerrors.ErrNoDefaultProvider))
}

func TestResolvePrecedesOrdering(t *testing.T) {
	a := &manifest.Manifest{Name: "a", ComponentPrecedes: []string{"b"}}
	b := &manifest.Manifest{Name: "b"}
	reg := mustRegistry(t, a, b)

	plan, err := New(reg, nil).Resolve([]string{"a"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, plan.Order)
}

func TestResolveCycleFails(t *testing.T) {
	a := &manifest.Manifest{Name: "a", AttributeDepends: []string{"c_b"}, AttributeProvides: []string{"c_a"}}
	b := &manifest.Manifest{Name: "b", AttributeDepends: []string{"c_a"}, AttributeProvides: []string{"c_b"}}
	reg := mustRegistry(t, a, b)

	_, err := New(reg, nil).Resolve([]string{"a", "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fwerrors.ErrDependencyCycle))
}
