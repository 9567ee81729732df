// Package graphtest holds the behaviour every NodeStore and EdgeIndex pair
// must share, so that remote backends can be checked against the in-memory
// implementation.
package graphtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/propgraph/pkg/graph"
)

// Factory returns an empty store pair. Both values usually share state.
type Factory func(t *testing.T) (graph.NodeStore, graph.EdgeIndex)

// Run executes the conformance suite against stores built by newStores.
func Run(t *testing.T, newStores Factory) {
	t.Run("PutOutcomes", func(t *testing.T) { testPutOutcomes(t, newStores) })
	t.Run("InsertionOrder", func(t *testing.T) { testInsertionOrder(t, newStores) })
	t.Run("ByType", func(t *testing.T) { testByType(t, newStores) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStores) })
	t.Run("EdgeAdd", func(t *testing.T) { testEdgeAdd(t, newStores) })
	t.Run("EdgeMissingEndpoint", func(t *testing.T) { testMissingEndpoint(t, newStores) })
	t.Run("EdgeRemove", func(t *testing.T) { testEdgeRemove(t, newStores) })
	t.Run("DropAllEdgesOf", func(t *testing.T) { testDropAll(t, newStores) })
	t.Run("Manager", func(t *testing.T) { testManager(t, newStores) })
}

func put(t *testing.T, s graph.NodeStore, nodeType int, id string, props map[string]any) {
	t.Helper()
	_, err := s.Put(context.Background(), graph.NewRecord(nodeType, id, props))
	require.NoError(t, err)
}

func nodeIDs(t *testing.T, seq func(yield func(graph.Node, error) bool)) []string {
	t.Helper()
	var out []string
	for n, err := range seq {
		require.NoError(t, err)
		out = append(out, n.NodeID())
	}
	return out
}

func edgeIDs(t *testing.T, seq func(yield func(string, error) bool)) []string {
	t.Helper()
	var out []string
	for id, err := range seq {
		require.NoError(t, err)
		out = append(out, id)
	}
	return out
}

func testPutOutcomes(t *testing.T, newStores Factory) {
	ctx := context.Background()
	s, _ := newStores(t)

	out, err := s.Put(ctx, graph.NewRecord(1, "A", map[string]any{"name": "api"}))
	require.NoError(t, err)
	assert.Equal(t, graph.OutcomeCreated, out)

	out, err = s.Put(ctx, graph.NewRecord(1, "A", map[string]any{"name": "gateway"}))
	require.NoError(t, err)
	assert.Equal(t, graph.OutcomeUpdated, out)

	n, ok, err := s.Get(ctx, "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, n.NodeType())
	props, err := n.NodeProps(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gateway", props["name"])

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testInsertionOrder(t *testing.T, newStores Factory) {
	s, _ := newStores(t)
	for _, id := range []string{"c", "a", "b"} {
		put(t, s, 1, id, nil)
	}
	put(t, s, 1, "c", map[string]any{"touched": "yes"})

	assert.Equal(t, []string{"c", "a", "b"}, nodeIDs(t, s.All(context.Background())))
}

func testByType(t *testing.T, newStores Factory) {
	ctx := context.Background()
	s, _ := newStores(t)
	put(t, s, 1, "a", nil)
	put(t, s, 2, "b", nil)
	put(t, s, 1, "c", nil)

	assert.Equal(t, []string{"a", "c"}, nodeIDs(t, s.ByType(ctx, 1)))

	put(t, s, 2, "a", nil)
	assert.Equal(t, []string{"c"}, nodeIDs(t, s.ByType(ctx, 1)))
	assert.Equal(t, []string{"a", "b"}, nodeIDs(t, s.ByType(ctx, 2)))
	assert.Empty(t, nodeIDs(t, s.ByType(ctx, 42)))
}

func testDelete(t *testing.T, newStores Factory) {
	ctx := context.Background()
	s, _ := newStores(t)
	put(t, s, 1, "a", nil)
	put(t, s, 1, "b", nil)

	ok, err := s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"b"}, nodeIDs(t, s.All(ctx)))
	assert.Equal(t, []string{"b"}, nodeIDs(t, s.ByType(ctx, 1)))
}

func testEdgeAdd(t *testing.T, newStores Factory) {
	ctx := context.Background()
	s, x := newStores(t)
	for _, id := range []string{"A", "B", "C"} {
		put(t, s, 1, id, nil)
	}

	added, err := x.Add(ctx, "A", "B")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = x.Add(ctx, "A", "B")
	require.NoError(t, err)
	assert.False(t, added)
	_, err = x.Add(ctx, "A", "C")
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "C"}, edgeIDs(t, x.TargetsOf(ctx, "A")))
	assert.Equal(t, []string{"A"}, edgeIDs(t, x.SourcesOf(ctx, "B")))
	assert.Empty(t, edgeIDs(t, x.TargetsOf(ctx, "B")))

	n, err := x.TargetCount(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = x.SourceCount(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = x.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	has, err := x.Has(ctx, "A", "B")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = x.Has(ctx, "B", "A")
	require.NoError(t, err)
	assert.False(t, has)
}

func testMissingEndpoint(t *testing.T, newStores Factory) {
	ctx := context.Background()
	s, x := newStores(t)
	put(t, s, 1, "A", nil)

	_, err := x.Add(ctx, "A", "ghost")
	assert.ErrorIs(t, err, graph.ErrMissingEndpoint)
	_, err = x.Add(ctx, "ghost", "A")
	assert.ErrorIs(t, err, graph.ErrMissingEndpoint)

	n, err := x.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testEdgeRemove(t *testing.T, newStores Factory) {
	ctx := context.Background()
	s, x := newStores(t)
	put(t, s, 1, "A", nil)
	put(t, s, 1, "B", nil)
	_, err := x.Add(ctx, "A", "B")
	require.NoError(t, err)

	removed, err := x.Remove(ctx, "A", "B")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = x.Remove(ctx, "A", "B")
	require.NoError(t, err)
	assert.False(t, removed)

	n, _ := x.TargetCount(ctx, "A")
	assert.Zero(t, n)
	n, _ = x.SourceCount(ctx, "B")
	assert.Zero(t, n)
	n, _ = x.Len(ctx)
	assert.Zero(t, n)
}

func testDropAll(t *testing.T, newStores Factory) {
	ctx := context.Background()
	s, x := newStores(t)
	for _, id := range []string{"A", "B", "C"} {
		put(t, s, 1, id, nil)
	}
	for _, e := range [][2]string{{"A", "B"}, {"C", "A"}, {"A", "A"}, {"B", "C"}} {
		_, err := x.Add(ctx, e[0], e[1])
		require.NoError(t, err)
	}

	dropped, err := x.DropAllEdgesOf(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)

	n, _ := x.Len(ctx)
	assert.Equal(t, 1, n)
	n, _ = x.SourceCount(ctx, "B")
	assert.Zero(t, n)
	n, _ = x.TargetCount(ctx, "C")
	assert.Zero(t, n)
	assert.Empty(t, edgeIDs(t, x.TargetsOf(ctx, "A")))
	assert.Empty(t, edgeIDs(t, x.SourcesOf(ctx, "A")))
	assert.Equal(t, []string{"C"}, edgeIDs(t, x.TargetsOf(ctx, "B")))
}

func testManager(t *testing.T, newStores Factory) {
	ctx := context.Background()
	s, x := newStores(t)
	m, err := graph.NewManager(graph.WithNodeStore(s), graph.WithEdgeIndex(x))
	require.NoError(t, err)
	defer m.Close()

	a := graph.NewRecord(1, "A", map[string]any{})
	b := graph.NewRecord(1, "B", map[string]any{})
	_, err = m.AddNode(ctx, a)
	require.NoError(t, err)
	_, err = m.AddNode(ctx, b)
	require.NoError(t, err)
	added, err := m.AddEdge(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, added)

	st, err := m.GetNodeStructure(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, &graph.Structure{
		Type:  1,
		ID:    "A",
		Props: map[string]any{},
		Targets: []*graph.Structure{
			{Type: 1, ID: "B", Props: map[string]any{}, Targets: []*graph.Structure{}},
		},
	}, st)

	removed, err := m.RemoveNode(ctx, a)
	require.NoError(t, err)
	assert.True(t, removed)
	n, err := m.GetSourceEdgeCount(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, n)
}
