package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T, nodeIDs ...string) *MemoryEdgeIndex {
	t.Helper()
	s := NewMemoryNodeStore()
	for _, id := range nodeIDs {
		_, err := s.Put(context.Background(), NewRecord(1, id, nil))
		require.NoError(t, err)
	}
	return NewMemoryEdgeIndex(Exists(s))
}

func TestMemoryEdgeIndex_AddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t, "A", "B")

	added, err := x.Add(ctx, "A", "B")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = x.Add(ctx, "A", "B")
	require.NoError(t, err)
	assert.False(t, added)

	targets, err := Collect(x.TargetsOf(ctx, "A"))
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, targets)

	sources, err := Collect(x.SourcesOf(ctx, "B"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, sources)

	n, _ := x.TargetCount(ctx, "A")
	assert.Equal(t, 1, n)
	n, _ = x.SourceCount(ctx, "B")
	assert.Equal(t, 1, n)
	n, _ = x.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestMemoryEdgeIndex_MissingEndpoint(t *testing.T) {
	x := newIndex(t, "A")

	_, err := x.Add(context.Background(), "A", "ghost")
	require.ErrorIs(t, err, ErrMissingEndpoint)
	assert.Contains(t, err.Error(), "ghost")

	n, _ := x.Len(context.Background())
	assert.Zero(t, n)
}

func TestMemoryEdgeIndex_Remove(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t, "A", "B")
	_, _ = x.Add(ctx, "A", "B")

	removed, err := x.Remove(ctx, "B", "A")
	require.NoError(t, err)
	assert.False(t, removed, "direction matters")

	removed, err = x.Remove(ctx, "A", "B")
	require.NoError(t, err)
	assert.True(t, removed)

	has, _ := x.Has(ctx, "A", "B")
	assert.False(t, has)
	n, _ := x.SourceCount(ctx, "B")
	assert.Zero(t, n)

	removed, err = x.Remove(ctx, "never", "seen")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemoryEdgeIndex_NeighbourOrder(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t, "hub", "z", "a", "m")
	for _, id := range []string{"z", "a", "m"} {
		_, err := x.Add(ctx, "hub", id)
		require.NoError(t, err)
	}
	targets, err := Collect(x.TargetsOf(ctx, "hub"))
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m"}, targets)
}

func TestMemoryEdgeIndex_DropAllEdgesOf(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t, "A", "B", "C")
	_, _ = x.Add(ctx, "A", "B")
	_, _ = x.Add(ctx, "C", "A")
	_, _ = x.Add(ctx, "A", "A")
	_, _ = x.Add(ctx, "B", "C")

	dropped, err := x.DropAllEdgesOf(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)

	n, _ := x.Len(ctx)
	assert.Equal(t, 1, n)
	n, _ = x.SourceCount(ctx, "B")
	assert.Zero(t, n)
	n, _ = x.TargetCount(ctx, "C")
	assert.Equal(t, 0, n)
	has, _ := x.Has(ctx, "B", "C")
	assert.True(t, has)

	dropped, err = x.DropAllEdgesOf(ctx, "A")
	require.NoError(t, err)
	assert.Zero(t, dropped)
}

func TestMemoryEdgeIndex_NoExistenceCheck(t *testing.T) {
	x := NewMemoryEdgeIndex(nil)
	added, err := x.Add(context.Background(), "x", "y")
	require.NoError(t, err)
	assert.True(t, added)
}

func TestMemoryEdgeIndex_ReleasesIdleIDs(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t, "A", "B", "C")

	_, _ = x.Add(ctx, "A", "B")
	_, _ = x.Add(ctx, "B", "C")
	_, _ = x.Add(ctx, "C", "C")
	assert.Equal(t, 3, x.Interned())

	_, _ = x.Remove(ctx, "A", "B")
	assert.Equal(t, 2, x.Interned(), "A has no edges left")

	_, err := x.DropAllEdgesOf(ctx, "C")
	require.NoError(t, err)
	assert.Zero(t, x.Interned())

	// Recycled ids must not leak old adjacency.
	_, _ = x.Add(ctx, "C", "A")
	targets, err := Collect(x.TargetsOf(ctx, "C"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, targets)
	n, _ := x.TargetCount(ctx, "B")
	assert.Zero(t, n)
	n, _ = x.Len(ctx)
	assert.Equal(t, 1, n)
}
