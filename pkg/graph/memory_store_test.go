package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(t *testing.T, nodes []Node) []string {
	t.Helper()
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.NodeID())
	}
	return out
}

func TestMemoryNodeStore_PutOutcomes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNodeStore()

	out, err := s.Put(ctx, NewRecord(1, "A", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out)

	replacement := NewRecord(1, "A", map[string]any{"v": 2})
	out, err = s.Put(ctx, replacement)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, out)

	got, ok, err := s.Get(ctx, "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, replacement, got)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryNodeStore_RejectsInvalidNodes(t *testing.T) {
	s := NewMemoryNodeStore()
	_, err := s.Put(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilNode)
	_, err = s.Put(context.Background(), NewRecord(1, "", nil))
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestMemoryNodeStore_InsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNodeStore()
	for _, id := range []string{"c", "a", "b"} {
		_, err := s.Put(ctx, NewRecord(1, id, nil))
		require.NoError(t, err)
	}
	// An upsert keeps its slot.
	_, err := s.Put(ctx, NewRecord(1, "c", map[string]any{"x": 1}))
	require.NoError(t, err)

	all, err := Collect(s.All(ctx))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, ids(t, all))
}

func TestMemoryNodeStore_ByTypeFollowsRetype(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNodeStore()
	_, _ = s.Put(ctx, NewRecord(1, "a", nil))
	_, _ = s.Put(ctx, NewRecord(2, "b", nil))
	_, _ = s.Put(ctx, NewRecord(1, "c", nil))

	ones, err := Collect(s.ByType(ctx, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(t, ones))

	_, _ = s.Put(ctx, NewRecord(2, "a", nil))

	ones, err = Collect(s.ByType(ctx, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(t, ones))

	twos, err := Collect(s.ByType(ctx, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(t, twos))

	none, err := Collect(s.ByType(ctx, 99))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryNodeStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNodeStore()
	_, _ = s.Put(ctx, NewRecord(3, "a", nil))

	ok, err := s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, _ := s.Get(ctx, "a")
	assert.False(t, found)
	typed, _ := Collect(s.ByType(ctx, 3))
	assert.Empty(t, typed)
}

func TestMemoryNodeStore_IterationIsRestartable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNodeStore()
	_, _ = s.Put(ctx, NewRecord(1, "a", nil))

	seq := s.All(ctx)
	first, err := Collect(seq)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	_, _ = s.Put(ctx, NewRecord(1, "b", nil))

	// Ranging the same sequence again sees current state.
	second, err := Collect(seq)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(t, second))
}

func TestMemoryNodeStore_MutationDuringIteration(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNodeStore()
	for _, id := range []string{"a", "b", "c"} {
		_, _ = s.Put(ctx, NewRecord(1, id, nil))
	}

	var seen []string
	for n, err := range s.All(ctx) {
		require.NoError(t, err)
		seen = append(seen, n.NodeID())
		_, _ = s.Delete(ctx, "c")
		_, _ = s.Put(ctx, NewRecord(1, "d", nil))
	}
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestMemoryNodeStore_CancelledIteration(t *testing.T) {
	s := NewMemoryNodeStore()
	_, _ = s.Put(context.Background(), NewRecord(1, "a", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Collect(s.All(ctx))
	assert.ErrorIs(t, err, context.Canceled)
}
