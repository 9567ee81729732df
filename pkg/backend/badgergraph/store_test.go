package badgergraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/propgraph/pkg/graph"
	"github.com/DrSkyle/propgraph/pkg/graph/graphtest"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	graphtest.Run(t, func(t *testing.T) (graph.NodeStore, graph.EdgeIndex) {
		s := newStore(t)
		return s, s.Edges()
	})
}

func TestRejectsNULInIDs(t *testing.T) {
	s := newStore(t)
	_, err := s.Put(context.Background(), graph.NewRecord(1, "a\x00b", nil))
	assert.ErrorIs(t, err, graph.ErrInvalidID)
}

func TestPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	x := s.Edges()
	for _, id := range []string{"a", "ab", "c"} {
		_, err := s.Put(ctx, graph.NewRecord(1, id, nil))
		require.NoError(t, err)
	}
	_, err := x.Add(ctx, "ab", "c")
	require.NoError(t, err)

	// "a" is a byte prefix of "ab" but must not see its edges.
	targets, err := graph.Collect(x.TargetsOf(ctx, "a"))
	require.NoError(t, err)
	assert.Empty(t, targets)

	n, err := x.DropAllEdgesOf(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)
	has, _ := x.Has(ctx, "ab", "c")
	assert.True(t, has)
}

func TestNegativeTypes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, _ = s.Put(ctx, graph.NewRecord(-1, "neg", nil))
	_, _ = s.Put(ctx, graph.NewRecord(1, "pos", nil))

	neg, err := graph.Collect(s.ByType(ctx, -1))
	require.NoError(t, err)
	require.Len(t, neg, 1)
	assert.Equal(t, "neg", neg[0].NodeID())
}

func TestReopenFromDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	_, err = s.Put(ctx, graph.NewRecord(1, "A", map[string]any{"name": "api"}))
	require.NoError(t, err)
	_, err = s.Put(ctx, graph.NewRecord(1, "B", nil))
	require.NoError(t, err)
	_, err = s.Edges().Add(ctx, "A", "B")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(Options{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	n, ok, err := s.Get(ctx, "A")
	require.NoError(t, err)
	require.True(t, ok)
	props, _ := n.NodeProps(ctx)
	assert.Equal(t, "api", props["name"])

	count, err := s.Edges().TargetCount(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// New ids continue after the leased range.
	_, err = s.Put(ctx, graph.NewRecord(1, "C", nil))
	require.NoError(t, err)
	all, err := graph.Collect(s.All(ctx))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, []string{all[0].NodeID(), all[1].NodeID(), all[2].NodeID()})
}
