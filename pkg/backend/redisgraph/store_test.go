package redisgraph

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/propgraph/pkg/graph"
	"github.com/DrSkyle/propgraph/pkg/graph/graphtest"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := New(Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestConformance(t *testing.T) {
	graphtest.Run(t, func(t *testing.T) (graph.NodeStore, graph.EdgeIndex) {
		s, _ := newStore(t)
		return s, s.Edges()
	})
}

func TestKeyLayout(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := New(Options{Addr: mr.Addr(), Prefix: "test:"})
	defer s.Close()
	require.NoError(t, s.Ping(ctx))

	_, err := s.Put(ctx, graph.NewRecord(7, "svc", map[string]any{"port": "8080"}))
	require.NoError(t, err)
	_, err = s.Put(ctx, graph.NewRecord(7, "db", nil))
	require.NoError(t, err)
	_, err = s.Edges().Add(ctx, "svc", "db")
	require.NoError(t, err)

	raw, err := mr.Get("test:node:svc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":7,"id":"svc","props":{"port":"8080"}}`, raw)

	members, err := mr.ZMembers("test:type:7")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"svc", "db"}, members)

	out, err := mr.ZMembers("test:out:svc")
	require.NoError(t, err)
	assert.Equal(t, []string{"db"}, out)

	in, err := mr.ZMembers("test:in:db")
	require.NoError(t, err)
	assert.Equal(t, []string{"svc"}, in)

	count, err := mr.Get("test:edges")
	require.NoError(t, err)
	assert.Equal(t, "1", count)
}

func TestPropsAreSnapshottedOnPut(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	lazy := &graph.LazyNode{Type: 1, ID: "lazy", Resolve: func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"state": "ready"}, nil
	}}

	_, err := s.Put(ctx, lazy)
	require.NoError(t, err)

	n, ok, err := s.Get(ctx, "lazy")
	require.NoError(t, err)
	require.True(t, ok)
	rec, isRecord := n.(*graph.Record)
	require.True(t, isRecord)
	assert.Equal(t, map[string]any{"state": "ready"}, rec.Props)
}

func TestConnectionFailure(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)
	mr.Close()

	_, err := s.Put(ctx, graph.NewRecord(1, "A", nil))
	assert.Error(t, err)
	_, _, err = s.Get(ctx, "A")
	assert.Error(t, err)
	_, err = graph.Collect(s.All(ctx))
	assert.Error(t, err)
}

func TestManagerOverRedis(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	m, err := graph.NewManager(graph.WithNodeStore(s), graph.WithEdgeIndex(s.Edges()))
	require.NoError(t, err)
	defer m.Close()

	var events []string
	m.OnGraphUpdate(func(ctx context.Context) error {
		events = append(events, "graphUpdate")
		return nil
	})
	m.OnNodeUpdate(func(ctx context.Context, n graph.Node) error {
		events = append(events, "nodeUpdate:"+n.NodeID())
		return nil
	})

	_, err = m.AddNode(ctx, graph.NewRecord(1, "A", nil))
	require.NoError(t, err)
	_, err = m.AddNode(ctx, graph.NewRecord(1, "A", map[string]any{"v": "2"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"graphUpdate", "nodeUpdate:A", "graphUpdate"}, events)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, graph.Stats{Nodes: 1, Edges: 0}, stats)
}
