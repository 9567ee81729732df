package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructure_Scenario(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	a := NewRecord(1, "A", map[string]any{})
	b := NewRecord(1, "B", map[string]any{})
	_, _ = m.AddNode(ctx, a)
	_, _ = m.AddNode(ctx, b)
	_, _ = m.AddEdge(ctx, a, b)

	st, err := m.GetNodeStructure(ctx, a)
	require.NoError(t, err)

	g := goldie.New(t)
	g.AssertJson(t, "scenario", st)
}

func TestStructure_CycleIsTruncated(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	a, b := NewRecord(1, "A", nil), NewRecord(1, "B", nil)
	_, _ = m.AddEdge(ctx, a, b)
	_, _ = m.AddEdge(ctx, b, a)

	st, err := m.GetNodeStructure(ctx, a)
	require.NoError(t, err)

	require.Len(t, st.Targets, 1)
	second := st.Targets[0]
	require.Len(t, second.Targets, 1)
	assert.True(t, second.Targets[0].Truncated())

	g := goldie.New(t)
	g.AssertJson(t, "cycle", st)
}

func TestStructure_SelfLoop(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	a := NewRecord(1, "A", nil)
	_, _ = m.AddEdge(ctx, a, a)

	st, err := m.GetNodeStructure(ctx, a)
	require.NoError(t, err)
	require.Len(t, st.Targets, 1)
	assert.Equal(t, "A", st.Targets[0].ID)
	assert.Nil(t, st.Targets[0].Targets)
}

func diamond(t *testing.T, m *Manager) Node {
	t.Helper()
	ctx := context.Background()
	a := NewRecord(1, "A", map[string]any{"name": "root"})
	b, c := NewRecord(2, "B", nil), NewRecord(2, "C", nil)
	d := NewRecord(3, "D", map[string]any{"weight": 3})
	for _, e := range [][2]Node{{a, b}, {a, c}, {b, d}, {c, d}} {
		_, err := m.AddEdge(ctx, e[0], e[1])
		require.NoError(t, err)
	}
	return a
}

func TestStructure_SharedNodeExpandedOnEachPath(t *testing.T) {
	m := newManager(t)
	root := diamond(t, m)

	st, err := m.GetNodeStructure(context.Background(), root)
	require.NoError(t, err)

	g := goldie.New(t)
	g.AssertJson(t, "diamond", st)
}

func TestStructure_ConcurrentMatchesSequential(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	root := diamond(t, m)

	seq, err := m.GetNodeStructure(ctx, root)
	require.NoError(t, err)
	par, err := m.GetNodeStructure(ctx, root, WithConcurrency(8))
	require.NoError(t, err)

	want, _ := json.Marshal(seq)
	got, _ := json.Marshal(par)
	assert.JSONEq(t, string(want), string(got))
}

func TestStructure_MaxDepth(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, WithSerializerOptions(WithMaxDepth(1)))
	root := diamond(t, m)

	st, err := m.GetNodeStructure(ctx, root)
	require.NoError(t, err)
	require.Len(t, st.Targets, 2)
	for _, child := range st.Targets {
		assert.True(t, child.Truncated(), child.ID)
	}

	// Per-call options override the manager defaults.
	st, err = m.GetNodeStructure(ctx, root, WithMaxDepth(0))
	require.NoError(t, err)
	depth := 0
	st.Walk(func(_ *Structure, d int) bool {
		depth = max(depth, d)
		return true
	})
	assert.Equal(t, 2, depth)
}

func TestStructure_FailsAtomically(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	root := NewRecord(1, "root", nil)
	broken := &LazyNode{Type: 1, ID: "broken", Resolve: func(ctx context.Context) (map[string]any, error) {
		return nil, errors.New("backend unavailable")
	}}
	_, _ = m.AddEdge(ctx, root, NewRecord(1, "ok", nil))
	_, _ = m.AddEdge(ctx, root, broken)

	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			st, err := m.GetNodeStructure(ctx, root, WithConcurrency(workers))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "backend unavailable")
			assert.Nil(t, st)
		})
	}
}

func TestStructure_LazyPropsResolvedOnce(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	var calls atomic.Int32
	lazy := &LazyNode{Type: 4, ID: "lazy", Resolve: func(ctx context.Context) (map[string]any, error) {
		calls.Add(1)
		return map[string]any{"ready": true}, nil
	}}
	root := NewRecord(1, "root", nil)
	_, _ = m.AddEdge(ctx, root, lazy)

	for range 3 {
		st, err := m.GetNodeStructure(ctx, root)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"ready": true}, st.Targets[0].Props)
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestImportStructure_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newManager(t)
	root := diamond(t, src)
	want, err := src.GetNodeStructure(ctx, root)
	require.NoError(t, err)

	// Through JSON, as a stored snapshot would travel.
	raw, err := json.Marshal(want)
	require.NoError(t, err)
	var decoded Structure
	require.NoError(t, json.Unmarshal(raw, &decoded))

	dst := newManager(t)
	require.NoError(t, ImportStructure(ctx, dst, &decoded))

	stats, err := dst.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Nodes: 4, Edges: 4}, stats)

	imported, _, err := dst.GetNodeByID(ctx, "A")
	require.NoError(t, err)
	got, err := dst.GetNodeStructure(ctx, imported)
	require.NoError(t, err)

	gotRaw, _ := json.Marshal(got)
	assert.JSONEq(t, string(raw), string(gotRaw))
}

func TestImportStructure_Nil(t *testing.T) {
	m := newManager(t)
	assert.Error(t, ImportStructure(context.Background(), m, nil))
}
