package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/propgraph/pkg/graph"
)

func newGraph(t *testing.T) *graph.Manager {
	t.Helper()
	ctx := context.Background()
	m, err := graph.NewManager()
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	a := graph.NewRecord(1, "api", map[string]any{"port": 8080})
	b := graph.NewRecord(2, "db", map[string]any{"engine": "postgres"})
	c := graph.NewRecord(2, "cache", nil)
	for _, e := range [][2]graph.Node{{a, b}, {a, c}, {c, b}} {
		_, err := m.AddEdge(ctx, e[0], e[1])
		require.NoError(t, err)
	}
	return m
}

// press sends a key and runs the resulting load synchronously.
func press(t *testing.T, m Model, key tea.KeyMsg) Model {
	t.Helper()
	next, cmd := m.Update(key)
	m = next.(Model)
	if cmd != nil {
		if msg, ok := cmd().(loadedMsg); ok {
			next, _ = m.Update(msg)
			m = next.(Model)
		}
	}
	return m
}

func start(t *testing.T, g Graph, node graph.Node) Model {
	t.Helper()
	m := NewModel(context.Background(), g, node)
	next, _ := m.Update(m.load(node)())
	return next.(Model)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func ids(nodes []graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.NodeID()
	}
	return out
}

func TestExplorerListsAllNodes(t *testing.T) {
	m := start(t, newGraph(t), nil)

	assert.False(t, m.loading)
	assert.Equal(t, []string{"api", "db", "cache"}, ids(m.items))
	view := m.View()
	assert.Contains(t, view, "ALL NODES")
	assert.Contains(t, view, "> api")
}

func TestExplorerNavigation(t *testing.T) {
	m := start(t, newGraph(t), nil)

	// Open api.
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, m.current)
	assert.Equal(t, "api", m.current.NodeID())
	assert.Equal(t, []string{"db", "cache"}, ids(m.items))
	assert.Contains(t, m.View(), "8080")

	// Down to cache and open it.
	m = press(t, m, runes("j"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "cache", m.current.NodeID())
	assert.Equal(t, []string{"db"}, ids(m.items))

	// Sources of cache.
	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, Sources, m.dir)
	assert.Equal(t, []string{"api"}, ids(m.items))
	assert.Contains(t, m.View(), "SOURCES (1)")

	// Back to api, then to the root list.
	m = press(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Equal(t, "api", m.current.NodeID())
	m = press(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Nil(t, m.current)
	assert.Len(t, m.items, 3)

	// Nothing further back.
	m = press(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Nil(t, m.current)
}

func TestExplorerEmptyNeighbours(t *testing.T) {
	g := newGraph(t)
	db, ok, err := g.GetNodeByID(context.Background(), "db")
	require.NoError(t, err)
	require.True(t, ok)

	m := start(t, g, db)
	assert.Empty(t, m.items)
	assert.Contains(t, m.View(), "none")

	// Enter on an empty list is a no-op.
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "db", m.current.NodeID())
	assert.Empty(t, m.history)
}

func TestExplorerQuit(t *testing.T) {
	m := start(t, newGraph(t), nil)
	next, cmd := m.Update(runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, next.(Model).View())
}

func TestExplorerShowsLoadErrors(t *testing.T) {
	lazy := &graph.LazyNode{Type: 1, ID: "broken", Resolve: func(ctx context.Context) (map[string]any, error) {
		return nil, assert.AnError
	}}
	m := start(t, newGraph(t), lazy)
	assert.Error(t, m.err)
	assert.Contains(t, m.View(), "error:")
}

func TestWindowFollowsCursor(t *testing.T) {
	m := Model{height: 15, cursor: 40}
	s, e := m.window(100)
	assert.Equal(t, 5, e-s)
	assert.True(t, s <= 40 && 40 < e)

	s, e = m.window(3)
	assert.Equal(t, 0, s)
	assert.Equal(t, 3, e)
}
