// Package tui is a terminal browser over a graph.
package tui

import (
	"context"
	"iter"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/DrSkyle/propgraph/pkg/graph"
)

// Graph is the query surface the explorer reads through.
type Graph interface {
	GetTargets(ctx context.Context, node graph.Node) iter.Seq2[graph.Node, error]
	GetSources(ctx context.Context, node graph.Node) iter.Seq2[graph.Node, error]
	GetAllNodes(ctx context.Context) iter.Seq2[graph.Node, error]
}

// Direction selects which neighbours are listed.
type Direction int

const (
	Targets Direction = iota
	Sources
)

func (d Direction) String() string {
	if d == Sources {
		return "sources"
	}
	return "targets"
}

// Model is the explorer state. A nil current node lists every node.
type Model struct {
	ctx     context.Context
	graph   Graph
	spinner spinner.Model

	current graph.Node
	props   map[string]any
	items   []graph.Node
	dir     Direction
	cursor  int
	history []graph.Node

	loading  bool
	err      error
	width    int
	height   int
	quitting bool
}

// loadedMsg carries the result of a background load.
type loadedMsg struct {
	node  graph.Node
	props map[string]any
	items []graph.Node
	err   error
}

// NewModel starts at start, or at the full node list when start is nil.
func NewModel(ctx context.Context, g Graph, start graph.Node) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = special

	return Model{
		ctx:     ctx,
		graph:   g,
		spinner: s,
		current: start,
		loading: true,
		height:  24,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load(m.current))
}

// load resolves node's props and neighbour list off the update loop.
func (m Model) load(node graph.Node) tea.Cmd {
	ctx, g, dir := m.ctx, m.graph, m.dir
	return func() tea.Msg {
		msg := loadedMsg{node: node}
		var seq iter.Seq2[graph.Node, error]
		switch {
		case node == nil:
			seq = g.GetAllNodes(ctx)
		case dir == Sources:
			seq = g.GetSources(ctx, node)
		default:
			seq = g.GetTargets(ctx, node)
		}
		if node != nil {
			props, err := node.NodeProps(ctx)
			if err != nil {
				msg.err = err
				return msg
			}
			msg.props = props
		}
		msg.items, msg.err = graph.Collect(seq)
		return msg
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case loadedMsg:
		m.loading = false
		m.err = msg.err
		m.current = msg.node
		m.props = msg.props
		m.items = msg.items
		if m.cursor >= len(m.items) {
			m.cursor = max(len(m.items)-1, 0)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "tab":
		if m.current == nil {
			return m, nil
		}
		m.dir = 1 - m.dir
		m.cursor = 0
		m.loading = true
		return m, m.load(m.current)
	case "enter":
		if m.loading || m.cursor >= len(m.items) {
			return m, nil
		}
		m.history = append(m.history, m.current)
		next := m.items[m.cursor]
		m.cursor = 0
		m.loading = true
		return m, m.load(next)
	case "backspace":
		if len(m.history) == 0 {
			return m, nil
		}
		prev := m.history[len(m.history)-1]
		m.history = m.history[:len(m.history)-1]
		m.cursor = 0
		m.loading = true
		return m, m.load(prev)
	case "r":
		m.loading = true
		return m, m.load(m.current)
	}
	return m, nil
}

// Run blocks until the user quits.
func Run(ctx context.Context, g Graph, start graph.Node) error {
	_, err := tea.NewProgram(NewModel(ctx, g, start), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
