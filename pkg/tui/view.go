package tui

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(danger.Render("error: "+m.err.Error()) + "\n")
	case m.loading:
		b.WriteString(fmt.Sprintf("\n   %s Loading...\n", m.spinner.View()))
	default:
		b.WriteString(m.viewList())
	}

	b.WriteString("\n" + dimStyle.Render("↑/↓ move  enter open  tab targets/sources  backspace back  r reload  q quit"))
	return b.String()
}

func (m Model) viewHeader() string {
	if m.current == nil {
		return headerStyle.Render(highlight.Render("ALL NODES") + dimStyle.Render(fmt.Sprintf("  (%d)", len(m.items))))
	}
	title := highlight.Render(m.current.NodeID()) +
		dimStyle.Render(fmt.Sprintf("  type %d", m.current.NodeType()))

	lines := []string{title}
	for _, k := range slices.Sorted(maps.Keys(m.props)) {
		lines = append(lines, fmt.Sprintf("%-16s %v", k, m.props[k]))
	}
	if len(m.history) > 0 {
		lines = append(lines, dimStyle.Render("depth "+fmt.Sprint(len(m.history))))
	}
	return headerStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) viewList() string {
	var b strings.Builder
	label := "NODES"
	if m.current != nil {
		label = strings.ToUpper(m.dir.String())
	}
	b.WriteString(special.Render(fmt.Sprintf("  %s (%d)", label, len(m.items))) + "\n")

	if len(m.items) == 0 {
		b.WriteString(dimStyle.Render("  none") + "\n")
		return b.String()
	}

	start, end := m.window(len(m.items))
	for i := start; i < end; i++ {
		n := m.items[i]
		line := fmt.Sprintf("%-30s type %d", n.NodeID(), n.NodeType())
		if i == m.cursor {
			b.WriteString(listSelectedStyle.Render("> "+line) + "\n")
		} else {
			b.WriteString(listNormalStyle.Render("  "+line) + "\n")
		}
	}
	return b.String()
}

// window returns the visible slice of the list around the cursor.
func (m Model) window(total int) (int, int) {
	size := max(m.height-10, 5)

	start := max(m.cursor-size/2, 0)
	end := start + size
	if end > total {
		end = total
		start = max(end-size, 0)
	}
	return start, end
}
