package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss/tree"
	"github.com/spf13/cobra"

	"github.com/DrSkyle/propgraph/pkg/graph"
	"github.com/DrSkyle/propgraph/pkg/loader"
)

func newStructureCmd(a *app) *cobra.Command {
	var (
		depth  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "structure <file> <id>",
		Short: "Print the structure snapshot of a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "tree" {
				return fmt.Errorf("unknown format %q", format)
			}
			ctx := cmd.Context()
			var opts []graph.StructureOption
			if cmd.Flags().Changed("depth") {
				opts = append(opts, graph.WithMaxDepth(depth))
			}
			return a.withGraph(ctx, args[0], func(m *graph.Manager, _ *loader.Definition) error {
				node, err := lookup(ctx, m, args[1])
				if err != nil {
					return err
				}
				st, err := m.GetNodeStructure(ctx, node, opts...)
				if err != nil {
					return err
				}
				return writeStructure(cmd.OutOrStdout(), st, format)
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "Maximum depth below the node (0 is unbounded)")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or tree")
	return cmd
}

func writeStructure(w io.Writer, st *graph.Structure, format string) error {
	if format == "tree" {
		_, err := fmt.Fprintln(w, renderTree(st))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func renderTree(st *graph.Structure) *tree.Tree {
	t := tree.Root(label(st))
	for _, child := range st.Targets {
		if len(child.Targets) == 0 {
			t.Child(label(child))
			continue
		}
		t.Child(renderTree(child))
	}
	return t
}

func label(st *graph.Structure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%d]", st.ID, st.Type)
	if len(st.Props) > 0 {
		parts := make([]string, 0, len(st.Props))
		for _, k := range slices.Sorted(maps.Keys(st.Props)) {
			parts = append(parts, fmt.Sprintf("%s=%v", k, st.Props[k]))
		}
		fmt.Fprintf(&b, " {%s}", strings.Join(parts, " "))
	}
	if st.Truncated() {
		b.WriteString(" ...")
	}
	return b.String()
}
