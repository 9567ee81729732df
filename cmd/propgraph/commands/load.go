package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/propgraph/pkg/graph"
	"github.com/DrSkyle/propgraph/pkg/loader"
)

func newLoadCmd(a *app) *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Load a graph definition and print stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withGraph(ctx, args[0], func(m *graph.Manager, _ *loader.Definition) error {
				stats, err := m.Stats(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "nodes: %d\nedges: %d\n", stats.Nodes, stats.Edges)
				if !dump {
					return nil
				}
				def, err := loader.Dump(ctx, m)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "---")
				return def.WriteYAML(out)
			})
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "Print the loaded graph as normalized YAML")
	return cmd
}
