package commands

import (
	"github.com/spf13/cobra"

	"github.com/DrSkyle/propgraph/pkg/graph"
	"github.com/DrSkyle/propgraph/pkg/loader"
	"github.com/DrSkyle/propgraph/pkg/tui"
)

func newExploreCmd(a *app) *cobra.Command {
	var start string
	cmd := &cobra.Command{
		Use:   "explore <file>",
		Short: "Browse the graph interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withGraph(ctx, args[0], func(m *graph.Manager, _ *loader.Definition) error {
				var node graph.Node
				if start != "" {
					n, err := lookup(ctx, m, start)
					if err != nil {
						return err
					}
					node = n
				}
				return tui.Run(ctx, m, node)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Open this node instead of the node list")
	return cmd
}
