package commands

import (
	"fmt"
	"iter"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/propgraph/pkg/graph"
	"github.com/DrSkyle/propgraph/pkg/loader"
)

func newNodesCmd(a *app) *cobra.Command {
	var nodeType int
	cmd := &cobra.Command{
		Use:   "nodes <file>",
		Short: "List nodes with their degree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			byType := cmd.Flags().Changed("type")
			return a.withGraph(ctx, args[0], func(m *graph.Manager, _ *loader.Definition) error {
				var seq iter.Seq2[graph.Node, error]
				if byType {
					seq = m.GetNodesByType(ctx, nodeType)
				} else {
					seq = m.GetAllNodes(ctx)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-24s %6s %4s %4s\n", "ID", "TYPE", "OUT", "IN")
				for n, err := range seq {
					if err != nil {
						return err
					}
					outDeg, err := m.GetTargetEdgeCount(ctx, n)
					if err != nil {
						return err
					}
					inDeg, err := m.GetSourceEdgeCount(ctx, n)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%-24s %6d %4d %4d\n", n.NodeID(), n.NodeType(), outDeg, inDeg)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&nodeType, "type", 0, "Only list nodes of this type")
	return cmd
}
