package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/propgraph/pkg/graph"
	"github.com/DrSkyle/propgraph/pkg/loader"
	"github.com/DrSkyle/propgraph/pkg/snapshot"
)

func newExportCmd(a *app) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "export <file> <id>",
		Short: "Archive the structure snapshot of a node",
		Long: `Build the structure snapshot of a node and write it to the snapshot
archive (a directory or s3://bucket/prefix).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if target == "" {
				target = a.cfg.Snapshot.Target
			}
			archive, err := snapshot.Open(ctx, target, snapshot.WithLogger(a.logger))
			if err != nil {
				return err
			}
			return a.withGraph(ctx, args[0], func(m *graph.Manager, _ *loader.Definition) error {
				node, err := lookup(ctx, m, args[1])
				if err != nil {
					return err
				}
				st, err := m.GetNodeStructure(ctx, node)
				if err != nil {
					return err
				}
				key, err := archive.Save(ctx, st)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s\n", key, target)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Snapshot target (overrides snapshot.target)")
	return cmd
}
