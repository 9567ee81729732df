package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DrSkyle/propgraph/pkg/config"
	"github.com/DrSkyle/propgraph/pkg/telemetry"
	"github.com/DrSkyle/propgraph/pkg/version"
)

// app is the state shared by every subcommand after PersistentPreRunE.
type app struct {
	cfgFile  string
	jsonLogs bool
	backend  string

	cfg      config.Config
	logger   *slog.Logger
	shutdown func(context.Context) error
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "propgraph",
		Short: "Typed property graph toolkit",
		Long: `propgraph loads typed property graphs from YAML or HCL definitions
and inspects, snapshots and exports them.`,
		Version:       version.Current,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.shutdown != nil {
				return a.shutdown(context.WithoutCancel(cmd.Context()))
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "Config file (default $HOME/.propgraph.yaml)")
	flags.BoolVar(&a.jsonLogs, "json-logs", false, "Log as JSON")
	flags.StringVar(&a.backend, "backend", "", "Storage backend: memory, redis, badger, dynamodb")
	flags.String("log-level", "", "Log level: debug, info, warn, error")

	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd)
	})

	root.AddCommand(
		newLoadCmd(a),
		newNodesCmd(a),
		newStructureCmd(a),
		newExportCmd(a),
		newExploreCmd(a),
		newVersionCmd(),
	)
	return root
}

func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) init(cmd *cobra.Command) error {
	v := viper.New()
	path := a.cfgFile
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			if p := filepath.Join(home, ".propgraph.yaml"); fileExists(p) {
				path = p
			}
		}
	}
	if err := v.BindPFlag("log.level", cmd.Flags().Lookup("log-level")); err != nil {
		return err
	}
	if a.backend != "" {
		v.Set("backend", a.backend)
	}
	if a.jsonLogs {
		v.Set("log.format", "json")
	}

	cfg, err := config.Load(v, path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := cfg.Log.SlogLevel()
	a.logger = telemetry.NewLogger(cmd.ErrOrStderr(), level, cfg.Log.Format == "json")
	slog.SetDefault(a.logger)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(cmd.Context(), version.AppName, version.Current, cfg.Telemetry.OtlpEndpoint)
		if err != nil {
			a.logger.Warn("Telemetry failed", "error", err)
		} else {
			a.shutdown = shutdown
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func renderHelp(cmd *cobra.Command) {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00FF99")).
		MarginBottom(1)
	flagStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("PROPGRAPH %s", version.Current)))
	if cmd.Long != "" {
		fmt.Fprintln(out, cmd.Long)
	} else {
		fmt.Fprintln(out, cmd.Short)
	}

	fmt.Fprintln(out, titleStyle.Render("USAGE"))
	fmt.Fprintf(out, "  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintln(out, titleStyle.Render("COMMANDS"))
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Fprintf(out, "  %-12s %s\n", c.Name(), c.Short)
			}
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, titleStyle.Render("FLAGS"))
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		line := fmt.Sprintf("  --%-15s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
			line += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Fprintln(out, flagStyle.Render(line))
	})
	fmt.Fprintln(out)
}
