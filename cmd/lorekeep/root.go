package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nathoo/lorekeep/cli"
	"github.com/nathoo/lorekeep/engine/save"
	"github.com/nathoo/lorekeep/loader"
	"github.com/nathoo/lorekeep/tui"
)

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "lorekeep",
		Short: "Prototype item store with formula ratings",
		Long: `Lorekeep keeps items that inherit attributes from the items they extend,
and rates each one by evaluating its formula over the combined values.

Examples:
  # Load Lua definitions into the default database
  lorekeep import ./settings/armoury

  # Rate an item
  lorekeep rate 12

  # Open the interactive console on setting 2
  lorekeep console --setting 2`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file (default ~/.lorekeep/config.yaml)")
	flags.StringVar(&a.driver, "driver", "", "Storage driver: sqlite|json|memory")
	flags.StringVarP(&a.dbPath, "db", "d", "", "Storage file path")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error")

	root.AddCommand(
		newImportCmd(a),
		newConsoleCmd(a),
		newShowCmd(a),
		newRateCmd(a),
		newTypesCmd(a),
		newReindexCmd(a),
		newExportCmd(a),
		newVersionCmd(),
	)
	return root
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad id %q", s)
	}
	return id, nil
}

func newImportCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Load Lua setting definitions from a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := loader.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, w := range loader.Warnings(b) {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			ids, err := loader.Import(ctx, a.store, b)
			if err != nil {
				return err
			}
			if _, err := a.engine.ReindexAll(ctx); err != nil {
				return err
			}
			fmt.Fprintf(out, "Imported %d settings and %d items.\n", len(ids.Settings), len(ids.Items))
			if verbose {
				for _, s := range b.Settings {
					fmt.Fprintf(out, "  setting %s #%d\n", s.Key, ids.Settings[s.Key])
				}
				for _, it := range b.Items {
					fmt.Fprintf(out, "  item %s #%d\n", it.Key, ids.Items[it.Key])
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List the ids given to each key")
	return cmd
}

func newConsoleCmd(a *app) *cobra.Command {
	var (
		plain   bool
		trace   bool
		script  string
		setting int64
	)
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Browse and edit items interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := cli.New(a.engine)
			c.Out = cmd.OutOrStdout()
			c.Session.Trace = trace

			// Script mode: read the file, force plain, echo commands.
			if script != "" {
				f, err := os.Open(script)
				if err != nil {
					return fmt.Errorf("open script: %w", err)
				}
				defer f.Close()
				c.In = f
				c.EchoInput = true
				if setting != 0 {
					c.Session.Exec(ctx, fmt.Sprintf("/setting %d", setting))
				}
				c.Run(ctx)
				return nil
			}

			// Use plain CLI if --plain flag or stdout is not a terminal.
			if plain || !isTerminal() {
				if setting != 0 {
					c.Session.Exec(ctx, fmt.Sprintf("/setting %d", setting))
				}
				c.Run(ctx)
				return nil
			}
			return tui.Run(ctx, a.engine, setting)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Use the line console instead of the TUI")
	cmd.Flags().BoolVar(&trace, "trace", false, "Show value origins")
	cmd.Flags().StringVar(&script, "script", "", "Run console commands from a file")
	cmd.Flags().Int64VarP(&setting, "setting", "s", 0, "Setting to select at start")
	return cmd
}

// runLine runs one console line and fails when it reports an error.
func runLine(a *app, cmd *cobra.Command, line string) error {
	res := cli.NewSession(a.engine).Exec(cmd.Context(), line)
	out := cmd.OutOrStdout()
	for _, l := range res.Output {
		if msg, ok := strings.CutPrefix(l, "Error: "); ok {
			return fmt.Errorf("%s", msg)
		}
		fmt.Fprintln(out, l)
	}
	return nil
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an item with its combined attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runLine(a, cmd, fmt.Sprintf("show #%d", id))
		},
	}
}

func newRateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rate <id>...",
		Short: "Print the rate of items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				rate, err := a.engine.RateText(cmd.Context(), id)
				if err != nil {
					return err
				}
				if len(args) == 1 {
					fmt.Fprintln(cmd.OutOrStdout(), rate)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "#%d\t%s\n", id, rate)
				}
			}
			return nil
		},
	}
}

func newTypesCmd(a *app) *cobra.Command {
	var setting int64
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the type items visible from a setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.engine.Types(cmd.Context(), setting)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", n.ID, n.Name)
			}
			return nil
		},
	}
	cmd.Flags().Int64VarP(&setting, "setting", "s", 0, "Setting id")
	_ = cmd.MarkFlagRequired("setting")
	return cmd
}

func newReindexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the type index of every item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.engine.ReindexAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %d items.\n", n)
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write every item and setting as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dump, err := a.engine.Export(cmd.Context())
			if err != nil {
				return err
			}
			data, err := save.Marshal(dump)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				_, err := cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(args[0], data, 0o644)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lorekeep %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// isTerminal returns true if stdout is a terminal (not piped/redirected).
func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
