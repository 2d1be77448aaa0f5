package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with its subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createCheckCommand(globalFlags),
		createVersionCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "recpanel",
		Short: "Control panel for a recording process",
		Long: `Recpanel starts and stops a recording script, shows its output live
and keeps running in the tray while the panel is minimized.

Examples:
  recpanel run --config recpanel.toml
  recpanel run --autostart --grace 5s
  recpanel check --config recpanel.toml   # show the resolved command`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createRunCommand creates the run subcommand
func createRunCommand(globalFlags *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the control panel",
		Long: `Open the interactive control panel. Type help for the panel commands.

Examples:
  recpanel run
  recpanel run --autostart          # start recording right away
  recpanel run --no-tray            # close quits instead of minimizing`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPanel(cmd, globalFlags, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.Autostart, "autostart", false, "start recording when the panel opens")
	cmd.Flags().BoolVar(&flags.NoTray, "no-tray", false, "run without a tray icon")
	cmd.Flags().DurationVar(&flags.Grace, "grace", 0, "grace period before a stop is forced (overrides config)")
	return cmd
}

// createCheckCommand creates the check subcommand
func createCheckCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the resolved command",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkConfig(cmd.OutOrStdout(), globalFlags)
		},
	}
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "recpanel %s\n", version)
		},
	}
}
