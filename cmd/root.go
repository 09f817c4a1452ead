// Package cmd is the mindpulse command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// options flags shared by every subcommand
type options struct {
	configPath string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "mindpulse",
		Short: "Mental health discussion monitor for Reddit",
		Long: "mindpulse collects Reddit posts matching keywords, drops moderator noise, " +
			"annotates them with sentiment and insights and serves the results over HTTP.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (default ./mindpulse.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newQueryCmd(opts),
		newAnalyzeCmd(opts),
		newCleanCmd(opts),
		newDashboardCmd(opts),
		newKeyCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mindpulse %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// SetVersionInfo is called from main with values injected at link time.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}
