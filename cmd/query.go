package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mindpulse/models"
	"mindpulse/store"
)

func newQueryCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "query <keywords>",
		Short: "Run one query and print the result as JSON",
		Long:  "Keywords are comma separated, e.g. mindpulse query \"anxiety, therapy\" --limit 20",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := models.ParseQuery(strings.Join(args, ","), limit)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.orchestrator.Run(cmd.Context(), q)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", models.DefaultLimit, "maximum number of posts")
	return cmd
}

func newAnalyzeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <text>",
		Short: "Score a piece of free text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.orchestrator.Analyze(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newCleanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clean [cache-key]",
		Short: "Re-filter cached entries, all of them when no key is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fp store.Fingerprint
			if len(args) == 1 {
				parsed, err := store.ParseFingerprint(args[0])
				if err != nil {
					return err
				}
				fp = parsed
			}
			a, err := newApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			removed, err := a.orchestrator.Clean(cmd.Context(), fp)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d moderator posts\n", removed)
			return nil
		},
	}
}

func newDashboardCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Print statistics for the newest result file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.orchestrator.Dashboard(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), d.Summary)
		},
	}
}

func newKeyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "key <keywords>",
		Short: "Print the cache key a query maps to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := models.ParseQuery(strings.Join(args, ","), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), store.KeyForQuery(q))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", models.DefaultLimit, "maximum number of posts")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
