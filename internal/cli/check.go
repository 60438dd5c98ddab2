package cli

import "github.com/spf13/cobra"

func init() {
	// check shares run's selection and scheduling flags; only the dry-run
	// choice is fixed.
	checkCmd.Flags().StringSliceVar(&runEntryNames, "entries", nil, "Only process the named entries (comma separated)")
	checkCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Worker pool size (default: settings, else CPU count - 1)")
	checkCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Overall run deadline (e.g. 10m); 0 means none")
	checkCmd.Flags().StringVar(&runGHToken, "gh-token", "", "GitHub API token (default: settings, then GITHUB_TOKEN)")

	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report which entries would be updated, without changing anything",
	Long: `Runs the pipeline in dry-run mode: sources are resolved, payloads
downloaded and verified, and the backup preconditions checked, but no target
file is replaced and no state is recorded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doRun(cmd, true)
	},
}
