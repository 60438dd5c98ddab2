package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/keepup-labs/keepup/internal/config"
	"github.com/keepup-labs/keepup/internal/entries"
	"github.com/keepup-labs/keepup/internal/fetch"
	"github.com/keepup-labs/keepup/internal/pipeline"
	"github.com/keepup-labs/keepup/internal/procmgr"
	"github.com/keepup-labs/keepup/internal/source"
	"github.com/keepup-labs/keepup/internal/state"
	"github.com/keepup-labs/keepup/internal/swap"
)

var (
	runEntryNames  []string
	runConcurrency int
	runTimeout     time.Duration
	runDryRun      bool
	runForce       bool
	runGHToken     string
)

func init() {
	runCmd.Flags().StringSliceVar(&runEntryNames, "entries", nil, "Only process the named entries (comma separated)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Worker pool size (default: settings, else CPU count - 1)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Overall run deadline (e.g. 10m); 0 means none")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Verify and check without replacing anything")
	runCmd.Flags().BoolVar(&runForce, "force", false, "Update even when the remote content is unchanged")
	runCmd.Flags().StringVar(&runGHToken, "gh-token", "", "GitHub API token (default: settings, then GITHUB_TOKEN)")

	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Update all configured entries",
	Long: `Runs the update pipeline over every entry in the entries file: resolve the
remote source, download, verify, back up the current target, and swap the new
artifact into place.

  keepup run                    # update everything
  keepup run --entries rclone   # update one entry
  keepup run --dry-run          # report what would change
  keepup run --timeout 10m      # bound the whole run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doRun(cmd, runDryRun)
	},
}

// doRun executes the pipeline; check reuses it with dry-run forced on.
func doRun(cmd *cobra.Command, dryRun bool) error {
	logger := newLogger()

	path := entriesFilePath()
	file, err := entries.Load(path)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	selected, err := file.Select(runEntryNames)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	if len(selected) == 0 {
		return &ExitError{Code: ExitFatal, Err: fmt.Errorf("no entries configured in %s", path)}
	}

	token := runGHToken
	if token == "" {
		token = file.GitHubToken
	}
	if token == "" {
		token = config.GitHubToken()
	}

	store, err := state.Load(filepath.Join(config.Dir(), state.FileName))
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}

	procs := procmgr.New(procmgr.WithLogger(logger))
	runner := pipeline.New(
		source.New(source.WithToken(token)),
		fetch.New(
			fetch.WithStagingRoot(config.StagingDir()),
			fetch.WithLogger(logger),
		),
		swap.New(procs, swap.WithLogger(logger)),
		store,
		pipeline.WithConcurrency(concurrency()),
		pipeline.WithDefaultRetention(config.BackupRetention()),
		pipeline.WithDryRun(dryRun),
		pipeline.WithForce(runForce),
		pipeline.WithLogger(logger),
	)

	ctx := cmd.Context()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	summary := runner.Run(ctx, selected)
	printSummary(cmd.OutOrStdout(), summary)

	if summary.Failed > 0 {
		return &ExitError{
			Code: ExitPartial,
			Err:  fmt.Errorf("%d of %d entries failed", summary.Failed, len(summary.Results)),
		}
	}
	return nil
}

func concurrency() int {
	if runConcurrency > 0 {
		return runConcurrency
	}
	return config.Concurrency()
}

// printSummary renders the per-entry lines and the aggregate counts.
func printSummary(w io.Writer, s *pipeline.Summary) {
	for _, r := range s.Results {
		var status string
		switch r.Outcome {
		case pipeline.OutcomeUpdated:
			status = successStyle.Render("updated")
			if s.DryRun {
				status = successStyle.Render("would update")
			}
		case pipeline.OutcomeSkipped:
			status = skipStyle.Render("up to date")
		case pipeline.OutcomeTimedOut:
			status = warnStyle.Render("skipped (timeout)")
		case pipeline.OutcomeFailed:
			status = errorStyle.Render(fmt.Sprintf("failed (%s)", r.Kind))
		}
		fmt.Fprintf(w, "%s  %s\n", entryStyle.Render(r.Name), status)
		if r.Err != nil {
			fmt.Fprintf(w, "    %s\n", detailStyle.Render(r.Err.Error()))
		}
		if r.LaunchErr != nil {
			fmt.Fprintf(w, "    %s\n", warnStyle.Render("relaunch failed: "+r.LaunchErr.Error()))
		}
	}

	line := fmt.Sprintf("%d updated, %d up to date, %d failed", s.Updated, s.Skipped, s.Failed)
	if s.TimedOut > 0 {
		line += fmt.Sprintf(", %d timed out", s.TimedOut)
	}
	if s.DryRun {
		line += " (dry run)"
	}
	fmt.Fprintln(w, headerStyle.Render(line))
}
