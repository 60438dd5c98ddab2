package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keepup-labs/keepup/internal/entries"
)

func init() {
	rootCmd.AddCommand(entriesCmd)
}

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List the configured entries",
	Long: `Parses and validates the entries file and prints each entry with its
source and target. Validation problems are reported per issue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := entries.Load(entriesFilePath())
		if err != nil {
			return &ExitError{Code: ExitFatal, Err: err}
		}

		out := cmd.OutOrStdout()
		for _, e := range file.Entries {
			fmt.Fprintf(out, "%s\n", entryStyle.Render(e.Name))
			fmt.Fprintf(out, "    source:  %s\n", sourceSummary(e.Source))
			fmt.Fprintf(out, "    target:  %s\n", e.Target)
			if e.Archive {
				detail := "archive"
				if e.ArchiveInnerPath != "" {
					detail += ", inner path " + e.ArchiveInnerPath
				}
				if e.Flatten {
					detail += ", flattened tree"
				}
				fmt.Fprintf(out, "    %s\n", detailStyle.Render(detail))
			}
			if len(e.Processes) > 0 {
				fmt.Fprintf(out, "    %s\n", detailStyle.Render(fmt.Sprintf("manages processes: %v", e.Processes)))
			}
		}
		fmt.Fprintf(out, "%d entries\n", len(file.Entries))
		return nil
	},
}

func sourceSummary(s entries.Source) string {
	if s.Type == entries.SourceGitHubRelease {
		return fmt.Sprintf("github.com/%s (asset %s)", s.Repo, s.AssetPattern)
	}
	return s.URL
}
