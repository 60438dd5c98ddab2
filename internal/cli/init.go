package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const starterEntries = `# keepup entries file.
# Each entry names one artifact to keep current. Run "keepup check" to see
# what would change, "keepup run" to apply.

variables:
  tools: /opt/tools

entries:
  - name: rclone
    source:
      type: github_release
      repo: rclone/rclone
      asset_pattern: "rclone-*-linux-amd64.zip"
    target: "{{tools}}/rclone"
    archive: true
    archive_inner_path: "rclone-*/rclone"

  # - name: mytool
  #   source:
  #     type: url
  #     url: https://example.com/mytool
  #   target: "{{tools}}/mytool"
  #   checksum_url: https://example.com/mytool.md5
  #   processes: [mytool]
  #   relaunch: true
`

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter entries file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := entriesFilePath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("entries file already exists at %s", path)
		}
		if err := os.WriteFile(path, []byte(starterEntries), 0o644); err != nil {
			return fmt.Errorf("writing entries file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
		return nil
	},
}
