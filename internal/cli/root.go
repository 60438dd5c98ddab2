package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/keepup-labs/keepup/internal/branding"
	"github.com/keepup-labs/keepup/internal/config"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string

	verbose     bool
	entriesFile string
)

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` keeps locally installed tools synchronized with their remote
sources: direct download URLs or GitHub release assets. Each configured entry
is verified, backed up, and atomically swapped into place, stopping and
relaunching processes that hold the target open.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&entriesFile, "file", "f", "", "entries file (default is $HOME/keepup.yaml)")
}

// Execute runs the root command with build info injected via ldflags. It
// exits the process itself so RunE handlers can signal exit codes through
// ExitError instead of calling os.Exit mid-command.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(versionString()),
		fang.WithNotifySignal(os.Interrupt),
	)
	if err == nil {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	os.Exit(1)
}

func versionString() string {
	if buildVersion == "dev" || buildVersion == "" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", buildVersion, buildCommit, buildDate)
}

// newLogger builds the run-scoped logger handed into the pipeline. Level
// resolution: --verbose wins, then the configured log_level.
func newLogger() *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
		Prefix:          branding.CLIName(),
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
		return logger
	}
	if lvl, err := log.ParseLevel(config.LogLevel()); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

// entriesFilePath resolves the entries file: the --file flag when given,
// else keepup.yaml in the user's home directory.
func entriesFilePath() string {
	if entriesFile != "" {
		return entriesFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return branding.CLIName() + ".yaml"
	}
	return filepath.Join(home, branding.CLIName()+".yaml")
}
