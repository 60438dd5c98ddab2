package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/keepup-labs/keepup/internal/branding"
)

const (
	fileName = "config"
	fileType = "yaml"

	// KeyConcurrency sets the worker pool size for pipeline runs.
	KeyConcurrency = "concurrency"
	// KeyStagingDir overrides where downloads are staged before the swap.
	KeyStagingDir = "staging_dir"
	// KeyGitHubToken is the token attached to GitHub API requests.
	KeyGitHubToken = "github_token"
	// KeyBackupRetention is the default backup count kept per target.
	KeyBackupRetention = "backup_retention"
	// KeyLogLevel sets the default log verbosity (debug, info, warn, error).
	KeyLogLevel = "log_level"

	// DefaultBackupRetention applies when neither the entry nor the settings
	// file configures a retention count.
	DefaultBackupRetention = 3
)

// Dir returns the path to the keepup config directory (~/.keepup/).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", branding.HomeDir())
	}
	return filepath.Join(home, branding.HomeDir())
}

// FilePath returns the full path to the config file (~/.keepup/config.yaml).
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

// EnsureDir creates the config directory if it does not exist.
func EnsureDir() error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}

// Load initializes Viper to read from the config file and environment.
func Load() {
	viper.SetConfigFile(FilePath())
	viper.SetConfigType(fileType)
	viper.SetEnvPrefix(branding.EnvPrefix())
	viper.AutomaticEnv()

	// Ignore error if config file doesn't exist yet.
	_ = viper.ReadInConfig()
}

// Get returns a config value by key. Returns empty string if not set.
func Get(key string) string {
	return viper.GetString(key)
}

// GetInt returns an integer config value, or 0 when unset.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// Set writes a config key-value pair and saves the config file.
func Set(key, value string) error {
	if err := EnsureDir(); err != nil {
		return err
	}

	viper.Set(key, value)

	configFile := FilePath()

	// Create the file if it doesn't exist.
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("creating config file %s: %w", configFile, err)
		}
		f.Close()
	}

	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Concurrency resolves the worker pool size: the settings value when
// positive, otherwise one less than the CPU count, floored at one.
func Concurrency() int {
	if n := GetInt(KeyConcurrency); n > 0 {
		return n
	}
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// BackupRetention resolves the default backup retention count.
func BackupRetention() int {
	if n := GetInt(KeyBackupRetention); n > 0 {
		return n
	}
	return DefaultBackupRetention
}

// StagingDir resolves the staging root: the settings value when set,
// otherwise a keepup-specific directory under the OS temp dir.
func StagingDir() string {
	if dir := Get(KeyStagingDir); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), branding.CLIName())
}

// GitHubToken returns the token used for GitHub API requests, falling back
// to the conventional environment variables when the settings file has none.
func GitHubToken() string {
	if tok := Get(KeyGitHubToken); tok != "" {
		return tok
	}
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
		return tok
	}
	return os.Getenv("GH_TOKEN")
}

// LogLevel returns the configured log verbosity, defaulting to "info".
func LogLevel() string {
	if lvl := Get(KeyLogLevel); lvl != "" {
		return lvl
	}
	return "info"
}
