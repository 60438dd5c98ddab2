package entries

// File is the root of a parsed entries file.
type File struct {
	Variables   map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	GitHubToken string            `yaml:"github_token,omitempty" json:"github_token,omitempty"`
	Entries     []Entry           `yaml:"entries" json:"entries"`
}

// Entry describes one artifact to keep current: its remote source, the local
// target path, and the verification, backup, and relaunch policy around the
// swap.
type Entry struct {
	Name   string `yaml:"name" json:"name"`
	Source Source `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`

	// Checksum is the expected MD5 of the downloaded payload, hex encoded.
	// ChecksumURL points at a published digest file to fetch instead.
	// When both are empty, verification is skipped.
	Checksum    string `yaml:"checksum,omitempty" json:"checksum,omitempty"`
	ChecksumURL string `yaml:"checksum_url,omitempty" json:"checksum_url,omitempty"`

	// Processes identifies running processes that hold the target open,
	// by executable name or full path.
	Processes []string `yaml:"processes,omitempty" json:"processes,omitempty"`

	// Archive marks the download as a container to extract from rather than
	// the artifact itself. ArchiveInnerPath selects the file inside it
	// (exact path or glob); Flatten strips a sole top-level directory.
	Archive          bool   `yaml:"archive,omitempty" json:"archive,omitempty"`
	ArchiveInnerPath string `yaml:"archive_inner_path,omitempty" json:"archive_inner_path,omitempty"`
	Flatten          bool   `yaml:"flatten,omitempty" json:"flatten,omitempty"`

	// Launch starts a command after a successful swap. Relaunch restarts
	// processes that were stopped to release the target, even without an
	// explicit launch block.
	Launch   *Launch `yaml:"launch,omitempty" json:"launch,omitempty"`
	Relaunch bool    `yaml:"relaunch,omitempty" json:"relaunch,omitempty"`

	// BackupRetention overrides how many timestamped backups to keep for
	// this target. Zero means the configured default.
	BackupRetention int `yaml:"backup_retention,omitempty" json:"backup_retention,omitempty"`

	// Variables are entry-local substitutions, merged over the file-level
	// set with the entry winning on conflicts.
	Variables map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
}

// Source declares where an entry's payload comes from. Type discriminates:
// "url" sources use URL; "github_release" sources use Repo plus AssetPattern.
type Source struct {
	Type string `yaml:"type" json:"type"`

	// URL is the direct download location for url sources.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Repo is the owner/name pair for github_release sources. AssetPattern
	// matches the release asset by exact name or glob. AssetSelect breaks
	// ties when the pattern matches more than one asset.
	Repo              string `yaml:"repo,omitempty" json:"repo,omitempty"`
	AssetPattern      string `yaml:"asset_pattern,omitempty" json:"asset_pattern,omitempty"`
	AssetSelect       string `yaml:"asset_select,omitempty" json:"asset_select,omitempty"`
	IncludePrerelease bool   `yaml:"include_prerelease,omitempty" json:"include_prerelease,omitempty"`
}

// Launch describes the command to start after a successful swap.
type Launch struct {
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
	Cwd     string   `yaml:"cwd,omitempty" json:"cwd,omitempty"`
}

// Source type constants for the type discriminator field.
const (
	SourceURL           = "url"
	SourceGitHubRelease = "github_release"
)

// Asset tie-break constants for Source.AssetSelect.
const (
	SelectFirst        = "first"
	SelectAlphabetical = "alphabetical"
	SelectLargest      = "largest"
)

// ValidSourceTypes contains all valid source type values.
var ValidSourceTypes = []string{
	SourceURL,
	SourceGitHubRelease,
}
