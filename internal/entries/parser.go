package entries

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// InvalidError reports that an entries file failed schema or semantic
// validation. Issues carries the individual violations.
type InvalidError struct {
	Path   string
	Issues []ValidationIssue
}

func (e *InvalidError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "entries file %s has %d issue(s)", e.Path, len(e.Issues))
	for _, issue := range e.Issues {
		b.WriteString("\n  ")
		if issue.Path != "" {
			b.WriteString(issue.Path)
			b.WriteString(": ")
		}
		b.WriteString(issue.Message)
	}
	return b.String()
}

// Load reads an entries file, validates it against the embedded schema,
// expands variable references, and applies defaults. This is the one call
// sites need; the returned File is ready for the pipeline.
func Load(path string) (*File, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return load(data, path)
}

func load(data []byte, path string) (*File, error) {
	result, err := Validate(data)
	if err != nil {
		return nil, fmt.Errorf("validating entries file %s: %w", path, err)
	}
	if !result.Valid {
		return nil, &InvalidError{Path: path, Issues: result.Issues}
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing entries file %s: %w", path, err)
	}

	applyDefaults(&f)

	if issues := checkSemantics(&f); len(issues) > 0 {
		return nil, &InvalidError{Path: path, Issues: issues}
	}

	if err := expandFile(&f); err != nil {
		return nil, fmt.Errorf("expanding variables in %s: %w", path, err)
	}

	return &f, nil
}

// Select returns the subset of entries with the given names, in file order.
// An empty names slice selects everything. Unknown names are an error.
func (f *File) Select(names []string) ([]Entry, error) {
	if len(names) == 0 {
		return f.Entries, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	var selected []Entry
	for _, e := range f.Entries {
		if wanted[e.Name] {
			selected = append(selected, e)
			delete(wanted, e.Name)
		}
	}

	if len(wanted) > 0 {
		unknown := make([]string, 0, len(wanted))
		for name := range wanted {
			unknown = append(unknown, name)
		}
		return nil, fmt.Errorf("unknown entries requested: %s", strings.Join(unknown, ", "))
	}

	return selected, nil
}

// applyDefaults fills fields the schema leaves optional.
func applyDefaults(f *File) {
	for i := range f.Entries {
		e := &f.Entries[i]
		if e.Source.Type == SourceGitHubRelease && e.Source.AssetSelect == "" {
			e.Source.AssetSelect = SelectFirst
		}
	}
}

// checkSemantics enforces the cross-field rules the schema cannot express.
func checkSemantics(f *File) []ValidationIssue {
	var issues []ValidationIssue

	seen := make(map[string]bool, len(f.Entries))
	for i, e := range f.Entries {
		loc := fmt.Sprintf("/entries/%d", i)

		if seen[e.Name] {
			issues = append(issues, ValidationIssue{
				Path:    loc + "/name",
				Message: fmt.Sprintf("duplicate entry name %q", e.Name),
			})
		}
		seen[e.Name] = true

		if e.Checksum != "" && e.ChecksumURL != "" {
			issues = append(issues, ValidationIssue{
				Path:    loc + "/checksum_url",
				Message: "checksum and checksum_url are mutually exclusive",
			})
		}

		if !e.Archive && e.ArchiveInnerPath != "" {
			issues = append(issues, ValidationIssue{
				Path:    loc + "/archive_inner_path",
				Message: "archive_inner_path requires archive: true",
			})
		}

		if !e.Archive && e.Flatten {
			issues = append(issues, ValidationIssue{
				Path:    loc + "/flatten",
				Message: "flatten requires archive: true",
			})
		}

		if e.ArchiveInnerPath != "" && e.Flatten {
			issues = append(issues, ValidationIssue{
				Path:    loc + "/flatten",
				Message: "archive_inner_path and flatten are mutually exclusive: the first installs a single file, the second installs the whole tree",
			})
		}
	}

	return issues
}

// readFile reads the contents of a file at the given path.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return data, nil
}
