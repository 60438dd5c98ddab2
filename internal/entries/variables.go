package entries

import (
	"fmt"
	"os"
	"regexp"
)

// maxExpandRounds bounds iterative substitution so that variables referencing
// each other in a cycle fail instead of spinning.
const maxExpandRounds = 10

var (
	varRef = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)
	envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// UndefinedVariableError reports a {{variable}} or ${ENV} reference with no
// definition in scope.
type UndefinedVariableError struct {
	Name  string // the referenced variable
	Field string // which entry field contained the reference
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variable %q in %s", e.Name, e.Field)
}

// expandFile resolves all variable references in place. Entry-local variables
// are merged over the file-level set, with the entry winning on conflicts.
func expandFile(f *File) error {
	for i := range f.Entries {
		vars := mergeVariables(f.Variables, f.Entries[i].Variables)
		if err := expandEntry(&f.Entries[i], vars); err != nil {
			return fmt.Errorf("entry %q: %w", f.Entries[i].Name, err)
		}
	}
	return nil
}

func mergeVariables(global, local map[string]string) map[string]string {
	merged := make(map[string]string, len(global)+len(local))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range local {
		merged[k] = v
	}
	return merged
}

func expandEntry(e *Entry, vars map[string]string) error {
	fields := []struct {
		name string
		dst  *string
	}{
		{"target", &e.Target},
		{"source.url", &e.Source.URL},
		{"source.asset_pattern", &e.Source.AssetPattern},
		{"checksum_url", &e.ChecksumURL},
		{"archive_inner_path", &e.ArchiveInnerPath},
	}
	for _, f := range fields {
		expanded, err := expandString(*f.dst, f.name, vars)
		if err != nil {
			return err
		}
		*f.dst = expanded
	}

	for i := range e.Processes {
		expanded, err := expandString(e.Processes[i], fmt.Sprintf("processes[%d]", i), vars)
		if err != nil {
			return err
		}
		e.Processes[i] = expanded
	}

	if e.Launch != nil {
		expanded, err := expandString(e.Launch.Command, "launch.command", vars)
		if err != nil {
			return err
		}
		e.Launch.Command = expanded

		for i := range e.Launch.Args {
			expanded, err := expandString(e.Launch.Args[i], fmt.Sprintf("launch.args[%d]", i), vars)
			if err != nil {
				return err
			}
			e.Launch.Args[i] = expanded
		}

		expanded, err = expandString(e.Launch.Cwd, "launch.cwd", vars)
		if err != nil {
			return err
		}
		e.Launch.Cwd = expanded
	}

	return nil
}

// expandString substitutes {{var}} references from vars and ${ENV} references
// from the environment. Substitution repeats so variable values may themselves
// contain references, up to maxExpandRounds.
func expandString(s, field string, vars map[string]string) (string, error) {
	if s == "" {
		return s, nil
	}

	for round := 0; round < maxExpandRounds; round++ {
		var missing *UndefinedVariableError

		next := varRef.ReplaceAllStringFunc(s, func(ref string) string {
			name := varRef.FindStringSubmatch(ref)[1]
			val, ok := vars[name]
			if !ok {
				if missing == nil {
					missing = &UndefinedVariableError{Name: name, Field: field}
				}
				return ref
			}
			return val
		})
		next = envRef.ReplaceAllStringFunc(next, func(ref string) string {
			name := envRef.FindStringSubmatch(ref)[1]
			val, ok := os.LookupEnv(name)
			if !ok {
				if missing == nil {
					missing = &UndefinedVariableError{Name: name, Field: field}
				}
				return ref
			}
			return val
		})

		if missing != nil {
			return "", missing
		}
		if next == s {
			return next, nil
		}
		s = next
	}

	return "", fmt.Errorf("variable expansion in %s did not settle after %d rounds", field, maxExpandRounds)
}
