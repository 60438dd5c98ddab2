// Package state persists what is currently installed: for every entry, the
// identity token of the artifact that last made it to the target. The next
// run compares resolved identities against this file to skip entries that
// haven't changed upstream.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the state file's name inside the config directory.
const FileName = "state.json"

// Entry records the installed artifact's identity for one entries-file
// entry.
type Entry struct {
	Token     string    `json:"token"`
	Asset     string    `json:"asset,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the set of installed identities, keyed by entry name. It is safe
// for concurrent use.
type Store struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
}

// Load reads the store at path. A missing file is an empty store, not an
// error: first runs start blank.
func Load(path string) (*Store, error) {
	s := &Store{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	return s, nil
}

// Get returns the recorded identity for an entry name.
func (s *Store) Get(name string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	return e, ok
}

// Put records an entry's installed identity.
func (s *Store) Put(name string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = e
}

// Save writes the store back to disk. The file is replaced wholesale via a
// temp-and-rename so a crash never leaves it half-written.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("creating state temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
