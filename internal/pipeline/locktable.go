package pipeline

import (
	"path/filepath"
	"sync"
)

// lockTable hands out one mutex per normalized target path. Two entries that
// point at the same file serialize their swaps on it; everything before the
// swap still runs concurrently.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// forTarget returns the mutex guarding path. Paths are normalized so
// "./tools/rclone" and an absolute spelling of the same file share a lock.
func (t *lockTable) forTarget(path string) *sync.Mutex {
	key := filepath.Clean(path)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.locks[key]
	if !ok {
		m = &sync.Mutex{}
		t.locks[key] = m
	}
	return m
}
