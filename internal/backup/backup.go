package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/keepup-labs/keepup/internal/platform"
)

// ErrFailed indicates a snapshot could not be taken. The target has not been
// touched when this is returned.
var ErrFailed = errors.New("backup failed")

const (
	stampLayout = "20060102T150405.000"
	suffix      = ".bak"
)

// Record describes one snapshot of an install target.
type Record struct {
	OriginalPath string    `json:"original_path"`
	BackupPath   string    `json:"backup_path"`
	CreatedAt    time.Time `json:"created_at"`
}

// Create copies target to a timestamped sibling and returns its record.
// A missing target returns (nil, nil): a first install has nothing to keep.
func Create(target string) (*Record, error) {
	info, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: inspecting %s: %v", ErrFailed, target, err)
	}

	now := time.Now()
	backupPath, err := freeName(target, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailed, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		err = platform.CopyLink(target, backupPath)
	case info.IsDir():
		err = platform.CopyTree(target, backupPath)
	default:
		err = platform.CopyFile(target, backupPath, info.Mode())
	}
	if err != nil {
		os.RemoveAll(backupPath)
		return nil, fmt.Errorf("%w: copying %s: %v", ErrFailed, target, err)
	}

	return &Record{OriginalPath: target, BackupPath: backupPath, CreatedAt: now}, nil
}

// Rotate deletes target's snapshots beyond the keep most recent ones.
func Rotate(target string, keep int) error {
	snaps, err := list(target)
	if err != nil {
		return err
	}
	if keep < 0 {
		keep = 0
	}
	if len(snaps) <= keep {
		return nil
	}
	for _, s := range snaps[keep:] {
		if err := os.RemoveAll(s.path); err != nil {
			return fmt.Errorf("removing old snapshot %s: %w", filepath.Base(s.path), err)
		}
	}
	return nil
}

type snapshot struct {
	path  string
	stamp time.Time
	seq   int
}

// list returns target's snapshots, newest first. Files whose names don't
// parse as one of our stamps are left alone.
func list(target string) ([]snapshot, error) {
	dir := filepath.Dir(target)
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading target directory: %w", err)
	}

	base := filepath.Base(target)
	var snaps []snapshot
	for _, de := range dirents {
		stamp, seq, ok := parseStamp(de.Name(), base)
		if !ok {
			continue
		}
		snaps = append(snaps, snapshot{
			path:  filepath.Join(dir, de.Name()),
			stamp: stamp,
			seq:   seq,
		})
	}

	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].stamp.Equal(snaps[j].stamp) {
			return snaps[i].stamp.After(snaps[j].stamp)
		}
		return snaps[i].seq > snaps[j].seq
	})
	return snaps, nil
}

// parseStamp recognizes <base>.<stamp>[-seq].bak names.
func parseStamp(name, base string) (time.Time, int, bool) {
	prefix := base + "."
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return time.Time{}, 0, false
	}
	core := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)

	seq := 1
	if i := strings.IndexByte(core, '-'); i >= 0 {
		n, err := strconv.Atoi(core[i+1:])
		if err != nil {
			return time.Time{}, 0, false
		}
		seq, core = n, core[:i]
	}

	stamp, err := time.ParseInLocation(stampLayout, core, time.Local)
	if err != nil {
		return time.Time{}, 0, false
	}
	return stamp, seq, true
}

// freeName picks the first unused snapshot name for this timestamp. Same-
// millisecond snapshots get a sequence suffix.
func freeName(target string, ts time.Time) (string, error) {
	for seq := 1; ; seq++ {
		name := filepath.Base(target) + "." + ts.Format(stampLayout)
		if seq > 1 {
			name += "-" + strconv.Itoa(seq)
		}
		candidate := filepath.Join(filepath.Dir(target), name+suffix)
		_, err := os.Lstat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("probing snapshot name: %w", err)
		}
	}
}

