package platform

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Chmod sets file permissions. On Windows this is a no-op because Windows
// does not support Unix-style permission bits.
func Chmod(path string, mode os.FileMode) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(path, mode)
}

// ReplaceFile moves newPath over target in one step. newPath must sit on the
// same filesystem as target. On Unix a rename replaces the destination even
// while the old file is executing; on Windows a locked original cannot be
// overwritten but can be renamed aside, so that is what happens.
func ReplaceFile(newPath, target string) error {
	err := os.Rename(newPath, target)
	if err == nil || runtime.GOOS != "windows" {
		return err
	}

	aside := asideName(target)
	if renameErr := os.Rename(target, aside); renameErr != nil {
		if errors.Is(renameErr, fs.ErrNotExist) {
			// Target wasn't there; the direct rename failed for
			// some other reason.
			return err
		}
		return fmt.Errorf("moving locked target aside: %w", renameErr)
	}
	if err := os.Rename(newPath, target); err != nil {
		os.Rename(aside, target)
		return err
	}
	// The old image may stay mapped until its process exits; removal is
	// best-effort.
	os.Remove(aside)
	return nil
}

// ReplaceDir swaps a directory target for newPath. The old tree is renamed
// aside before the new one moves in, so a failure leaves either the old or
// the new tree in place, never a mix of both.
func ReplaceDir(newPath, target string) error {
	aside := asideName(target)
	if err := os.Rename(target, aside); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return os.Rename(newPath, target)
		}
		return fmt.Errorf("moving old directory aside: %w", err)
	}
	if err := os.Rename(newPath, target); err != nil {
		if restoreErr := os.Rename(aside, target); restoreErr != nil {
			return fmt.Errorf("installing new directory: %w (old tree stranded at %s)", err, aside)
		}
		return err
	}
	// Replacement took effect; the old tree is litter now.
	os.RemoveAll(aside)
	return nil
}

func asideName(target string) string {
	return fmt.Sprintf("%s.old-%d", target, time.Now().UnixNano())
}

// CopyFile copies src to dst with the given permission bits, syncing before
// close so a rename of dst afterwards publishes fully-written bytes.
func CopyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyTree copies the directory tree at src to dst, preserving permission
// bits and recreating symlinks as symlinks.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		dest := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(dest, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			return CopyLink(p, dest)
		default:
			return CopyFile(p, dest, info.Mode())
		}
	})
}

// CopyLink recreates the symlink at src as dst.
func CopyLink(src, dst string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return err
	}
	return os.Symlink(link, dst)
}
