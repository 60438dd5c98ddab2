package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupported indicates the payload's signature matches no known
	// archive format.
	ErrUnsupported = errors.New("unsupported archive format")

	// ErrCorrupt indicates the container was recognized but could not be
	// read.
	ErrCorrupt = errors.New("archive corrupt")

	// ErrAmbiguous indicates inner-file selection could not single out
	// exactly one file.
	ErrAmbiguous = errors.New("ambiguous archive contents")
)

// maxEntrySize caps a single extracted file. Anything larger is treated as a
// decompression bomb.
const maxEntrySize int64 = 8 << 30

// Format identifies a recognized container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatGzip
	FormatZstd
	FormatLZ4
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatGzip:
		return "gzip"
	case FormatZstd:
		return "zstd"
	case FormatLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// Format signatures. Extensions lie; these do not.
var (
	sigZip  = []byte{0x50, 0x4b, 0x03, 0x04}
	sigGzip = []byte{0x1f, 0x8b}
	sigZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	sigLZ4  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Detect sniffs the file's leading bytes and returns its format.
// Unrecognized signatures return ErrUnsupported.
func Detect(archivePath string) (Format, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return FormatUnknown, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	head := make([]byte, 4)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return FormatUnknown, fmt.Errorf("reading archive header: %w", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, sigZip):
		return FormatZip, nil
	case bytes.HasPrefix(head, sigGzip):
		return FormatGzip, nil
	case bytes.HasPrefix(head, sigZstd):
		return FormatZstd, nil
	case bytes.HasPrefix(head, sigLZ4):
		return FormatLZ4, nil
	default:
		return FormatUnknown, fmt.Errorf("%w: no known signature in %s", ErrUnsupported, filepath.Base(archivePath))
	}
}

// entryMatches tests a slash-normalized archive path against the configured
// inner path, exact or glob.
func entryMatches(name, pattern string) (bool, error) {
	if name == pattern {
		return true, nil
	}
	ok, err := path.Match(pattern, name)
	if err != nil {
		return false, fmt.Errorf("invalid inner path pattern %q: %w", pattern, err)
	}
	return ok, nil
}

// normalizeEntryName cleans an archive member path to slash form. Unsafe
// names (absolute, drive-qualified, or escaping the root) are rejected.
func normalizeEntryName(name string) (string, error) {
	cleaned := path.Clean(filepath.ToSlash(name))
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("%w: empty entry name", ErrCorrupt)
	}
	if path.IsAbs(cleaned) || strings.HasPrefix(cleaned, "../") || cleaned == ".." || strings.Contains(cleaned, ":") {
		return "", fmt.Errorf("%w: unsafe entry path %q", ErrCorrupt, name)
	}
	return cleaned, nil
}

// destInsideRoot joins a normalized entry name onto root and verifies the
// result stays inside root.
func destInsideRoot(root, name string) (string, error) {
	dest := filepath.Join(root, filepath.FromSlash(name))
	if !strings.HasPrefix(dest, filepath.Clean(root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: entry %q escapes extraction root", ErrCorrupt, name)
	}
	return dest, nil
}

// isTopLevel reports whether a normalized entry name sits at the archive
// root.
func isTopLevel(name string) bool {
	return !strings.Contains(name, "/")
}

// strippedName derives a filename for a bare compressed stream (no tar
// inside) from the archive filename, dropping the compression suffix.
func strippedName(archivePath string) string {
	base := filepath.Base(archivePath)
	if ext := filepath.Ext(base); ext != "" && len(ext) < len(base) {
		return strings.TrimSuffix(base, ext)
	}
	return base
}
