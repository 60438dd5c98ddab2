package digest

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// ErrNoChecksumEntry indicates a checksum file contained no usable hash.
var ErrNoChecksumEntry = errors.New("no checksum entry found")

// ParseChecksumFile extracts the expected MD5 for assetName from a published
// digest file. Two layouts are accepted: a bare hash on its own line, or
// md5sum-style "hash  filename" lines. When a filename column is present the
// line matching assetName wins; otherwise the first parseable hash is used.
func ParseChecksumFile(r io.Reader, assetName string) (string, error) {
	first := ""
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		hash := fields[0]
		if !isHexMD5(hash) {
			continue
		}

		if len(fields) >= 2 {
			// md5sum marks binary-mode files with a leading asterisk.
			name := strings.TrimPrefix(fields[1], "*")
			if name == assetName {
				return strings.ToLower(hash), nil
			}
		}
		if first == "" {
			first = strings.ToLower(hash)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	if first == "" {
		return "", ErrNoChecksumEntry
	}
	return first, nil
}

// isHexMD5 checks if s is a 32-character hex string.
func isHexMD5(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
