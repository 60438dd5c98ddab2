package digest

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrChecksumMismatch indicates the computed MD5 does not match the expected
// value. Callers classify with errors.Is.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ChecksumError carries the detail of a verification failure.
type ChecksumError struct {
	Path     string
	Expected string
	Got      string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Got)
}

// Unwrap returns ErrChecksumMismatch so callers can use errors.Is.
func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// MD5File computes the lowercase hex MD5 of the file at path, streaming so
// large artifacts are not loaded into memory.
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file for checksum: %w", err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyMD5 compares the file's MD5 against expected, case-insensitively.
// A mismatch returns a *ChecksumError wrapping ErrChecksumMismatch.
func VerifyMD5(path, expected string) error {
	got, err := MD5File(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, expected) {
		return &ChecksumError{
			Path:     path,
			Expected: strings.ToLower(expected),
			Got:      got,
		}
	}
	return nil
}

// Fingerprint computes the lowercase hex BLAKE3 digest of the file at path.
// Used as a content identity token when a source offers no validators.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file for fingerprint: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
