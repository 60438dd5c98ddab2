package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ExtractFile pulls the single file an entry swap needs out of the archive
// and writes it into destDir, returning its path. innerPath selects the file
// by slash-normalized archive path, exact or glob; when empty, the archive
// must contain exactly one top-level file.
func ExtractFile(archivePath, destDir, innerPath string) (string, error) {
	format, err := Detect(archivePath)
	if err != nil {
		return "", err
	}

	if format == FormatZip {
		return extractFileFromZip(archivePath, destDir, innerPath)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	stream, closeStream, err := decompress(f, format)
	if err != nil {
		return "", err
	}
	defer closeStream()

	br := bufio.NewReader(stream)
	if isTarStream(br) {
		return extractFileFromTar(tar.NewReader(br), destDir, innerPath)
	}

	// A bare compressed file: the stream itself is the sole file.
	dest := filepath.Join(destDir, strippedName(archivePath))
	if err := writeLimited(dest, br, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

// ExtractDir unpacks the whole archive into destDir, preserving relative
// paths. With flatten set, a sole top-level directory is stripped and its
// contents lifted into destDir.
func ExtractDir(archivePath, destDir string, flatten bool) error {
	format, err := Detect(archivePath)
	if err != nil {
		return err
	}

	switch format {
	case FormatZip:
		if err := extractDirFromZip(archivePath, destDir); err != nil {
			return err
		}
	default:
		f, err := os.Open(archivePath)
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer f.Close()

		stream, closeStream, err := decompress(f, format)
		if err != nil {
			return err
		}
		defer closeStream()

		br := bufio.NewReader(stream)
		if isTarStream(br) {
			if err := extractDirFromTar(tar.NewReader(br), destDir); err != nil {
				return err
			}
		} else {
			dest := filepath.Join(destDir, strippedName(archivePath))
			if err := writeLimited(dest, br, 0o644); err != nil {
				return err
			}
		}
	}

	if flatten {
		return flattenRoot(destDir)
	}
	return nil
}

// decompress wraps f in the format's stream reader.
func decompress(f *os.File, format Format) (io.Reader, func(), error) {
	switch format {
	case FormatGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: gzip header: %v", ErrCorrupt, err)
		}
		return gz, func() { gz.Close() }, nil
	case FormatZstd:
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: zstd header: %v", ErrCorrupt, err)
		}
		return dec, dec.Close, nil
	case FormatLZ4:
		return lz4.NewReader(f), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: format %s", ErrUnsupported, format)
	}
}

// isTarStream peeks for the ustar magic without consuming the reader.
func isTarStream(br *bufio.Reader) bool {
	head, err := br.Peek(262)
	if err != nil {
		return false
	}
	return string(head[257:262]) == "ustar"
}

func extractFileFromZip(archivePath, destDir, innerPath string) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("%w: opening zip: %v", ErrCorrupt, err)
	}
	defer r.Close()

	var (
		chosen     *zip.File
		chosenName string
		count      int
	)
	for _, zf := range r.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		name, err := normalizeEntryName(zf.Name)
		if err != nil {
			return "", err
		}
		ok, err := wanted(name, innerPath)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		count++
		if count > 1 {
			return "", ambiguousErr(count, innerPath)
		}
		chosen, chosenName = zf, name
	}
	if count == 0 {
		return "", ambiguousErr(0, innerPath)
	}

	rc, err := chosen.Open()
	if err != nil {
		return "", fmt.Errorf("%w: opening zip entry %s: %v", ErrCorrupt, chosenName, err)
	}
	defer rc.Close()

	dest := filepath.Join(destDir, path.Base(chosenName))
	if err := writeLimited(dest, rc, chosen.Mode().Perm()); err != nil {
		return "", err
	}
	return dest, nil
}

func extractFileFromTar(tr *tar.Reader, destDir, innerPath string) (string, error) {
	var (
		extracted string
		count     int
	)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			removeIfSet(extracted)
			return "", fmt.Errorf("%w: reading tar entry: %v", ErrCorrupt, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name, err := normalizeEntryName(hdr.Name)
		if err != nil {
			removeIfSet(extracted)
			return "", err
		}
		ok, err := wanted(name, innerPath)
		if err != nil {
			removeIfSet(extracted)
			return "", err
		}
		if !ok {
			continue
		}
		count++
		if count > 1 {
			removeIfSet(extracted)
			return "", ambiguousErr(count, innerPath)
		}

		dest := filepath.Join(destDir, path.Base(name))
		if err := writeLimited(dest, tr, hdr.FileInfo().Mode().Perm()); err != nil {
			return "", err
		}
		extracted = dest
	}
	if count == 0 {
		return "", ambiguousErr(0, innerPath)
	}
	return extracted, nil
}

func extractDirFromZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: opening zip: %v", ErrCorrupt, err)
	}
	defer r.Close()

	for _, zf := range r.File {
		name, err := normalizeEntryName(zf.Name)
		if err != nil {
			return err
		}
		dest, err := destInsideRoot(destDir, name)
		if err != nil {
			return err
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}

		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("%w: opening zip entry %s: %v", ErrCorrupt, name, err)
		}
		err = writeLimited(dest, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractDirFromTar(tr *tar.Reader, destDir string) error {
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: reading tar entry: %v", ErrCorrupt, err)
		}

		name, err := normalizeEntryName(hdr.Name)
		if err != nil {
			return err
		}
		dest, err := destInsideRoot(destDir, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			if err := writeLimited(dest, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			// Links, devices, and the rest have no business in an
			// artifact archive.
		}
	}
}

// wanted decides whether an entry is a selection candidate: the configured
// inner path when present, else any top-level file.
func wanted(name, innerPath string) (bool, error) {
	if innerPath != "" {
		return entryMatches(name, innerPath)
	}
	return isTopLevel(name), nil
}

func ambiguousErr(count int, innerPath string) error {
	switch {
	case innerPath != "" && count == 0:
		return fmt.Errorf("%w: inner path %q matched no entries", ErrAmbiguous, innerPath)
	case innerPath != "":
		return fmt.Errorf("%w: inner path %q matched %d entries", ErrAmbiguous, innerPath, count)
	case count == 0:
		return fmt.Errorf("%w: archive has no top-level file", ErrAmbiguous)
	default:
		return fmt.Errorf("%w: %d top-level files and no inner path configured", ErrAmbiguous, count)
	}
}

// writeLimited streams r into dest, enforcing the per-entry size cap.
func writeLimited(dest string, r io.Reader, mode os.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating extracted file: %w", err)
	}

	written, err := io.Copy(out, io.LimitReader(r, maxEntrySize+1))
	if err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("%w: extracting %s: %v", ErrCorrupt, filepath.Base(dest), err)
	}
	if written > maxEntrySize {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("%w: entry %s exceeds size cap", ErrCorrupt, filepath.Base(dest))
	}
	return out.Close()
}

// flattenRoot lifts the contents of a sole top-level directory into root.
func flattenRoot(root string) error {
	top, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("reading extraction root: %w", err)
	}
	if len(top) != 1 || !top[0].IsDir() {
		return nil
	}

	inner := filepath.Join(root, top[0].Name())
	children, err := os.ReadDir(inner)
	if err != nil {
		return fmt.Errorf("reading archive top directory: %w", err)
	}
	for _, child := range children {
		from := filepath.Join(inner, child.Name())
		to := filepath.Join(root, child.Name())
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("flattening archive root: %w", err)
		}
	}
	return os.Remove(inner)
}

func removeIfSet(path string) {
	if path != "" {
		os.Remove(path)
	}
}
