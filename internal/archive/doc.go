// Package archive extracts downloaded containers. The format is recognized
// from content signatures, never the file extension: zip, gzip, zstd, and lz4
// are supported, with the compressed formats further inspected for a tar
// stream inside. Extraction guards against path traversal and oversized
// entries.
package archive
