// Package fetch downloads payloads into per-entry staging directories.
// Transient failures (connection errors, timeouts, 408/429/5xx) are retried
// with exponential backoff; other client errors fail immediately. The MD5 and
// BLAKE3 digests of each payload are computed while streaming so verification
// never rereads the file.
package fetch
