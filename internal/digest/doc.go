// Package digest verifies downloaded payloads against expected MD5 checksums
// and computes BLAKE3 fingerprints used as content identity tokens for
// sources that publish no version information.
package digest
