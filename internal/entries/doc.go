// Package entries handles parsing and validation of the keepup entries file.
// An entries file declares the artifacts to keep current: where each one
// comes from (a direct URL or a GitHub release asset), where it is installed,
// and how to verify, back up, and relaunch it. Files are validated against an
// embedded JSON Schema before use, and {{variable}} / ${ENV} references are
// expanded so the pipeline only ever sees concrete values.
package entries
