// Package source resolves an entry's declared source into a concrete
// download. URL sources are probed for HTTP validators; github_release
// sources are resolved through the GitHub releases API, matching an asset by
// name or glob. Every resolution carries an identity token so unchanged
// artifacts can be skipped without downloading.
package source
