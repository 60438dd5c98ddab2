// Package platform holds the filesystem and process primitives the updater
// builds on: permission bits, file and tree copies, replacing files that a
// running process may hold open, and the attributes needed to launch a
// process that outlives this one. The parts that differ between Unix and
// Windows differ here and nowhere else.
package platform
