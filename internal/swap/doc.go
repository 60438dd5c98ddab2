// Package swap replaces an install target with a staged artifact. The
// engine walks a fixed sequence of stages (verifying, backing up, releasing
// locks, replacing, relaunching) and fails closed: any error before the
// replace leaves the target byte-for-byte untouched, and the replace itself
// is a write-then-rename that no concurrent reader ever observes
// half-written.
package swap
