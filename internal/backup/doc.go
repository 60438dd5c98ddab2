// Package backup snapshots install targets before they are replaced and
// prunes old snapshots down to a retention count. Snapshots are plain copies
// living next to the target, named <base>.<timestamp>.bak, so a bad update
// can always be undone by hand.
package backup
