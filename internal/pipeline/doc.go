// Package pipeline orchestrates update runs: it drives each entry through
// resolve, download, extract, and swap, fanning entries out across a bounded
// worker pool while serializing swaps that share a target path. Every entry
// failure is contained to that entry's result; siblings run to completion
// regardless.
package pipeline
