// Package procmgr finds, stops, and launches the processes that keep an
// install target busy. Stopping comes in two strengths, a graceful
// termination request and a forced kill, each bounded by its own wait, so
// callers can escalate and never proceed under a live lock. Launched
// processes are detached and outlive this one.
package procmgr
