package pipeline

import (
	"errors"
	"time"

	"github.com/keepup-labs/keepup/internal/archive"
	"github.com/keepup-labs/keepup/internal/backup"
	"github.com/keepup-labs/keepup/internal/digest"
	"github.com/keepup-labs/keepup/internal/fetch"
	"github.com/keepup-labs/keepup/internal/source"
	"github.com/keepup-labs/keepup/internal/swap"
)

// Outcome is what happened to one entry during a run.
type Outcome string

const (
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped-up-to-date"
	OutcomeTimedOut Outcome = "skipped-timeout"
	OutcomeFailed   Outcome = "failed"
)

// FailureKind classifies an entry failure by which stage's contract broke.
// Kinds are derived from sentinel errors, never from message text.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureSourceUnavailable FailureKind = "SourceUnavailable"
	FailureAssetNotFound     FailureKind = "AssetNotFound"
	FailureChecksumMismatch  FailureKind = "ChecksumMismatch"
	FailureArchiveError      FailureKind = "ArchiveError"
	FailureArchiveAmbiguous  FailureKind = "ArchiveAmbiguous"
	FailureBackupFailed      FailureKind = "BackupFailed"
	FailureProcessLock       FailureKind = "ProcessLockError"
	FailureReplaceFailed     FailureKind = "ReplaceFailed"
	FailureInternal          FailureKind = "Internal"
)

// Classify maps an entry error onto the failure taxonomy.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, source.ErrAssetNotFound):
		return FailureAssetNotFound
	case errors.Is(err, source.ErrUnavailable),
		errors.Is(err, fetch.ErrSourceUnavailable):
		return FailureSourceUnavailable
	case errors.Is(err, digest.ErrChecksumMismatch):
		return FailureChecksumMismatch
	case errors.Is(err, archive.ErrAmbiguous):
		return FailureArchiveAmbiguous
	case errors.Is(err, archive.ErrUnsupported),
		errors.Is(err, archive.ErrCorrupt):
		return FailureArchiveError
	case errors.Is(err, backup.ErrFailed):
		return FailureBackupFailed
	case errors.Is(err, swap.ErrLocked):
		return FailureProcessLock
	case errors.Is(err, swap.ErrReplaceFailed):
		return FailureReplaceFailed
	default:
		return FailureInternal
	}
}

// EntryResult is the per-entry report the run summary aggregates.
type EntryResult struct {
	Name     string
	Outcome  Outcome
	Kind     FailureKind
	Err      error
	Duration time.Duration

	// LaunchErr records a post-swap relaunch failure. The entry still
	// counts as updated; the swap is already done.
	LaunchErr error
}

// Summary aggregates one run. Results keep the entries-file order
// regardless of which worker finished first.
type Summary struct {
	Results  []EntryResult
	Updated  int
	Skipped  int
	TimedOut int
	Failed   int
	DryRun   bool
}

// Failures returns the failed results, entries-file order preserved.
func (s *Summary) Failures() []EntryResult {
	var out []EntryResult
	for _, r := range s.Results {
		if r.Outcome == OutcomeFailed {
			out = append(out, r)
		}
	}
	return out
}

func summarize(results []EntryResult, dryRun bool) *Summary {
	s := &Summary{Results: results, DryRun: dryRun}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeUpdated:
			s.Updated++
		case OutcomeSkipped:
			s.Skipped++
		case OutcomeTimedOut:
			s.TimedOut++
		case OutcomeFailed:
			s.Failed++
		}
	}
	return s
}
