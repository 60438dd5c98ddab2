package pipeline

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/keepup-labs/keepup/internal/archive"
	"github.com/keepup-labs/keepup/internal/config"
	"github.com/keepup-labs/keepup/internal/entries"
	"github.com/keepup-labs/keepup/internal/fetch"
	"github.com/keepup-labs/keepup/internal/procmgr"
	"github.com/keepup-labs/keepup/internal/source"
	"github.com/keepup-labs/keepup/internal/state"
	"github.com/keepup-labs/keepup/internal/swap"
)

// Runner executes update runs. One Runner serves one run at a time; its
// collaborators (resolver, fetcher, engine, store) are all safe for the
// worker concurrency it creates.
type Runner struct {
	resolver *source.Resolver
	fetcher  *fetch.Fetcher
	engine   *swap.Engine
	store    *state.Store

	logger      *log.Logger
	concurrency int
	retention   int
	dryRun      bool
	force       bool

	locks *lockTable
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency bounds the worker pool size.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithDryRun verifies and checks without replacing anything or recording
// state.
func WithDryRun(on bool) Option {
	return func(r *Runner) { r.dryRun = on }
}

// WithForce ignores recorded identity tokens, updating every entry even when
// the remote content is unchanged.
func WithForce(on bool) Option {
	return func(r *Runner) { r.force = on }
}

// WithLogger routes run logging. Workers derive entry-scoped loggers from it.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithDefaultRetention sets the backup count used by entries that do not
// override it.
func WithDefaultRetention(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.retention = n
		}
	}
}

// New assembles a Runner from its pipeline stages.
func New(resolver *source.Resolver, fetcher *fetch.Fetcher, engine *swap.Engine, store *state.Store, opts ...Option) *Runner {
	r := &Runner{
		resolver:    resolver,
		fetcher:     fetcher,
		engine:      engine,
		store:       store,
		logger:      log.New(io.Discard),
		concurrency: 1,
		retention:   config.DefaultBackupRetention,
		locks:       newLockTable(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives every entry through the pipeline under the bounded pool and
// returns the aggregated summary. The context's deadline is the run
// deadline: entries not yet started when it expires report skipped-timeout,
// and an in-flight swap past the replace point always completes. Run never
// returns an error; per-entry failures live in the summary.
func (r *Runner) Run(ctx context.Context, list []entries.Entry) *Summary {
	results := make([]EntryResult, len(list))

	p := pool.New().WithMaxGoroutines(r.concurrency)
	for i := range list {
		i, e := i, list[i]
		p.Go(func() {
			if ctx.Err() != nil {
				results[i] = EntryResult{Name: e.Name, Outcome: OutcomeTimedOut}
				return
			}
			results[i] = r.runEntry(ctx, e)
		})
	}
	p.Wait()

	if !r.dryRun {
		if err := r.store.Save(); err != nil {
			r.logger.Warn("saving state", "err", err)
		}
	}
	return summarize(results, r.dryRun)
}

// runEntry is the per-entry pipeline: resolve, short-circuit on identity,
// download, extract, swap. Every error is converted into a failed result
// here; nothing escapes to the pool.
func (r *Runner) runEntry(ctx context.Context, e entries.Entry) EntryResult {
	start := time.Now()
	logger := r.logger.With("entry", e.Name)

	res := func(outcome Outcome, err error) EntryResult {
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			// The run deadline caught this entry mid-stage; that is a
			// timeout, not a pipeline failure.
			return EntryResult{Name: e.Name, Outcome: OutcomeTimedOut, Duration: time.Since(start)}
		}
		return EntryResult{
			Name:     e.Name,
			Outcome:  outcome,
			Kind:     Classify(err),
			Err:      err,
			Duration: time.Since(start),
		}
	}

	resolved, err := r.resolver.Resolve(ctx, e.Source)
	if err != nil {
		logger.Error("resolving source", "err", err)
		return res(OutcomeFailed, err)
	}
	logger.Debug("resolved", "url", resolved.URL, "token", resolved.Token)

	prior, known := r.store.Get(e.Name)
	if !r.force && known && resolved.Token != "" && prior.Token == resolved.Token {
		logger.Info("up to date", "token", resolved.Token)
		return res(OutcomeSkipped, nil)
	}

	staged, err := r.fetcher.Download(ctx, resolved.URL, e.Name, resolved.AssetName)
	if err != nil {
		logger.Error("downloading", "err", err)
		return res(OutcomeFailed, err)
	}
	defer func() {
		if err := r.fetcher.Cleanup(e.Name); err != nil {
			logger.Warn("cleaning staging", "err", err)
		}
	}()
	logger.Debug("downloaded", "bytes", staged.Size, "md5", staged.MD5)

	// Sources without validators get their identity from the payload
	// itself, so the skip check repeats after the download.
	token := resolved.Token
	if token == "" {
		token = source.TokenFingerprint + staged.B3
		if !r.force && known && prior.Token == token {
			logger.Info("up to date", "token", token)
			return res(OutcomeSkipped, nil)
		}
	}

	expected := e.Checksum
	if e.ChecksumURL != "" {
		expected, err = r.fetcher.FetchChecksum(ctx, e.ChecksumURL, resolved.AssetName)
		if err != nil {
			logger.Error("fetching checksum", "err", err)
			return res(OutcomeFailed, err)
		}
	}

	artifactPath := staged.Path
	dirMode := false
	if e.Archive {
		extractDir := filepath.Join(filepath.Dir(staged.Path), "extracted")
		if e.Flatten {
			if err := archive.ExtractDir(staged.Path, extractDir, true); err != nil {
				logger.Error("extracting", "err", err)
				return res(OutcomeFailed, err)
			}
			artifactPath = extractDir
			dirMode = true
		} else {
			inner, err := archive.ExtractFile(staged.Path, extractDir, e.ArchiveInnerPath)
			if err != nil {
				logger.Error("extracting", "err", err)
				return res(OutcomeFailed, err)
			}
			artifactPath = inner
		}
		logger.Debug("extracted", "artifact", artifactPath)
	}

	req := swap.Request{
		Target:          e.Target,
		ArtifactPath:    artifactPath,
		VerifyPath:      staged.Path,
		ExpectedMD5:     expected,
		Dir:             dirMode,
		Processes:       e.Processes,
		Launch:          launchSpec(e.Launch),
		RelaunchStopped: e.Relaunch,
		BackupRetention: r.entryRetention(e),
		DryRun:          r.dryRun,
	}

	// Entries sharing a target swap one at a time.
	mu := r.locks.forTarget(e.Target)
	mu.Lock()
	swapRes, err := r.engine.Run(ctx, req)
	mu.Unlock()
	if err != nil {
		logger.Error("swap failed", "state", swapRes.State.String(), "err", err)
		return res(OutcomeFailed, err)
	}

	if !r.dryRun {
		r.store.Put(e.Name, state.Entry{
			Token:     token,
			Asset:     resolved.AssetName,
			UpdatedAt: time.Now().UTC(),
		})
	}
	logger.Info("updated", "target", e.Target)

	out := res(OutcomeUpdated, nil)
	out.LaunchErr = swapRes.LaunchErr
	return out
}

func (r *Runner) entryRetention(e entries.Entry) int {
	if e.BackupRetention > 0 {
		return e.BackupRetention
	}
	return r.retention
}

func launchSpec(l *entries.Launch) *procmgr.LaunchSpec {
	if l == nil {
		return nil
	}
	return &procmgr.LaunchSpec{Command: l.Command, Args: l.Args, Dir: l.Cwd}
}
