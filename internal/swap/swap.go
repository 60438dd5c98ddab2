package swap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/keepup-labs/keepup/internal/backup"
	"github.com/keepup-labs/keepup/internal/branding"
	"github.com/keepup-labs/keepup/internal/digest"
	"github.com/keepup-labs/keepup/internal/platform"
	"github.com/keepup-labs/keepup/internal/procmgr"
)

var (
	// ErrLocked indicates the target's processes could not be stopped.
	// Nothing has been written when this is returned.
	ErrLocked = errors.New("target locked by running process")

	// ErrReplaceFailed indicates the final install step failed. The
	// backup taken earlier is the recovery path; the engine does not
	// restore it itself.
	ErrReplaceFailed = errors.New("replace failed")
)

// State names the engine's stages.
type State int

const (
	StateVerifying State = iota
	StateBackingUp
	StateReleasingLock
	StateReplacing
	StateRelaunching
	StateDone
)

func (s State) String() string {
	switch s {
	case StateVerifying:
		return "verifying"
	case StateBackingUp:
		return "backing-up"
	case StateReleasingLock:
		return "releasing-lock"
	case StateReplacing:
		return "replacing"
	case StateRelaunching:
		return "relaunching"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// ProcessController is what the engine needs from process management: list
// matching processes, stop them in two strengths, and start one detached.
// The OS-specific parts live behind this interface.
type ProcessController interface {
	Find(ctx context.Context, names []string) ([]procmgr.Handle, error)
	Terminate(ctx context.Context, h procmgr.Handle) error
	Kill(ctx context.Context, h procmgr.Handle) error
	Launch(spec procmgr.LaunchSpec) (int, error)
}

// Request describes one swap.
type Request struct {
	// Target is the installed path being replaced.
	Target string

	// ArtifactPath is the staged content to install: a file, or an
	// extracted tree when Dir is set.
	ArtifactPath string

	// VerifyPath is the payload ExpectedMD5 describes (the downloaded
	// file, which for archives is not the extracted artifact). Empty
	// means ArtifactPath.
	VerifyPath string

	// ExpectedMD5 gates the swap when non-empty.
	ExpectedMD5 string

	// Dir replaces the target as a whole directory.
	Dir bool

	// Processes are the names or paths whose running instances must be
	// stopped before the target changes.
	Processes []string

	// Launch, when set, is started after a successful replace. It wins
	// over RelaunchStopped.
	Launch *procmgr.LaunchSpec

	// RelaunchStopped restarts the executables stopped during
	// ReleasingLock.
	RelaunchStopped bool

	// BackupRetention is how many snapshots survive rotation.
	BackupRetention int

	// DryRun stops after the verification and backup checks without
	// touching anything.
	DryRun bool
}

// Result reports how far the engine got and what it did on the way.
type Result struct {
	State    State
	Backup   *backup.Record
	Stopped  []procmgr.Handle
	Launched []int
	// LaunchErr records relaunch failures; they never fail the swap.
	LaunchErr error
}

// Engine drives swaps. It is stateless across runs and safe for concurrent
// use by multiple workers as long as no two of them share a target.
type Engine struct {
	procs ProcessController
	log   *log.Logger
}

// Option adjusts an Engine.
type Option func(*Engine)

// WithLogger routes stage logging.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New returns an Engine stopping and launching processes through procs.
func New(procs ProcessController, opts ...Option) *Engine {
	e := &Engine{procs: procs, log: log.New(io.Discard)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the swap. The returned Result is valid even on error and
// names the stage that failed. Cancellation is honored between stages up to
// the replace; once replacing starts the swap always runs to completion.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{State: StateVerifying}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if req.ExpectedMD5 != "" {
		path := req.VerifyPath
		if path == "" {
			path = req.ArtifactPath
		}
		e.log.Debug("verifying payload", "target", req.Target, "path", path)
		if err := digest.VerifyMD5(path, req.ExpectedMD5); err != nil {
			return res, err
		}
	}

	if err := e.advance(ctx, res, StateBackingUp); err != nil {
		return res, err
	}
	if req.DryRun {
		if err := checkBackupable(req.Target); err != nil {
			return res, fmt.Errorf("%w: %v", backup.ErrFailed, err)
		}
		res.State = StateDone
		return res, nil
	}
	rec, err := backup.Create(req.Target)
	if err != nil {
		return res, err
	}
	res.Backup = rec
	if rec != nil {
		e.log.Debug("backup created", "target", req.Target, "backup", rec.BackupPath)
	}

	if len(req.Processes) > 0 {
		if err := e.advance(ctx, res, StateReleasingLock); err != nil {
			return res, err
		}
		if err := e.releaseLocks(ctx, req, res); err != nil {
			return res, err
		}
	}

	// Past this point the swap runs to completion; a canceled context
	// must not strand a half-done replace.
	res.State = StateReplacing
	if err := e.replace(req); err != nil {
		return res, err
	}

	if specs := relaunchSpecs(req, res.Stopped); len(specs) > 0 {
		res.State = StateRelaunching
		for _, spec := range specs {
			pid, err := e.procs.Launch(spec)
			if err != nil {
				e.log.Warn("relaunch failed", "target", req.Target, "command", spec.Command, "err", err)
				res.LaunchErr = errors.Join(res.LaunchErr, err)
				continue
			}
			e.log.Debug("relaunched", "target", req.Target, "command", spec.Command, "pid", pid)
			res.Launched = append(res.Launched, pid)
		}
	}

	if err := backup.Rotate(req.Target, req.BackupRetention); err != nil {
		e.log.Warn("backup rotation failed", "target", req.Target, "err", err)
	}

	res.State = StateDone
	return res, nil
}

func (e *Engine) advance(ctx context.Context, res *Result, next State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res.State = next
	e.log.Debug("stage", "state", next.String())
	return nil
}

// releaseLocks stops every process matching the request, graceful first,
// forced second.
func (e *Engine) releaseLocks(ctx context.Context, req Request, res *Result) error {
	handles, err := e.procs.Find(ctx, req.Processes)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLocked, err)
	}
	for _, h := range handles {
		e.log.Info("stopping process", "pid", h.Pid, "process", h.Matched)
		err := e.procs.Terminate(ctx, h)
		if errors.Is(err, procmgr.ErrStillRunning) {
			err = e.procs.Kill(ctx, h)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLocked, err)
		}
		res.Stopped = append(res.Stopped, h)
	}
	return nil
}

func (e *Engine) replace(req Request) error {
	if req.Dir {
		return e.replaceDir(req)
	}
	return e.replaceFile(req)
}

// replaceFile stages a copy of the artifact beside the target, then renames
// it into place.
func (e *Engine) replaceFile(req Request) error {
	dir := filepath.Dir(req.Target)
	base := filepath.Base(req.Target)
	mode := targetMode(req.Target)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating target directory: %v", ErrReplaceFailed, err)
	}
	tmp, err := os.CreateTemp(dir, "."+base+"."+branding.CLIName()+"-tmp-*")
	if err != nil {
		return fmt.Errorf("%w: staging beside target: %v", ErrReplaceFailed, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := platform.CopyFile(req.ArtifactPath, tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: writing replacement: %v", ErrReplaceFailed, err)
	}
	if err := platform.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: setting permissions: %v", ErrReplaceFailed, err)
	}
	if err := platform.ReplaceFile(tmpPath, req.Target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: installing %s: %v", ErrReplaceFailed, base, err)
	}
	e.log.Debug("replaced", "target", req.Target)
	return nil
}

// replaceDir copies the artifact tree to a sibling of the target, then swaps
// the directories.
func (e *Engine) replaceDir(req Request) error {
	parent := filepath.Dir(req.Target)
	base := filepath.Base(req.Target)

	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("%w: creating target directory: %v", ErrReplaceFailed, err)
	}
	tmpTree, err := os.MkdirTemp(parent, "."+base+"."+branding.CLIName()+"-tmp-*")
	if err != nil {
		return fmt.Errorf("%w: staging beside target: %v", ErrReplaceFailed, err)
	}
	if err := platform.CopyTree(req.ArtifactPath, tmpTree); err != nil {
		os.RemoveAll(tmpTree)
		return fmt.Errorf("%w: writing replacement tree: %v", ErrReplaceFailed, err)
	}
	if err := platform.ReplaceDir(tmpTree, req.Target); err != nil {
		os.RemoveAll(tmpTree)
		return fmt.Errorf("%w: installing %s: %v", ErrReplaceFailed, base, err)
	}
	e.log.Debug("replaced", "target", req.Target)
	return nil
}

// targetMode preserves the previous install's permission bits; a first
// install gets an executable default.
func targetMode(target string) fs.FileMode {
	if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
		return info.Mode().Perm()
	}
	return 0o755
}

// checkBackupable is the dry-run stand-in for BackingUp: the snapshot source
// must be readable, but nothing is copied.
func checkBackupable(target string) error {
	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return f.Close()
}

// relaunchSpecs decides what to start after a successful replace: the
// explicit launch command when configured, else the deduplicated set of
// executables that were stopped.
func relaunchSpecs(req Request, stopped []procmgr.Handle) []procmgr.LaunchSpec {
	if req.Launch != nil {
		return []procmgr.LaunchSpec{*req.Launch}
	}
	if !req.RelaunchStopped {
		return nil
	}
	seen := make(map[string]bool)
	var specs []procmgr.LaunchSpec
	for _, h := range stopped {
		if h.Exe == "" || seen[h.Exe] {
			continue
		}
		seen[h.Exe] = true
		specs = append(specs, procmgr.LaunchSpec{Command: h.Exe})
	}
	return specs
}
