package procmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shirou/gopsutil/v4/process"
)

// ErrStillRunning indicates a process survived both the graceful stop and
// the forced kill. The target it holds must not be touched.
var ErrStillRunning = errors.New("process still running")

const (
	defaultGraceTimeout = 10 * time.Second
	defaultKillTimeout  = 5 * time.Second
	defaultPollInterval = 100 * time.Millisecond
)

// Handle identifies one running process matched against an entry's process
// list.
type Handle struct {
	Pid     int32
	Exe     string
	Matched string
}

// Manager discovers and controls processes.
type Manager struct {
	grace time.Duration
	kill  time.Duration
	poll  time.Duration
	log   *log.Logger
}

// Option adjusts a Manager.
type Option func(*Manager)

// WithGraceTimeout bounds the wait after a termination request.
func WithGraceTimeout(d time.Duration) Option {
	return func(m *Manager) { m.grace = d }
}

// WithKillTimeout bounds the wait after a forced kill.
func WithKillTimeout(d time.Duration) Option {
	return func(m *Manager) { m.kill = d }
}

// WithPollInterval sets how often a stopping process is re-checked.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.poll = d }
}

// WithLogger routes progress logging.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// New returns a Manager with production timeouts.
func New(opts ...Option) *Manager {
	m := &Manager{
		grace: defaultGraceTimeout,
		kill:  defaultKillTimeout,
		poll:  defaultPollInterval,
		log:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Find returns the running processes matching any of the given names. A name
// with a path separator must equal the process's executable path; a bare
// name is compared case-insensitively against the process name and the
// executable's basename, ".exe" ignored. Our own process never matches.
func (m *Manager) Find(ctx context.Context, names []string) ([]Handle, error) {
	if len(names) == 0 {
		return nil, nil
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	self := int32(os.Getpid())
	var handles []Handle
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		// Name and Exe fail for processes we can't inspect; those
		// can't be ours to manage.
		name, _ := p.NameWithContext(ctx)
		exe, _ := p.ExeWithContext(ctx)
		matched, ok := matchAgainst(name, exe, names)
		if !ok {
			continue
		}
		handles = append(handles, Handle{Pid: p.Pid, Exe: exe, Matched: matched})
	}
	return handles, nil
}

// Terminate requests a graceful stop and waits for the process to exit.
// ErrStillRunning means the request was ignored; callers escalate to Kill.
func (m *Manager) Terminate(ctx context.Context, h Handle) error {
	proc, err := process.NewProcessWithContext(ctx, h.Pid)
	if err != nil {
		return nil // already gone
	}

	m.log.Debug("requesting graceful stop", "pid", h.Pid, "process", h.Matched)
	if err := proc.TerminateWithContext(ctx); err != nil && !isGone(ctx, proc) {
		m.log.Debug("termination request failed", "pid", h.Pid, "err", err)
	}
	done, err := m.waitGone(ctx, proc, m.grace)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	return fmt.Errorf("%w: pid %d (%s) ignored termination", ErrStillRunning, h.Pid, h.Matched)
}

// Kill forces the process down and waits for it to disappear.
// ErrStillRunning after a kill means the target must not be touched.
func (m *Manager) Kill(ctx context.Context, h Handle) error {
	proc, err := process.NewProcessWithContext(ctx, h.Pid)
	if err != nil {
		return nil // already gone
	}

	m.log.Warn("killing process", "pid", h.Pid, "process", h.Matched)
	if err := proc.KillWithContext(ctx); err != nil && !isGone(ctx, proc) {
		return fmt.Errorf("%w: pid %d (%s): kill failed: %v", ErrStillRunning, h.Pid, h.Matched, err)
	}
	done, err := m.waitGone(ctx, proc, m.kill)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	return fmt.Errorf("%w: pid %d (%s) survived kill", ErrStillRunning, h.Pid, h.Matched)
}

// waitGone polls until the process disappears, the wait elapses, or ctx is
// canceled.
func (m *Manager) waitGone(ctx context.Context, p *process.Process, wait time.Duration) (bool, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(m.poll)
	defer tick.Stop()

	for {
		if isGone(ctx, p) {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-tick.C:
		}
	}
}

// isGone reports whether the process no longer runs. A zombie counts as
// gone: it is dead and holds no file locks, it just hasn't been reaped.
func isGone(ctx context.Context, p *process.Process) bool {
	running, err := p.IsRunningWithContext(ctx)
	if err != nil || !running {
		return true
	}
	statuses, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	return slices.Contains(statuses, process.Zombie)
}

// matchAgainst resolves the first configured name the process satisfies.
func matchAgainst(procName, exe string, names []string) (string, bool) {
	base := filepath.Base(exe)
	for _, want := range names {
		if isPathy(want) {
			if exe != "" && samePath(exe, want) {
				return want, true
			}
			continue
		}
		if equalProcName(procName, want) || (exe != "" && equalProcName(base, want)) {
			return want, true
		}
	}
	return "", false
}

// equalProcName compares process names case-insensitively, ignoring a
// trailing .exe on either side.
func equalProcName(a, b string) bool {
	trim := func(s string) string {
		return strings.TrimSuffix(strings.ToLower(s), ".exe")
	}
	return a != "" && trim(a) == trim(b)
}

func isPathy(name string) bool {
	return strings.ContainsRune(name, '/') || strings.ContainsRune(name, os.PathSeparator)
}

func samePath(a, b string) bool {
	a = filepath.Clean(filepath.FromSlash(a))
	b = filepath.Clean(filepath.FromSlash(b))
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}
