package procmgr

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"mvdan.cc/sh/v3/shell"

	"github.com/keepup-labs/keepup/internal/platform"
)

// LaunchSpec describes a detached process start. When Args is empty and
// Command contains whitespace, Command is split with shell field rules, so
// quoted arguments and $VAR references behave the way a shell user expects.
// A Command naming an existing file is always run as-is, which keeps
// executable paths containing spaces safe.
type LaunchSpec struct {
	Command string
	Args    []string
	Dir     string
}

// Launch starts the process detached from ours and returns its pid. The
// child's standard streams point at the null device; we never wait on it.
func (m *Manager) Launch(spec LaunchSpec) (int, error) {
	command, args := spec.Command, spec.Args
	if len(args) == 0 && strings.ContainsAny(command, " \t") && !isExistingFile(command) {
		fields, err := shell.Fields(command, nil)
		if err != nil {
			return 0, fmt.Errorf("parsing launch command: %w", err)
		}
		if len(fields) > 0 {
			command, args = fields[0], fields[1:]
		}
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = platform.DetachedProcAttr()

	if devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0); err == nil {
		cmd.Stdin, cmd.Stdout, cmd.Stderr = devnull, devnull, devnull
		defer devnull.Close()
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launching %s: %w", command, err)
	}
	pid := cmd.Process.Pid
	m.log.Debug("launched detached process", "pid", pid, "command", command)

	// Releasing instead of waiting: the child belongs to its own session
	// now.
	_ = cmd.Process.Release()
	return pid, nil
}

func isExistingFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
