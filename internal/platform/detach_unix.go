//go:build !windows

package platform

import "syscall"

// DetachedProcAttr returns the attributes for launching a process that
// survives this one: its own session, no controlling terminal.
func DetachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
