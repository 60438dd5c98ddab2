//go:build windows

package platform

import "syscall"

// Process creation flags the syscall package does not name.
const (
	createNewProcessGroup = 0x00000200
	detachedProcess       = 0x00000008
)

// DetachedProcAttr returns the attributes for launching a process that
// survives this one: detached from our console and process group.
func DetachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: createNewProcessGroup | detachedProcess,
	}
}
