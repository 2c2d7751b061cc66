//go:build !windows

package services

import (
	"os/exec"
	"syscall"
)

// setProcessGroup places the engine in its own process group so a kill
// reaches soffice's child processes too.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the whole group (negative pid).
func killProcessGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
