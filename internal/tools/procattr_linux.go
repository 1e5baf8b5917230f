package tools

import "syscall"

// sysProcAttr puts the child in its own process group. Pdeathsig asks the
// kernel to SIGTERM the child if this process dies first.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
