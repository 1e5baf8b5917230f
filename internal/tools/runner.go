package tools

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

var ErrProcessExited = errors.New("tools: process already exited")

// LaunchSpec describes one child process. Nil Stdout/Stderr discard output.
type LaunchSpec struct {
	Path   string
	Args   []string
	Env    []string
	Dir    string
	Stdout *os.File
	Stderr *os.File
}

// ExitStatus is how a reaped child ended. Unknown is set when the child was
// gone without a status to collect.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   syscall.Signal
	Unknown  bool
}

func (s ExitStatus) Success() bool {
	return !s.Signaled && !s.Unknown && s.Code == 0
}

func (s ExitStatus) String() string {
	switch {
	case s.Unknown:
		return "exit status unknown"
	case s.Signaled:
		return fmt.Sprintf("killed by %s", s.Signal)
	default:
		return fmt.Sprintf("exit code %d", s.Code)
	}
}

// Process is a spawned child owned by the caller.
type Process interface {
	Pid() int
	Signal(sig syscall.Signal) error
	// Poll reaps the child without blocking. exited is false while it runs.
	Poll() (status ExitStatus, exited bool, err error)
}

// Launcher starts child processes.
type Launcher interface {
	Launch(spec LaunchSpec) (Process, error)
}

// ExecLauncher starts children on the local host.
type ExecLauncher struct{}

func (ExecLauncher) Launch(spec LaunchSpec) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir
	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	}
	if spec.Stderr != nil {
		cmd.Stderr = spec.Stderr
	}
	cmd.SysProcAttr = sysProcAttr()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{proc: cmd.Process, pid: cmd.Process.Pid}, nil
}

type execProcess struct {
	mu     sync.Mutex
	proc   *os.Process
	pid    int
	exited bool
	status ExitStatus
}

func (p *execProcess) Pid() int { return p.pid }

func (p *execProcess) Signal(sig syscall.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return ErrProcessExited
	}
	if err := unix.Kill(p.pid, sig); err != nil {
		return fmt.Errorf("tools: signal %s pid=%d: %w", sig, p.pid, err)
	}
	return nil
}

func (p *execProcess) Poll() (ExitStatus, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return p.status, true, nil
	}

	var ws unix.WaitStatus
	wpid, err := unix.Wait4(p.pid, &ws, unix.WNOHANG, nil)
	switch {
	case errors.Is(err, unix.EINTR):
		return ExitStatus{}, false, nil
	case errors.Is(err, unix.ECHILD):
		// Reaped elsewhere or never ours; fall back to a liveness probe.
		if alive(p.pid) {
			return ExitStatus{}, false, nil
		}
		p.markExited(ExitStatus{Unknown: true})
		return p.status, true, nil
	case err != nil:
		return ExitStatus{}, false, fmt.Errorf("tools: wait pid=%d: %w", p.pid, err)
	case wpid == 0:
		return ExitStatus{}, false, nil
	}

	status := ExitStatus{Code: ws.ExitStatus()}
	if ws.Signaled() {
		status = ExitStatus{Code: -1, Signaled: true, Signal: ws.Signal()}
	}
	p.markExited(status)
	return p.status, true, nil
}

func (p *execProcess) markExited(status ExitStatus) {
	p.exited = true
	p.status = status
	if p.proc != nil {
		_ = p.proc.Release()
	}
}

// alive reports whether pid still names a process. EPERM means it exists but
// belongs to someone else.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
