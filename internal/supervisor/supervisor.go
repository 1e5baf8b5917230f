// Package supervisor owns the emulator child process of one instance.
//
// Ownership boundary:
// - the dut.State machine as observed locally (Off, Busy, On, Error)
// - argument validation and composition for the child command line
// - readiness handshake on the instance control socket
// - SIGTERM/SIGKILL escalation and non-blocking reaping
//
// Every public operation holds one mutex for its whole duration.
package supervisor

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/dutctl/internal/dut"
	"github.com/danmuck/dutctl/internal/instance"
	"github.com/danmuck/dutctl/internal/observability"
	"github.com/danmuck/dutctl/internal/tools"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errNotReady = errors.New("supervisor: emulator not ready")

type Supervisor struct {
	mu      sync.Mutex
	cfg     Config
	session *instance.Session
	logger  zerolog.Logger

	state dut.State
	args  *dut.Args
	proc  tools.Process
}

func New(session *instance.Session, cfg Config) *Supervisor {
	s := &Supervisor{
		cfg:     cfg.withDefaults(),
		session: session,
		logger:  log.With().Str("instance", session.Name()).Logger(),
		state:   dut.Off,
		args:    dut.NewArgs(),
	}
	observability.SetDUTState(session.Name(), s.state.String())
	return s
}

func (s *Supervisor) Session() *instance.Session { return s.session }

// State reconciles with the child and returns the observed state. The error
// is set only on the call that observes an unexpected death.
func (s *Supervisor) State() (dut.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.reconcileLocked()
	return s.state, err
}

// CurrentArgs returns a copy of the arguments of the last start.
func (s *Supervisor) CurrentArgs() *dut.Args {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.args.Clone()
}

// Pid returns the pid of the held child, or 0.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid()
}

func (s *Supervisor) Start(factoryReset bool, args *dut.Args) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("start", func() error { return s.startLocked(factoryReset, args) })
}

func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("stop", s.stopLocked)
}

// Restart stops a held child, then starts with the merged arguments.
func (s *Supervisor) Restart(factoryReset bool, args *dut.Args) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("restart", func() error {
		_ = s.reconcileLocked()
		if s.state == dut.Busy {
			return dut.ErrTransientBusy
		}
		if err := ValidateArgs(args); err != nil {
			return err
		}
		if s.proc != nil {
			if err := s.stopLocked(); err != nil {
				return err
			}
		}
		return s.startLocked(factoryReset, args)
	})
}

// Close stops a running child. The instance tree belongs to the caller.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.reconcileLocked()
	var err error
	if s.proc != nil {
		err = s.stopLocked()
	}
	observability.ForgetInstance(s.session.Name())
	return err
}

func (s *Supervisor) record(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.RecordSupervisorOp(s.session.Name(), op, time.Since(start), err == nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("op", op).Str("state", s.state.String()).Msg("supervisor operation failed")
	}
	return err
}

func (s *Supervisor) startLocked(factoryReset bool, args *dut.Args) error {
	_ = s.reconcileLocked()
	switch s.state {
	case dut.On:
		return dut.ErrAlreadyRunning
	case dut.Busy:
		return dut.ErrTransientBusy
	case dut.Error:
		s.logger.Warn().Msg("supervisor recovering from error state")
	}
	if s.proc != nil {
		// A held child that could not be probed is never replaced.
		return fmt.Errorf("%w: pid=%d still held", dut.ErrAlreadyRunning, s.proc.Pid())
	}
	if err := ValidateArgs(args); err != nil {
		return err
	}

	s.setState(dut.Busy)
	if factoryReset {
		if err := s.session.FactoryReset(); err != nil {
			s.setState(dut.Error)
			return fmt.Errorf("%w: %w", dut.ErrStartFailure, err)
		}
	}

	socketPath := s.session.ControlSocketPath()
	s.args = composeArgs(s.args, args, s.session.RuntimePath(), socketPath)

	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		s.setState(dut.Error)
		return fmt.Errorf("%w: remove stale socket %s: %w", dut.ErrStartFailure, socketPath, err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		s.setState(dut.Error)
		return fmt.Errorf("%w: bind %s: %w", dut.ErrStartFailure, socketPath, err)
	}
	defer func() {
		_ = ln.Close()
		_ = os.Remove(socketPath)
	}()

	exe := filepath.Join(s.cfg.ExecutableDir, s.cfg.Executable)
	cmdline := s.args.CommandLine()
	proc, err := s.cfg.Launcher.Launch(tools.LaunchSpec{
		Path:   exe,
		Args:   cmdline,
		Env:    s.cfg.Env,
		Dir:    s.session.Dir(),
		Stdout: s.cfg.Stdout,
		Stderr: s.cfg.Stderr,
	})
	if err != nil {
		s.setState(dut.Error)
		return fmt.Errorf("%w: spawn %s: %w", dut.ErrStartFailure, exe, err)
	}
	s.logger.Info().Int("pid", proc.Pid()).Str("exec", exe).Strs("args", cmdline).Msg("supervisor spawned emulator")

	if err := s.awaitReady(ln.(*net.UnixListener), proc); err != nil {
		s.kill(proc)
		s.setState(dut.Error)
		return fmt.Errorf("%w: pid=%d: %w", dut.ErrStartFailure, proc.Pid(), err)
	}
	s.proc = proc
	s.setState(dut.On)
	return nil
}

// awaitReady accepts on ln for up to RetryBudget intervals and expects the
// ready token as the first bytes of the connection.
func (s *Supervisor) awaitReady(ln *net.UnixListener, proc tools.Process) error {
	token := []byte(s.cfg.ReadyToken)
	for attempt := 1; attempt <= s.cfg.RetryBudget; attempt++ {
		_ = ln.SetDeadline(time.Now().Add(s.cfg.PollInterval))
		conn, err := ln.Accept()
		if err != nil {
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				return err
			}
			if status, exited, _ := proc.Poll(); exited {
				return fmt.Errorf("%w: exited before ready (%s)", errNotReady, status)
			}
			s.logger.Debug().Int("attempt", attempt).Msg("supervisor waiting for readiness")
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PollInterval * time.Duration(s.cfg.RetryBudget)))
		buf := make([]byte, len(token))
		_, err = io.ReadFull(conn, buf)
		_ = conn.Close()
		if err != nil {
			return fmt.Errorf("%w: read token: %w", errNotReady, err)
		}
		if string(buf) != string(token) {
			return fmt.Errorf("%w: unexpected token %q", errNotReady, buf)
		}
		return nil
	}
	return fmt.Errorf("%w: no connection after %d attempts", errNotReady, s.cfg.RetryBudget)
}

func (s *Supervisor) stopLocked() error {
	_ = s.reconcileLocked()
	switch s.state {
	case dut.Off:
		return dut.ErrAlreadyOff
	case dut.Busy:
		return dut.ErrTransientBusy
	case dut.Error:
		s.logger.Warn().Msg("supervisor stopping from error state")
	}
	if s.proc == nil {
		s.setState(dut.Off)
		return nil
	}

	proc := s.proc
	s.setState(dut.Busy)
	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, tools.ErrProcessExited) {
		s.logger.Warn().Err(err).Int("pid", proc.Pid()).Msg("supervisor SIGTERM failed")
	}
	if s.waitGone(proc, s.cfg.RetryBudget) {
		s.proc = nil
		s.setState(dut.Off)
		return nil
	}

	s.logger.Warn().Int("pid", proc.Pid()).Msg("supervisor escalating to SIGKILL")
	if err := proc.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, tools.ErrProcessExited) {
		s.logger.Warn().Err(err).Int("pid", proc.Pid()).Msg("supervisor SIGKILL failed")
	}
	if s.waitGone(proc, 1) {
		s.proc = nil
		s.setState(dut.Off)
		return nil
	}
	s.setState(dut.Error)
	return fmt.Errorf("%w: pid=%d still alive after SIGKILL", dut.ErrStopFailure, proc.Pid())
}

// waitGone polls up to attempts times, PollInterval apart.
func (s *Supervisor) waitGone(proc tools.Process, attempts int) bool {
	for i := 0; i < attempts; i++ {
		time.Sleep(s.cfg.PollInterval)
		_, exited, err := proc.Poll()
		if err != nil {
			s.logger.Warn().Err(err).Int("pid", proc.Pid()).Msg("supervisor liveness probe failed")
			continue
		}
		if exited {
			return true
		}
	}
	return false
}

// kill SIGKILLs a child that never became ready and reaps it.
func (s *Supervisor) kill(proc tools.Process) {
	if err := proc.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, tools.ErrProcessExited) {
		s.logger.Warn().Err(err).Int("pid", proc.Pid()).Msg("supervisor kill failed")
	}
	if !s.waitGone(proc, s.cfg.RetryBudget) {
		s.logger.Error().Int("pid", proc.Pid()).Msg("supervisor could not reap unready emulator")
	}
}

func (s *Supervisor) reconcileLocked() error {
	if s.proc == nil {
		if s.state == dut.On {
			s.setState(dut.Error)
			return fmt.Errorf("%w: emulator vanished", dut.ErrRuntime)
		}
		return nil
	}
	status, exited, err := s.proc.Poll()
	if err != nil {
		s.logger.Warn().Err(err).Int("pid", s.proc.Pid()).Msg("supervisor reconcile probe failed")
		return nil
	}
	if !exited {
		if s.state != dut.Busy {
			s.setState(dut.On)
		}
		return nil
	}

	pid := s.proc.Pid()
	s.proc = nil
	if status.Success() {
		s.logger.Info().Int("pid", pid).Msg("supervisor emulator exited cleanly")
		s.setState(dut.Off)
		return nil
	}
	s.setState(dut.Error)
	return fmt.Errorf("%w: pid=%d %s", dut.ErrRuntime, pid, status)
}

func (s *Supervisor) setState(next dut.State) {
	if s.state == next {
		return
	}
	event := s.logger.Info()
	if next == dut.Error {
		event = s.logger.Error()
	}
	event.Str("from", s.state.String()).Str("to", next.String()).Msg("supervisor state transition")
	s.state = next
	observability.SetDUTState(s.session.Name(), next.String())
}
