package supervisor

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/danmuck/dutctl/internal/dut"
	"github.com/danmuck/dutctl/internal/instance"
	"github.com/danmuck/dutctl/internal/testutil/testlog"
	"github.com/danmuck/dutctl/internal/tools"
)

func openSession(t *testing.T) *instance.Session {
	t.Helper()
	base, err := os.MkdirTemp("", "sup")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(base) })
	s, err := instance.Open(base, "dut")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return s
}

func fakeEmulatorConfig(t *testing.T, mode string) Config {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("executable: %v", err)
	}
	cfg := DefaultConfig()
	cfg.ExecutableDir = filepath.Dir(exe)
	cfg.Executable = filepath.Base(exe)
	cfg.Env = []string{emulatorModeEnv + "=" + mode}
	cfg.RetryBudget = 150
	cfg.PollInterval = 20 * time.Millisecond
	return cfg
}

func newSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	sup := New(openSession(t), cfg)
	t.Cleanup(func() { _ = sup.Close() })
	return sup
}

func mustState(t *testing.T, sup *Supervisor, want dut.State) {
	t.Helper()
	got, _ := sup.State()
	if got != want {
		t.Fatalf("expected state %s, got %s", want, got)
	}
}

func flashArgs() *dut.Args {
	args := dut.NewArgs()
	args.Set("flash", dut.FilePath("/images/flash.bin"))
	args.Set("pmu_state", dut.Empty())
	return args
}

func TestDefaultConfig(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	if cfg.RetryBudget != 3 || cfg.PollInterval != 100*time.Millisecond || cfg.ReadyToken != "READY" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, ok := cfg.Launcher.(tools.ExecLauncher); !ok {
		t.Fatalf("expected ExecLauncher default, got %T", cfg.Launcher)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	testlog.Start(t)

	sup := newSupervisor(t, fakeEmulatorConfig(t, "ready"))
	mustState(t, sup, dut.Off)

	if err := sup.Start(false, flashArgs()); err != nil {
		t.Fatalf("start: %v", err)
	}
	mustState(t, sup, dut.On)
	if sup.Pid() == 0 {
		t.Fatal("expected child pid")
	}

	if err := sup.Start(false, nil); !errors.Is(err, dut.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	if err := sup.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	mustState(t, sup, dut.Off)
	if sup.Pid() != 0 {
		t.Fatal("expected child released after stop")
	}
	if err := sup.Stop(); !errors.Is(err, dut.ErrAlreadyOff) {
		t.Fatalf("expected ErrAlreadyOff, got %v", err)
	}
}

func TestStartPassesComposedArguments(t *testing.T) {
	testlog.Start(t)

	sup := newSupervisor(t, fakeEmulatorConfig(t, "ready"))
	if err := sup.Start(false, flashArgs()); err != nil {
		t.Fatalf("start: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(sup.Session().RuntimePath(), "argv"))
	if err != nil {
		t.Fatalf("read argv: %v", err)
	}
	want := []string{
		"--flash", "/images/flash.bin",
		"--pmu_state",
		"--path", sup.Session().RuntimePath(),
		"--control_socket", sup.Session().ControlSocketPath(),
	}
	if got := strings.Split(string(raw), "\n"); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected argv:\n got=%q\nwant=%q", got, want)
	}
	if keys := sup.CurrentArgs().Keys(); strings.Join(keys, ",") != "flash,pmu_state,path,control_socket" {
		t.Fatalf("unexpected current args: %v", keys)
	}
}

func TestStartRejectsArgumentNamesBeforeSideEffects(t *testing.T) {
	testlog.Start(t)

	sup := newSupervisor(t, fakeEmulatorConfig(t, "ready"))
	marker := filepath.Join(sup.Session().RuntimePath(), "nvmem.bin")
	if err := os.WriteFile(marker, []byte("keep"), 0o600); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	for _, key := range []string{"p", "path", "s", "stdio", "control_socket", "verbose"} {
		args := dut.NewArgs()
		args.Set("flash", dut.String("f"))
		args.Set(key, dut.String("x"))
		err := sup.Start(true, args)
		var named *dut.InvalidArgumentNameError
		if !errors.As(err, &named) || named.Key != key {
			t.Fatalf("key %q: expected InvalidArgumentNameError, got %v", key, err)
		}
		if !errors.Is(err, dut.ErrInvalidArgument) {
			t.Fatalf("key %q: expected ErrInvalidArgument match", key)
		}
		mustState(t, sup, dut.Off)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("factory reset must not run on invalid args: %v", err)
	}
	if _, err := os.Stat(sup.Session().ControlSocketPath()); !os.IsNotExist(err) {
		t.Fatalf("control socket must not exist, stat err=%v", err)
	}
	if sup.CurrentArgs().Len() != 0 {
		t.Fatalf("current args must be untouched: %v", sup.CurrentArgs().Keys())
	}
}

func TestStartReadinessTimeout(t *testing.T) {
	testlog.Start(t)

	cfg := fakeEmulatorConfig(t, "silent")
	cfg.RetryBudget = 5
	sup := newSupervisor(t, cfg)

	err := sup.Start(false, nil)
	if !errors.Is(err, dut.ErrStartFailure) {
		t.Fatalf("expected ErrStartFailure, got %v", err)
	}
	mustState(t, sup, dut.Error)
	if sup.Pid() != 0 {
		t.Fatal("unready child must not be held")
	}

	if err := sup.Stop(); err != nil {
		t.Fatalf("stop without child should settle: %v", err)
	}
	mustState(t, sup, dut.Off)
}

func TestStartChildExitsBeforeReady(t *testing.T) {
	testlog.Start(t)

	sup := newSupervisor(t, fakeEmulatorConfig(t, "exit-fail"))
	if err := sup.Start(false, nil); !errors.Is(err, dut.ErrStartFailure) {
		t.Fatalf("expected ErrStartFailure, got %v", err)
	}
	mustState(t, sup, dut.Error)
}

func TestStartMissingExecutable(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	cfg.ExecutableDir = t.TempDir()
	cfg.Executable = "no-such-emulator"
	sup := newSupervisor(t, cfg)
	if err := sup.Start(false, nil); !errors.Is(err, dut.ErrStartFailure) {
		t.Fatalf("expected ErrStartFailure, got %v", err)
	}
	mustState(t, sup, dut.Error)
}

func TestRecoverFromErrorWithStart(t *testing.T) {
	testlog.Start(t)

	cfg := fakeEmulatorConfig(t, "exit-fail")
	sup := newSupervisor(t, cfg)
	_ = sup.Start(false, nil)
	mustState(t, sup, dut.Error)

	sup.cfg.Env = []string{emulatorModeEnv + "=ready"}
	if err := sup.Start(false, nil); err != nil {
		t.Fatalf("start from error: %v", err)
	}
	mustState(t, sup, dut.On)
}

func TestStopEscalatesToSigkill(t *testing.T) {
	testlog.Start(t)

	sup := newSupervisor(t, fakeEmulatorConfig(t, "ignore-term"))
	if err := sup.Start(false, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	sup.cfg.RetryBudget = 3
	sup.cfg.PollInterval = 200 * time.Millisecond
	if err := sup.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	mustState(t, sup, dut.Off)
}

func TestReconcileObservesCrash(t *testing.T) {
	testlog.Start(t)

	sup := newSupervisor(t, fakeEmulatorConfig(t, "crash-after-ready"))
	if err := sup.Start(false, nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state, err := sup.State()
		if state == dut.Error {
			if !errors.Is(err, dut.ErrRuntime) {
				t.Fatalf("expected ErrRuntime on transition, got %v", err)
			}
			if _, err := sup.State(); err != nil {
				t.Fatalf("error must only surface once, got %v", err)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("crash was never observed")
}

func TestReconcileObservesCleanExit(t *testing.T) {
	testlog.Start(t)

	sup := newSupervisor(t, fakeEmulatorConfig(t, "exit-after-ready"))
	if err := sup.Start(false, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if state, _ := sup.State(); state == dut.Off {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("clean exit was never observed")
}

func TestRestartFactoryResetKeepsArgs(t *testing.T) {
	testlog.Start(t)

	sup := newSupervisor(t, fakeEmulatorConfig(t, "ready"))
	if err := sup.Start(false, flashArgs()); err != nil {
		t.Fatalf("start: %v", err)
	}
	firstPid := sup.Pid()
	state := filepath.Join(sup.Session().RuntimePath(), "nvmem.bin")
	if err := os.WriteFile(state, []byte("x"), 0o600); err != nil {
		t.Fatalf("write state: %v", err)
	}

	extra := dut.NewArgs()
	extra.Set("version_state", dut.String("v2"))
	if err := sup.Restart(true, extra); err != nil {
		t.Fatalf("restart: %v", err)
	}
	mustState(t, sup, dut.On)
	if sup.Pid() == firstPid {
		t.Fatal("expected a new child after restart")
	}
	if _, err := os.Stat(state); !os.IsNotExist(err) {
		t.Fatalf("factory reset should wipe runtime state, stat err=%v", err)
	}
	keys := strings.Join(sup.CurrentArgs().Keys(), ",")
	if keys != "flash,pmu_state,version_state,path,control_socket" {
		t.Fatalf("unexpected args after restart: %s", keys)
	}
}

func TestRestartRejectsInvalidArgsWithoutStopping(t *testing.T) {
	testlog.Start(t)

	sup := newSupervisor(t, fakeEmulatorConfig(t, "ready"))
	if err := sup.Start(false, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	bad := dut.NewArgs()
	bad.Set("stdio", dut.Empty())
	if err := sup.Restart(false, bad); !errors.Is(err, dut.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	mustState(t, sup, dut.On)
}

// stubbornProcess announces readiness and then survives every signal.
type stubbornProcess struct {
	mu      sync.Mutex
	signals []syscall.Signal
	pollErr error
}

func (p *stubbornProcess) Pid() int { return 424242 }

func (p *stubbornProcess) Signal(sig syscall.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return nil
}

func (p *stubbornProcess) Poll() (tools.ExitStatus, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return tools.ExitStatus{}, false, p.pollErr
}

type readyLauncher struct {
	proc *stubbornProcess
}

func (l readyLauncher) Launch(spec tools.LaunchSpec) (tools.Process, error) {
	conn, err := net.Dial("unix", flagValue(spec.Args, "--control_socket"))
	if err != nil {
		return nil, err
	}
	_, _ = conn.Write([]byte("READY"))
	_ = conn.Close()
	return l.proc, nil
}

func TestStopFailureWhenChildSurvivesKill(t *testing.T) {
	testlog.Start(t)

	proc := &stubbornProcess{}
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Launcher = readyLauncher{proc: proc}
	sup := New(openSession(t), cfg)

	if err := sup.Start(false, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	mustState(t, sup, dut.On)

	if err := sup.Stop(); !errors.Is(err, dut.ErrStopFailure) {
		t.Fatalf("expected ErrStopFailure, got %v", err)
	}
	sup.mu.Lock()
	failed := sup.state
	sup.mu.Unlock()
	if failed != dut.Error {
		t.Fatalf("expected error state right after the failed stop, got %s", failed)
	}
	mustState(t, sup, dut.On)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.signals) != 2 || proc.signals[0] != syscall.SIGTERM || proc.signals[1] != syscall.SIGKILL {
		t.Fatalf("expected SIGTERM then SIGKILL, got %v", proc.signals)
	}
}

// countingLauncher counts launches of a child that never dies.
type countingLauncher struct {
	readyLauncher
	mu       sync.Mutex
	launches int
}

func (l *countingLauncher) Launch(spec tools.LaunchSpec) (tools.Process, error) {
	l.mu.Lock()
	l.launches++
	l.mu.Unlock()
	return l.readyLauncher.Launch(spec)
}

func TestStartAfterStopFailureKeepsSingleChild(t *testing.T) {
	testlog.Start(t)

	proc := &stubbornProcess{}
	launcher := &countingLauncher{readyLauncher: readyLauncher{proc: proc}}
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Launcher = launcher
	sup := New(openSession(t), cfg)

	if err := sup.Start(false, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.Stop(); !errors.Is(err, dut.ErrStopFailure) {
		t.Fatalf("expected ErrStopFailure, got %v", err)
	}
	if err := sup.Start(false, nil); !errors.Is(err, dut.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning while the child is alive, got %v", err)
	}
	if err := sup.Restart(false, nil); !errors.Is(err, dut.ErrStopFailure) {
		t.Fatalf("expected restart to fail on the surviving child, got %v", err)
	}
	if got := sup.Pid(); got != 424242 {
		t.Fatalf("expected the original child to stay held, got pid %d", got)
	}

	// A failed probe leaves the error state in place; start must still refuse.
	proc.mu.Lock()
	proc.pollErr = errors.New("wait4: interrupted")
	proc.mu.Unlock()
	sup.mu.Lock()
	sup.state = dut.Error
	sup.mu.Unlock()
	err := sup.Start(false, nil)
	if !errors.Is(err, dut.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning with a held child, got %v", err)
	}

	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	if launcher.launches != 1 {
		t.Fatalf("expected one launch, got %d", launcher.launches)
	}
}

func TestOperationsRejectedWhileBusy(t *testing.T) {
	testlog.Start(t)

	sup := newSupervisor(t, fakeEmulatorConfig(t, "ready"))
	sup.mu.Lock()
	sup.state = dut.Busy
	sup.mu.Unlock()

	if err := sup.Start(false, nil); !errors.Is(err, dut.ErrTransientBusy) {
		t.Fatalf("expected ErrTransientBusy on start, got %v", err)
	}
	if err := sup.Stop(); !errors.Is(err, dut.ErrTransientBusy) {
		t.Fatalf("expected ErrTransientBusy on stop, got %v", err)
	}
	if err := sup.Restart(false, nil); !errors.Is(err, dut.ErrTransientBusy) {
		t.Fatalf("expected ErrTransientBusy on restart, got %v", err)
	}
}
