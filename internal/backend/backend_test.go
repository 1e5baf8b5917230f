package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/dutctl/internal/config"
	"github.com/danmuck/dutctl/internal/dut"
	"github.com/danmuck/dutctl/internal/emulator"
	"github.com/danmuck/dutctl/internal/testutil/testlog"
	"github.com/danmuck/dutctl/internal/transport"
	"github.com/danmuck/dutctl/internal/transport/ti50emulator"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestOpenUnknownBackend(t *testing.T) {
	testlog.Start(t)

	cfg := config.Default()
	cfg.Backend = "jtag"
	_, err := Open(cfg)
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestRegisterCustomBackend(t *testing.T) {
	testlog.Start(t)

	require.Equal(t, []string{config.BackendHardware, config.BackendTi50, config.BackendTi50Emulator}, Names())

	Register("loopback", func(config.Config) (transport.Transport, error) {
		return transport.Unimplemented{}, nil
	})
	t.Cleanup(func() {
		mu.Lock()
		delete(registry, "loopback")
		mu.Unlock()
	})

	cfg := config.Default()
	cfg.Backend = "loopback"
	tr, err := Open(cfg)
	require.NoError(t, err)
	require.Equal(t, transport.Capability(0), tr.Capabilities())
	require.NoError(t, tr.Close())
}

func TestOpenTi50BySocket(t *testing.T) {
	testlog.Start(t)

	dir, err := os.MkdirTemp("", "be")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	runtime := filepath.Join(dir, "runtime")
	require.NoError(t, os.Mkdir(runtime, 0o755))

	emuCfg := emulator.DefaultConfig()
	emuCfg.Path = runtime
	emu := emulator.New(emuCfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = emu.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool {
		_, err := os.Stat(emu.ChannelPath())
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	cfg := config.Default()
	cfg.Backend = config.BackendTi50
	cfg.Ti50.Socket = emu.ChannelPath()
	tr, err := Open(cfg)
	require.NoError(t, err)
	defer tr.Close()

	require.True(t, tr.Capabilities().Has(transport.CapEmulator))
	handle, err := tr.Emulator()
	require.NoError(t, err)
	state, err := handle.State()
	require.NoError(t, err)
	require.Equal(t, dut.On, state)
}

func TestOpenTi50MissingInstance(t *testing.T) {
	testlog.Start(t)

	cfg := config.Default()
	cfg.Backend = config.BackendTi50
	cfg.Ti50.Instance = "ti50_does_not_exist"
	_, err := Open(cfg)
	require.Error(t, err)
}

func TestOpenEmulatorCreatesAndRemovesInstance(t *testing.T) {
	testlog.Start(t)

	base, err := os.MkdirTemp("", "be")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(base) })

	cfg := config.Default()
	cfg.Ti50Emulator.Base = base
	cfg.Ti50Emulator.ExecutableDir = "/nonexistent"
	tr, err := Open(cfg)
	require.NoError(t, err)

	emuTr, ok := tr.(*ti50emulator.Transport)
	require.True(t, ok)
	dir := emuTr.Session().Dir()
	_, err = os.Stat(dir)
	require.NoError(t, err)

	handle, err := tr.Emulator()
	require.NoError(t, err)
	require.ErrorIs(t, handle.Start(false, nil), dut.ErrStartFailure)

	require.NoError(t, tr.Close())
	_, err = os.Stat(dir)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOpenHardwareFromConfig(t *testing.T) {
	testlog.Start(t)

	root := t.TempDir()
	console := filepath.Join(root, "console")
	require.NoError(t, unix.Mkfifo(console, 0o600))

	cfg := config.Default()
	cfg.Backend = config.BackendHardware
	cfg.Hardware.Uarts = map[string]config.UartEntry{"0": {Path: console}}
	cfg.Hardware.Gpios = map[string]int{"reset": 1 << 20}
	tr, err := Open(cfg)
	require.NoError(t, err)
	defer tr.Close()

	require.Equal(t, transport.CapUart|transport.CapGpio, tr.Capabilities())
	uart, err := tr.Uart("0")
	require.NoError(t, err)
	require.NoError(t, uart.Write([]byte("ping")))

	// No host exposes a line that high.
	_, err = tr.GpioPin("reset")
	require.Error(t, err)

	cfg.Hardware.I2c = map[string]string{"0": filepath.Join(root, "missing-i2c")}
	_, err = Open(cfg)
	require.Error(t, err)
}
