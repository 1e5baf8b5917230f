package emulator

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/dutctl/internal/control"
	"github.com/danmuck/dutctl/internal/protocol"
	"github.com/danmuck/dutctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func instanceDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "emu")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	require.NoError(t, os.Mkdir(filepath.Join(dir, "runtime"), 0o755))
	return dir
}

func gpio(t *testing.T, d *Device, cmd protocol.GpioCommand) protocol.GpioResponse {
	t.Helper()
	resp, ok := d.Handle(protocol.GpioRequest{Command: cmd}).(protocol.GpioResponse)
	require.True(t, ok)
	return resp
}

func TestDeviceGpioSimulation(t *testing.T) {
	testlog.Start(t)

	d := NewDevice("")
	require.Equal(t, protocol.GpioHighZ, gpio(t, d, protocol.GpioGet("reset")).Result.Value)

	resp := gpio(t, d, protocol.GpioSet("reset", true))
	require.NotNil(t, resp.Err)
	require.Equal(t, protocol.ErrorInvalid, resp.Err.Kind)

	require.Nil(t, gpio(t, d, protocol.GpioSetPullMode("reset", protocol.GpioPullUp)).Err)
	require.Equal(t, protocol.GpioHigh, gpio(t, d, protocol.GpioGet("reset")).Result.Value)

	require.Nil(t, gpio(t, d, protocol.GpioSetMode("reset", protocol.GpioOpenDrain)).Err)
	require.Nil(t, gpio(t, d, protocol.GpioSet("reset", false)).Err)
	require.Equal(t, protocol.GpioLow, gpio(t, d, protocol.GpioGet("reset")).Result.Value)

	require.Nil(t, gpio(t, d, protocol.GpioSetMode("reset", protocol.GpioPushPull)).Err)
	require.Nil(t, gpio(t, d, protocol.GpioSet("reset", true)).Err)
	require.Equal(t, protocol.GpioHigh, gpio(t, d, protocol.GpioGet("reset")).Result.Value)
}

func TestDevicePowerTransitions(t *testing.T) {
	testlog.Start(t)

	d := NewDevice("")
	require.Equal(t, protocol.DutPowerOn, d.State())
	require.NotNil(t, d.Handle(protocol.StartRequest{}).Failure())

	require.Nil(t, d.Handle(protocol.StopRequest{}).Failure())
	require.Equal(t, protocol.DutPowerOff, d.State())
	require.NotNil(t, d.Handle(protocol.StopRequest{}).Failure())

	resp := gpio(t, d, protocol.GpioGet("reset"))
	require.Equal(t, protocol.ErrorBusy, resp.Err.Kind)

	args := protocol.EmulatorArgs{Exec: "ti50", Args: []protocol.Arg{{Key: "flash", Value: "f.bin"}}}
	require.Nil(t, d.Handle(protocol.StartRequest{Args: args}).Failure())
	require.Nil(t, gpio(t, d, protocol.GpioSetMode("reset", protocol.GpioPushPull)).Err)
	require.Nil(t, gpio(t, d, protocol.GpioSet("reset", true)).Err)
	require.Nil(t, d.Handle(protocol.RestartRequest{Args: args}).Failure())
	resp = gpio(t, d, protocol.GpioSet("reset", true))
	require.Equal(t, protocol.ErrorInvalid, resp.Err.Kind, "restart returns pins to inputs")
	last, starts := d.LastArgs()
	require.Equal(t, args, last)
	require.Equal(t, 2, starts)

	get := d.Handle(protocol.GetRequest{Dev: "9"})
	require.Equal(t, protocol.ErrorInvalid, get.Failure().Kind)
}

func TestRunServesControlAndConsole(t *testing.T) {
	testlog.Start(t)

	dir := instanceDir(t)
	readySocket := filepath.Join(dir, "runtime", "control_soc")
	ready, err := net.Listen("unix", readySocket)
	require.NoError(t, err)
	defer ready.Close()

	cfg := DefaultConfig()
	cfg.Path = filepath.Join(dir, "runtime")
	cfg.ControlSocket = readySocket
	emu := New(cfg)

	done := make(chan error, 1)
	go func() { done <- emu.Run(context.Background()) }()

	conn, err := ready.Accept()
	require.NoError(t, err)
	token, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "READY", string(token))

	ch, err := control.ConnectPath(emu.ChannelPath(), control.DefaultConfig())
	require.NoError(t, err)
	defer ch.Close()

	resp, err := ch.Execute(protocol.StatusRequest{})
	require.NoError(t, err)
	require.Equal(t, protocol.DutPowerOn, resp.(protocol.StatusResponse).State)

	resp, err = ch.Execute(protocol.GetRequest{Dev: ConsoleID})
	require.NoError(t, err)
	entry := resp.(protocol.GetResponse).Entry
	require.Equal(t, protocol.InterfaceUnixStream, entry.Type)

	console, err := net.Dial("unix", entry.Filename)
	require.NoError(t, err)
	defer console.Close()
	reader := bufio.NewReader(console)
	banner, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, Banner, banner)
	_, err = console.Write([]byte("echo me\n"))
	require.NoError(t, err)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "echo me\n", line)

	resp, err = ch.Execute(protocol.ExitRequest{})
	require.NoError(t, err)
	require.Nil(t, resp.Failure())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("emulator did not exit")
	}
	_, err = os.Stat(emu.ChannelPath())
	require.True(t, os.IsNotExist(err))
}
