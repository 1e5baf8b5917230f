package transport

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/dutctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestStreamUartOverPipe(t *testing.T) {
	testlog.Start(t)

	local, remote := net.Pipe()
	defer remote.Close()
	uart := NewStreamUart(local, 7200, nil)
	defer uart.Close()

	go func() {
		buf := make([]byte, 16)
		n, _ := remote.Read(buf)
		_, _ = remote.Write(buf[:n])
	}()
	require.NoError(t, uart.Write([]byte("ping")))

	buf := make([]byte, 16)
	n, err := uart.ReadTimeout(buf, time.Second)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))

	n, err = uart.ReadTimeout(buf, 50*time.Millisecond)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStreamUartBaudrate(t *testing.T) {
	testlog.Start(t)

	local, remote := net.Pipe()
	defer remote.Close()

	var applied uint32
	uart := NewStreamUart(local, 115200, func(b uint32) error {
		applied = b
		return nil
	})
	baud, err := uart.Baudrate()
	require.NoError(t, err)
	require.Equal(t, uint32(115200), baud)

	require.NoError(t, uart.SetBaudrate(9600))
	require.Equal(t, uint32(9600), applied)
	baud, _ = uart.Baudrate()
	require.Equal(t, uint32(9600), baud)
	require.Error(t, uart.SetBaudrate(0))
}

func TestStreamUartRegularFileFallsBack(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "console.log")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	uart := NewStreamUart(f, 7200, nil)
	defer uart.Close()

	buf := make([]byte, 16)
	n, err := uart.ReadTimeout(buf, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	n, err = uart.ReadTimeout(buf, 10*time.Millisecond)
	require.NoError(t, err)
	require.Zero(t, n)
}
