package hardware

import (
	"fmt"
	"os"
	"syscall"

	"github.com/danmuck/dutctl/internal/transport"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
)

// DefaultBaudrate applies when a console is configured without a rate.
const DefaultBaudrate = 115200

// OpenTTY opens a console device. Terminals are switched to raw mode at the
// requested rate; other character devices and FIFOs keep a virtual rate.
func OpenTTY(path string, baud uint32) (*transport.StreamUart, error) {
	if baud == 0 {
		baud = DefaultBaudrate
	}
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("hardware: open uart %s: %w", path, err)
	}
	terminal, err := isTerminal(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("hardware: open uart %s: %w", path, err)
	}
	if !terminal {
		log.Debug().Str("path", path).Msg("hardware uart is not a terminal, baudrate is virtual")
		return transport.NewStreamUart(f, baud, nil), nil
	}
	setBaud := func(rate uint32) error { return configureTTY(f, rate) }
	if err := setBaud(baud); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("hardware: configure uart %s: %w", path, err)
	}
	return transport.NewStreamUart(f, baud, setBaud), nil
}

// isTerminal goes through SyscallConn so the descriptor stays non-blocking
// and read deadlines keep working.
func isTerminal(f *os.File) (bool, error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return false, err
	}
	var terminal bool
	if err := raw.Control(func(fd uintptr) { terminal = isatty.IsTerminal(fd) }); err != nil {
		return false, err
	}
	return terminal, nil
}
