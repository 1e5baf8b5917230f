package emulator

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/danmuck/dutctl/internal/control"
	"github.com/rs/zerolog/log"
)

const consoleName = "console.unix"

type Config struct {
	// Path is the runtime directory handed over by the supervisor. The control
	// socket is served in its parent, the instance directory.
	Path          string
	ControlSocket string
	ReadyToken    string
	Control       control.Config
}

func DefaultConfig() Config {
	return Config{
		ReadyToken: "READY",
		Control:    control.DefaultConfig(),
	}
}

type Emulator struct {
	cfg    Config
	device *Device
}

func New(cfg Config) *Emulator {
	return &Emulator{
		cfg:    cfg,
		device: NewDevice(filepath.Join(cfg.Path, consoleName)),
	}
}

func (e *Emulator) Device() *Device { return e.device }

// ChannelPath is where the control protocol is served.
func (e *Emulator) ChannelPath() string {
	return filepath.Join(filepath.Dir(e.cfg.Path), control.SocketName)
}

// Run serves the console and control socket, announces readiness and blocks
// until ctx is done or an Exit request arrives.
func (e *Emulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	console, err := ListenConsole(e.device.consolePath)
	if err != nil {
		return fmt.Errorf("emulator: console: %w", err)
	}
	defer console.Close()
	go console.Serve(ctx)

	srv, err := control.Listen(e.ChannelPath(), e.device, e.cfg.Control)
	if err != nil {
		return fmt.Errorf("emulator: control socket: %w", err)
	}
	defer srv.Close()
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	if e.cfg.ControlSocket != "" {
		if err := Announce(e.cfg.ControlSocket, e.cfg.ReadyToken, e.cfg.Control.ConnectTimeout); err != nil {
			return err
		}
	}
	log.Info().Str("channel", e.ChannelPath()).Str("console", console.Path()).Msg("emulator running")

	select {
	case <-ctx.Done():
		return nil
	case <-e.device.Exited():
		log.Info().Msg("emulator exit requested")
		return nil
	case err := <-serveErr:
		return err
	}
}

// Announce writes the readiness token to the supervisor's control socket.
func Announce(socketPath, token string, timeout time.Duration) error {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return fmt.Errorf("emulator: announce %s: %w", socketPath, err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(token)); err != nil {
		return fmt.Errorf("emulator: announce %s: %w", socketPath, err)
	}
	return nil
}
