package control

import (
	"path/filepath"
	"time"

	"github.com/danmuck/dutctl/internal/protocol/frame"
)

// SocketDir is the base directory holding per-instance control sockets.
const SocketDir = "/tmp"

// SocketName is the control socket file name inside an instance directory.
const SocketName = "ctl.unix"

// Config defines channel timeouts and record limits.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Limits         frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		Limits:         frame.DefaultLimits(),
	}
}

// SocketPath returns the control socket of a named instance.
func SocketPath(instance string) string {
	return filepath.Join(SocketDir, instance, SocketName)
}
