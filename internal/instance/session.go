// Package instance owns the on-disk lifetime of one emulator instance.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/dutctl/internal/control"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBase   = "/tmp"
	ResourcesDir  = "resources"
	RuntimeDir    = "runtime"
	ControlSocket = "control_soc"
)

var ErrClosed = errors.New("instance: session closed")

// Session is a uniquely named directory tree:
//
//	<base>/<name>/
//	  resources/   survives factory reset
//	  runtime/     wiped on factory reset
type Session struct {
	name   string
	dir    string
	closed bool
}

// Open creates a session named <prefix>_<pid>_<unix-seconds>_<unix-nanos>
// under base. An empty base means DefaultBase. An existing directory of the
// same name is an error, never reused.
func Open(base, prefix string) (*Session, error) {
	return openAt(base, prefix, time.Now())
}

func openAt(base, prefix string, now time.Time) (*Session, error) {
	if base == "" {
		base = DefaultBase
	}
	name := fmt.Sprintf("%s_%d_%d_%d", prefix, os.Getpid(), now.Unix(), now.UnixNano())
	s := &Session{name: name, dir: filepath.Join(base, name)}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("instance: create %s: %w", base, err)
	}
	if err := os.Mkdir(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("instance: create %s: %w", s.dir, err)
	}
	for _, dir := range []string{s.ResourcesPath(), s.RuntimePath()} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			_ = os.RemoveAll(s.dir)
			return nil, fmt.Errorf("instance: create %s: %w", dir, err)
		}
	}
	log.Debug().Str("instance", name).Str("dir", s.dir).Msg("instance.session opened")
	return s, nil
}

func (s *Session) Name() string          { return s.name }
func (s *Session) Dir() string           { return s.dir }
func (s *Session) ResourcesPath() string { return filepath.Join(s.dir, ResourcesDir) }
func (s *Session) RuntimePath() string   { return filepath.Join(s.dir, RuntimeDir) }

// ControlSocketPath is where the supervisor listens for the readiness token.
func (s *Session) ControlSocketPath() string {
	return filepath.Join(s.RuntimePath(), ControlSocket)
}

// ChannelPath is where a running emulator serves the control protocol.
func (s *Session) ChannelPath() string {
	return filepath.Join(s.dir, control.SocketName)
}

// FactoryReset wipes and recreates the runtime directory.
func (s *Session) FactoryReset() error {
	if s.closed {
		return ErrClosed
	}
	if err := os.RemoveAll(s.RuntimePath()); err != nil {
		return fmt.Errorf("instance: factory reset %s: %w", s.name, err)
	}
	if err := os.MkdirAll(s.RuntimePath(), 0o755); err != nil {
		return fmt.Errorf("instance: factory reset %s: %w", s.name, err)
	}
	log.Info().Str("instance", s.name).Msg("instance.session factory reset")
	return nil
}

// Close removes the whole tree. It is idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("instance: remove %s: %w", s.dir, err)
	}
	log.Debug().Str("instance", s.name).Msg("instance.session removed")
	return nil
}
