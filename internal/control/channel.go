package control

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/dutctl/internal/observability"
	"github.com/danmuck/dutctl/internal/protocol"
	"github.com/danmuck/dutctl/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

var (
	ErrUnconnected = errors.New("control: channel not connected")
	ErrConnection  = errors.New("control: connection failed")
	ErrPeerClosed  = errors.New("control: peer closed connection")
)

// Channel is a synchronous request/response connection to one emulator.
// The zero value is unconnected. Handles sharing a Channel are serialized.
type Channel struct {
	mu     sync.Mutex
	path   string
	cfg    Config
	conn   net.Conn
	reader *bufio.Reader
	closed bool
}

// Connect dials the control socket of a named instance.
func Connect(instance string, cfg Config) (*Channel, error) {
	return ConnectPath(SocketPath(instance), cfg)
}

// ConnectPath dials the control socket at path.
func ConnectPath(path string, cfg Config) (*Channel, error) {
	c := NewChannel(path, cfg)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.dialLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewChannel returns a channel bound to path that dials on first use.
func NewChannel(path string, cfg Config) *Channel {
	return &Channel{path: path, cfg: cfg}
}

func (c *Channel) Path() string {
	if c == nil {
		return ""
	}
	return c.path
}

// Execute sends req and returns the response variant that answers it.
//
// A connection failure or peer close drops the socket and the next call
// re-dials, as does a peer that closes after answering. A write that finds
// the cached socket already closed re-dials once within the same call. A
// protocol error leaves the connection in place.
func (c *Channel) Execute(req protocol.Request) (protocol.Response, error) {
	if c == nil {
		return nil, ErrUnconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.path == "" {
		return nil, ErrUnconnected
	}

	payload, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	exchangeID := uuid.NewString()
	kind := string(req.Kind())
	start := time.Now()
	logger := log.With().Str("exchange_id", exchangeID).Str("path", c.path).Str("kind", kind).Logger()
	logger.Debug().Msg("control.exchange begin")

	reused := c.conn != nil
	if !reused {
		if err := c.dialLocked(); err != nil {
			observability.RecordControlExchange(kind, "io_error", time.Since(start))
			return nil, err
		}
	}

	err = c.writeLocked(payload)
	if reused && isStaleWrite(err) {
		// The request never reached the peer.
		logger.Debug().Err(err).Msg("control.exchange stale connection, redialing")
		c.dropLocked()
		if err = c.dialLocked(); err == nil {
			err = c.writeLocked(payload)
		}
	}
	var record []byte
	if err == nil {
		record, err = c.readLocked()
	}
	if err != nil {
		c.dropLocked()
		observability.RecordControlExchange(kind, "io_error", time.Since(start))
		logger.Debug().Err(err).Msg("control.exchange connection dropped")
		return nil, err
	}
	if c.peerGoneLocked() {
		logger.Debug().Msg("control.exchange peer closed after response")
		c.dropLocked()
	}

	resp, err := protocol.DecodeResponse(record)
	if err == nil {
		err = protocol.Expect(req, resp)
	}
	if err != nil {
		observability.RecordControlExchange(kind, "protocol_error", time.Since(start))
		logger.Warn().Err(err).Msg("control.exchange protocol error")
		return nil, err
	}

	outcome := "ok"
	if failure := resp.Failure(); failure != nil {
		outcome = "remote_error"
		logger.Debug().Str("remote_error", failure.Error()).Msg("control.exchange remote failure")
	}
	observability.RecordControlExchange(kind, outcome, time.Since(start))
	logger.Debug().Dur("duration", time.Since(start)).Msg("control.exchange done")
	return resp, nil
}

// Close releases the socket. Later calls fail with ErrUnconnected.
func (c *Channel) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
	return err
}

func (c *Channel) dialLocked() error {
	conn, err := net.DialTimeout("unix", c.path, c.cfg.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnection, c.path, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	log.Debug().Str("path", c.path).Msg("control.channel connected")
	return nil
}

func (c *Channel) writeLocked(payload []byte) error {
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := frame.WriteRecord(c.conn, payload, c.cfg.Limits); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrConnection, c.path, err)
	}
	return nil
}

func (c *Channel) readLocked() ([]byte, error) {
	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	record, err := frame.ReadRecord(c.reader, c.cfg.Limits)
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s", ErrPeerClosed, c.path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrConnection, c.path, err)
	}
	return record, nil
}

// peerGoneLocked reports whether the peer has already closed its end, either
// while the record was read or right after it. It never blocks.
func (c *Channel) peerGoneLocked() bool {
	if c.reader.Buffered() > 0 {
		return false
	}
	sc, ok := c.conn.(syscall.Conn)
	if !ok {
		return false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return false
	}
	var (
		n       int
		peekErr error
	)
	buf := make([]byte, 1)
	err = raw.Read(func(fd uintptr) bool {
		n, _, peekErr = unix.Recvfrom(int(fd), buf, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		return true
	}
	switch {
	case errors.Is(peekErr, unix.EAGAIN):
		return false
	case peekErr != nil:
		return true
	default:
		return n == 0
	}
}

// isStaleWrite matches a write into a connection the peer already closed.
func isStaleWrite(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}

func (c *Channel) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}
