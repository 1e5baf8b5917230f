package control

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/dutctl/internal/protocol"
	"github.com/danmuck/dutctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Handler answers one decoded request.
type Handler interface {
	Handle(req protocol.Request) protocol.Response
}

type HandlerFunc func(req protocol.Request) protocol.Response

func (f HandlerFunc) Handle(req protocol.Request) protocol.Response { return f(req) }

// Server answers control requests on a unix socket, one response line per
// request line.
type Server struct {
	path    string
	cfg     Config
	handler Handler
	ln      net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	active  atomic.Int64
	closing atomic.Bool
}

// Listen binds path, replacing a stale socket file left by a previous run.
func Listen(path string, handler Handler, cfg Config) (*Server, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Server{
		path:    path,
		cfg:     cfg,
		handler: handler,
		ln:      ln,
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) Path() string { return s.path }

func (s *Server) ActiveClients() int64 { return s.active.Load() }

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	log.Info().Str("path", s.path).Msg("control.server listening")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.closing.Load() {
				return nil
			}
			return err
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting and removes the socket file. Open connections finish
// the exchange in flight and are then dropped.
func (s *Server) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	err := s.ln.Close()
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()
	s.wg.Wait()
	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// track registers conn unless the server is closing.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// handleConn decodes one request per line and writes one response per line.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	active := s.active.Add(1)
	log.Debug().Str("path", s.path).Int64("active_clients", active).Msg("control.server client connected")
	defer func() {
		remaining := s.active.Add(-1)
		log.Debug().Str("path", s.path).Int64("active_clients", remaining).Msg("control.server client disconnected")
	}()

	reader := bufio.NewReader(conn)
	for {
		record, err := frame.ReadRecord(reader, s.cfg.Limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closing.Load() {
				log.Warn().Err(err).Str("path", s.path).Msg("control.server read failed")
			}
			return
		}
		req, err := protocol.DecodeRequest(record)
		if err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("control.server invalid request")
			return
		}
		resp := s.answer(req)
		payload, err := protocol.EncodeResponse(resp)
		if err != nil {
			log.Error().Err(err).Str("kind", string(req.Kind())).Msg("control.server encode response failed")
			return
		}
		if s.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if err := frame.WriteRecord(conn, payload, s.cfg.Limits); err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("control.server write failed")
			return
		}
	}
}

func (s *Server) answer(req protocol.Request) protocol.Response {
	resp := s.handler.Handle(req)
	if resp != nil && protocol.Expect(req, resp) == nil {
		return resp
	}
	log.Error().Str("kind", string(req.Kind())).Msg("control.server handler returned no matching response")
	failed, _ := protocol.FailedResponse(req, protocol.RuntimeError("unhandled request"))
	return failed
}
