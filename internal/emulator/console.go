package emulator

import (
	"context"
	"io"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Banner is written to every console client on connect.
const Banner = "ti50 emulator console ready\n"

// Console is a loopback serial console: bytes written by a client are echoed
// back to it.
type Console struct {
	path  string
	ln    net.Listener
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func ListenConsole(path string) (*Console, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Console{path: path, ln: ln, conns: make(map[net.Conn]struct{})}, nil
}

func (c *Console) Path() string { return c.path }

func (c *Console) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}
		c.mu.Lock()
		if c.conns == nil {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conns[conn] = struct{}{}
		c.wg.Add(1)
		c.mu.Unlock()
		go c.echo(conn)
	}
}

func (c *Console) echo(conn net.Conn) {
	defer c.wg.Done()
	defer conn.Close()
	if _, err := io.WriteString(conn, Banner); err != nil {
		return
	}
	if _, err := io.Copy(conn, conn); err != nil {
		log.Debug().Err(err).Str("path", c.path).Msg("emulator.console client closed")
	}
}

func (c *Console) Close() error {
	err := c.ln.Close()
	c.mu.Lock()
	for conn := range c.conns {
		_ = conn.Close()
	}
	c.conns = nil
	c.mu.Unlock()
	c.wg.Wait()
	_ = os.Remove(c.path)
	return err
}
