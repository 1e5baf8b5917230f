package transport

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

// Endpoint is a byte stream with read deadlines: a net.Conn, a FIFO or a tty.
type Endpoint interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// StreamUart adapts an Endpoint to Uart. Reads and writes are serialized
// independently so a blocked reader never stalls a writer.
type StreamUart struct {
	readMu  sync.Mutex
	writeMu sync.Mutex

	ep      Endpoint
	baudMu  sync.Mutex
	baud    uint32
	setBaud func(uint32) error
}

// NewStreamUart wraps ep. setBaud applies a rate to the endpoint; nil keeps
// the rate virtual.
func NewStreamUart(ep Endpoint, baud uint32, setBaud func(uint32) error) *StreamUart {
	return &StreamUart{ep: ep, baud: baud, setBaud: setBaud}
}

func (u *StreamUart) Baudrate() (uint32, error) {
	u.baudMu.Lock()
	defer u.baudMu.Unlock()
	return u.baud, nil
}

func (u *StreamUart) SetBaudrate(baud uint32) error {
	if baud == 0 {
		return errors.New("transport: baudrate must be positive")
	}
	u.baudMu.Lock()
	defer u.baudMu.Unlock()
	if u.setBaud != nil {
		if err := u.setBaud(baud); err != nil {
			return err
		}
	}
	u.baud = baud
	return nil
}

func (u *StreamUart) Read(buf []byte) (int, error) {
	u.readMu.Lock()
	defer u.readMu.Unlock()
	_ = u.ep.SetReadDeadline(time.Time{})
	return u.ep.Read(buf)
}

func (u *StreamUart) ReadTimeout(buf []byte, timeout time.Duration) (int, error) {
	u.readMu.Lock()
	defer u.readMu.Unlock()
	if err := u.ep.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		// Regular files have no deadlines; an empty read means no data yet.
		n, rerr := u.ep.Read(buf)
		if errors.Is(rerr, io.EOF) {
			time.Sleep(timeout)
			return n, nil
		}
		return n, rerr
	}
	n, err := u.ep.Read(buf)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (u *StreamUart) Write(data []byte) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	for len(data) > 0 {
		n, err := u.ep.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (u *StreamUart) Close() error {
	return u.ep.Close()
}
