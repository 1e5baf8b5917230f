package ti50

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/dutctl/internal/control"
	"github.com/danmuck/dutctl/internal/dut"
	"github.com/danmuck/dutctl/internal/protocol"
	"github.com/danmuck/dutctl/internal/transport"
)

// OpenConsole asks the emulator where device id lives and opens it.
func OpenConsole(ch *control.Channel, id string, baud uint32) (*transport.StreamUart, error) {
	resp, err := ch.Execute(protocol.GetRequest{Dev: id})
	if err != nil {
		return nil, err
	}
	if err := dut.FromMessage(resp.Failure()); err != nil {
		return nil, err
	}
	entry := resp.(protocol.GetResponse).Entry
	ep, err := openEndpoint(entry)
	if err != nil {
		return nil, fmt.Errorf("ti50: open uart %s at %s: %w", id, entry.Filename, err)
	}
	return transport.NewStreamUart(ep, baud, nil), nil
}

func openEndpoint(entry protocol.DeviceEntry) (transport.Endpoint, error) {
	switch entry.Type {
	case protocol.InterfaceUnixStream:
		return net.Dial("unix", entry.Filename)
	case protocol.InterfaceUnixDatagram:
		local := filepath.Join(os.TempDir(), fmt.Sprintf("dutctl-uart-%d-%d", os.Getpid(), time.Now().UnixNano()))
		conn, err := net.DialUnix("unixgram",
			&net.UnixAddr{Name: local, Net: "unixgram"},
			&net.UnixAddr{Name: entry.Filename, Net: "unixgram"})
		if err != nil {
			return nil, err
		}
		return &datagramEndpoint{UnixConn: conn, local: local}, nil
	case protocol.InterfaceFifo, protocol.InterfacePty, protocol.InterfaceRegularFile:
		f, err := os.OpenFile(entry.Filename, os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, transport.Unsupported("endpoint type " + string(entry.Type))
	}
}

// datagramEndpoint removes its bound client address on close.
type datagramEndpoint struct {
	*net.UnixConn
	local string
}

func (d *datagramEndpoint) Close() error {
	err := d.UnixConn.Close()
	_ = os.Remove(d.local)
	return err
}
