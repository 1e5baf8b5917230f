package hardware

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/dutctl/internal/transport"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"tinygo.org/x/drivers"
)

const (
	// MaxSpiTransfers bounds the segments of one transaction.
	MaxSpiTransfers = 64
	// MaxSpiChunk bounds the bytes of one segment.
	MaxSpiChunk = 4096
	// DefaultSpiSpeed applies when no max speed is configured.
	DefaultSpiSpeed = 1_000_000
)

var ErrTransferShape = errors.New("hardware: malformed transfer")

var _ drivers.SPI = (*SpiPort)(nil)

// SpiPort is a connected periph SPI port presented as a drivers.SPI bus.
type SpiPort struct {
	port spi.PortCloser
	conn spi.Conn
}

// OpenSpi opens a spidev port by node path ("/dev/spidev0.0") or alias ("SPI0.0").
func OpenSpi(name string, mode transport.TransferMode, hz uint32) (*SpiPort, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("hardware: open spi %s: %w", name, err)
	}
	return ConnectSpi(port, mode, hz)
}

// ConnectSpi connects port with 8 bit words. The port is closed on failure.
func ConnectSpi(port spi.PortCloser, mode transport.TransferMode, hz uint32) (*SpiPort, error) {
	if mode > transport.Mode3 {
		_ = port.Close()
		return nil, fmt.Errorf("%w: spi mode %d", ErrTransferShape, mode)
	}
	if hz == 0 {
		hz = DefaultSpiSpeed
	}
	conn, err := port.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode(mode), 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("hardware: connect spi %s: %w", port, err)
	}
	return &SpiPort{port: port, conn: conn}, nil
}

func (s *SpiPort) Tx(w, r []byte) error { return s.conn.Tx(w, r) }

func (s *SpiPort) Transfer(b byte) (byte, error) {
	r := []byte{0}
	err := s.conn.Tx([]byte{b}, r)
	return r[0], err
}

func (s *SpiPort) Close() error { return s.port.Close() }

// SpiTarget adapts a drivers.SPI bus. Mode and speed are recorded for the
// caller; the bus driver was configured when it was created.
type SpiTarget struct {
	mu    sync.Mutex
	bus   drivers.SPI
	cs    transport.GpioPin
	mode  transport.TransferMode
	speed uint32
}

func NewSpiTarget(bus drivers.SPI, cs transport.GpioPin, mode transport.TransferMode, speed uint32) (*SpiTarget, error) {
	if bus == nil {
		return nil, errors.New("hardware: spi bus driver is nil")
	}
	if cs != nil {
		if err := cs.SetMode(transport.PushPull); err != nil {
			return nil, err
		}
		if err := cs.Write(true); err != nil {
			return nil, err
		}
	}
	return &SpiTarget{bus: bus, cs: cs, mode: mode, speed: speed}, nil
}

func (s *SpiTarget) TransferMode() (transport.TransferMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, nil
}

func (s *SpiTarget) SetTransferMode(mode transport.TransferMode) error {
	if mode > transport.Mode3 {
		return fmt.Errorf("%w: spi mode %d", ErrTransferShape, mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

func (s *SpiTarget) BitsPerWord() (uint32, error) { return 8, nil }

func (s *SpiTarget) SetBitsPerWord(bits uint32) error {
	if bits != 8 {
		return transport.Unsupported(fmt.Sprintf("spi %d bits per word", bits))
	}
	return nil
}

func (s *SpiTarget) MaxSpeed() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed, nil
}

func (s *SpiTarget) SetMaxSpeed(hz uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = hz
	return nil
}

func (s *SpiTarget) MaxTransferCount() int { return MaxSpiTransfers }
func (s *SpiTarget) MaxChunkSize() int     { return MaxSpiChunk }

// RunTransaction holds chip select low across every segment.
func (s *SpiTarget) RunTransaction(transfers []transport.SpiTransfer) error {
	if len(transfers) > MaxSpiTransfers {
		return fmt.Errorf("%w: %d segments", ErrTransferShape, len(transfers))
	}
	for i, tr := range transfers {
		switch {
		case tr.Write == nil && tr.Read == nil:
			return fmt.Errorf("%w: segment %d is empty", ErrTransferShape, i)
		case tr.Write != nil && tr.Read != nil && len(tr.Write) != len(tr.Read):
			return fmt.Errorf("%w: segment %d full duplex lengths %d/%d", ErrTransferShape, i, len(tr.Write), len(tr.Read))
		case len(tr.Write) > MaxSpiChunk || len(tr.Read) > MaxSpiChunk:
			return fmt.Errorf("%w: segment %d exceeds %d bytes", ErrTransferShape, i, MaxSpiChunk)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cs != nil {
		if err := s.cs.Write(false); err != nil {
			return err
		}
		defer func() { _ = s.cs.Write(true) }()
	}
	for i, tr := range transfers {
		if err := s.bus.Tx(tr.Write, tr.Read); err != nil {
			return fmt.Errorf("hardware: spi segment %d: %w", i, err)
		}
	}
	return nil
}
