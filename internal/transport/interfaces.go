package transport

import (
	"fmt"
	"time"

	"github.com/danmuck/dutctl/internal/dut"
)

type Uart interface {
	Baudrate() (uint32, error)
	SetBaudrate(baud uint32) error
	// Read blocks until some bytes arrive.
	Read(buf []byte) (int, error)
	// ReadTimeout returns 0, nil when nothing arrives within timeout.
	ReadTimeout(buf []byte, timeout time.Duration) (int, error)
	Write(data []byte) error
}

type PinMode int

const (
	PushPull PinMode = iota
	OpenDrain
	Input
)

func (m PinMode) String() string {
	switch m {
	case PushPull:
		return "push-pull"
	case OpenDrain:
		return "open-drain"
	case Input:
		return "input"
	default:
		return fmt.Sprintf("pin-mode(%d)", int(m))
	}
}

type PullMode int

const (
	PullNone PullMode = iota
	PullUp
	PullDown
)

func (m PullMode) String() string {
	switch m {
	case PullNone:
		return "none"
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return fmt.Sprintf("pull-mode(%d)", int(m))
	}
}

// ParsePinMode accepts the String forms.
func ParsePinMode(raw string) (PinMode, error) {
	for _, m := range []PinMode{PushPull, OpenDrain, Input} {
		if m.String() == raw {
			return m, nil
		}
	}
	return 0, fmt.Errorf("transport: unknown pin mode %q", raw)
}

// ParsePullMode accepts the String forms.
func ParsePullMode(raw string) (PullMode, error) {
	for _, m := range []PullMode{PullNone, PullUp, PullDown} {
		if m.String() == raw {
			return m, nil
		}
	}
	return 0, fmt.Errorf("transport: unknown pull mode %q", raw)
}

type GpioPin interface {
	Read() (bool, error)
	Write(value bool) error
	SetMode(mode PinMode) error
	SetPullMode(mode PullMode) error
}

// TransferMode is the SPI clock polarity/phase mode.
type TransferMode uint8

const (
	Mode0 TransferMode = iota
	Mode1
	Mode2
	Mode3
)

// SpiTransfer is one segment of a chip-select-held transaction. Write and
// Read may both be set for a full-duplex segment of equal length.
type SpiTransfer struct {
	Write []byte
	Read  []byte
}

type SpiTarget interface {
	TransferMode() (TransferMode, error)
	SetTransferMode(mode TransferMode) error
	BitsPerWord() (uint32, error)
	SetBitsPerWord(bits uint32) error
	MaxSpeed() (uint32, error)
	SetMaxSpeed(hz uint32) error
	MaxTransferCount() int
	MaxChunkSize() int
	RunTransaction(transfers []SpiTransfer) error
}

// I2cTransfer is one segment of a transaction to a single target address.
type I2cTransfer struct {
	Write []byte
	Read  []byte
}

type I2cBus interface {
	RunTransaction(addr uint8, transfers []I2cTransfer) error
}

// Emulator controls the power state of an emulated DUT.
type Emulator interface {
	State() (dut.State, error)
	Start(factoryReset bool, args *dut.Args) error
	Stop() error
	Restart(factoryReset bool, args *dut.Args) error
}
