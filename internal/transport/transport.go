// Package transport is the capability-queryable facade over every DUT
// interface: serial console, GPIO, SPI, I2C and emulator control.
//
// Ownership boundary:
// - the Transport contract implemented by each backend
// - interface handle contracts (Uart, GpioPin, SpiTarget, I2cBus, Emulator)
// - lazy, build-once handle caching shared by every caller
// - invalid-instance and unsupported-operation errors
package transport

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInstance      = errors.New("transport: invalid interface instance")
	ErrUnsupportedOperation = errors.New("transport: unsupported operation")
	ErrClosed               = errors.New("transport: closed")
)

// InvalidInstanceError names an interface id the backend does not expose.
type InvalidInstanceError struct {
	Kind string
	ID   string
}

func (e *InvalidInstanceError) Error() string {
	return fmt.Sprintf("transport: invalid %s instance %q", e.Kind, e.ID)
}

func (e *InvalidInstanceError) Is(target error) bool {
	return target == ErrInvalidInstance
}

// Unsupported wraps ErrUnsupportedOperation with what was asked for.
func Unsupported(what string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedOperation, what)
}

// Capability is a bit set of interface kinds a backend exposes.
type Capability uint32

const (
	CapUart Capability = 1 << iota
	CapGpio
	CapSpi
	CapI2c
	CapEmulator
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapUart, "uart"},
	{CapGpio, "gpio"},
	{CapSpi, "spi"},
	{CapI2c, "i2c"},
	{CapEmulator, "emulator"},
}

func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Require fails with ErrUnsupportedOperation naming every missing capability.
func (c Capability) Require(want ...Capability) error {
	var missing Capability
	for _, w := range want {
		missing |= w &^ c
	}
	if missing == 0 {
		return nil
	}
	return Unsupported("missing capabilities " + missing.String())
}

func (c Capability) Names() []string {
	var out []string
	for _, n := range capabilityNames {
		if c&n.c != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func (c Capability) String() string {
	names := c.Names()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Transport is one backend session. Accessors for capabilities the backend
// lacks fail with ErrUnsupportedOperation.
type Transport interface {
	Capabilities() Capability
	Uart(id string) (Uart, error)
	GpioPin(id string) (GpioPin, error)
	Spi(id string) (SpiTarget, error)
	I2c(id string) (I2cBus, error)
	Emulator() (Emulator, error)
	Close() error
}
