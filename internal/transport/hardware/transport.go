// Package hardware exposes real host interfaces through the transport facade.
//
// Ownership boundary:
// - tty consoles opened from configured device paths
// - GPIO lines resolved through the periph.io registry
// - SPI/I2C adapters over tinygo.org/x/drivers bus drivers (periph ports in production)
//
// Capabilities follow what is configured. There is no emulator.
package hardware

import (
	"errors"

	"github.com/danmuck/dutctl/internal/transport"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"tinygo.org/x/drivers"
)

type UartConfig struct {
	Path     string
	Baudrate uint32
}

type SpiConfig struct {
	Bus drivers.SPI
	// ChipSelect names a configured gpio held low for each transaction.
	// Empty leaves chip select to the bus driver.
	ChipSelect string
	Mode       transport.TransferMode
	MaxSpeed   uint32
}

type Config struct {
	Uarts map[string]UartConfig
	// Gpios maps ids to kernel line numbers.
	Gpios map[string]int
	// Lines resolves a line number. Nil uses LookupLine.
	Lines func(line int) (gpio.PinIO, error)
	Spi   map[string]SpiConfig
	I2c   map[string]drivers.I2C
}

type Transport struct {
	transport.Unimplemented

	cfg   Config
	uarts transport.Cache[*transport.StreamUart]
	gpios transport.Cache[*GpioPin]
	spis  transport.Cache[*SpiTarget]
	i2cs  transport.Cache[*I2cBus]
}

func Open(cfg Config) *Transport {
	if cfg.Lines == nil {
		cfg.Lines = LookupLine
	}
	t := &Transport{cfg: cfg}
	log.Info().Str("capabilities", t.Capabilities().String()).Msg("hardware transport opened")
	return t
}

func (t *Transport) Capabilities() transport.Capability {
	var caps transport.Capability
	if len(t.cfg.Uarts) > 0 {
		caps |= transport.CapUart
	}
	if len(t.cfg.Gpios) > 0 {
		caps |= transport.CapGpio
	}
	if len(t.cfg.Spi) > 0 {
		caps |= transport.CapSpi
	}
	if len(t.cfg.I2c) > 0 {
		caps |= transport.CapI2c
	}
	return caps
}

func (t *Transport) Uart(id string) (transport.Uart, error) {
	if len(t.cfg.Uarts) == 0 {
		return nil, transport.Unsupported("uart")
	}
	cfg, ok := t.cfg.Uarts[id]
	if !ok {
		return nil, &transport.InvalidInstanceError{Kind: "uart", ID: id}
	}
	uart, err := t.uarts.Get(id, func() (*transport.StreamUart, error) {
		return OpenTTY(cfg.Path, cfg.Baudrate)
	})
	if err != nil {
		return nil, err
	}
	return uart, nil
}

func (t *Transport) GpioPin(id string) (transport.GpioPin, error) {
	pin, err := t.gpio(id)
	if err != nil {
		return nil, err
	}
	return pin, nil
}

func (t *Transport) gpio(id string) (*GpioPin, error) {
	if len(t.cfg.Gpios) == 0 {
		return nil, transport.Unsupported("gpio")
	}
	line, ok := t.cfg.Gpios[id]
	if !ok {
		return nil, &transport.InvalidInstanceError{Kind: "gpio", ID: id}
	}
	return t.gpios.Get(id, func() (*GpioPin, error) {
		pin, err := t.cfg.Lines(line)
		if err != nil {
			return nil, err
		}
		return NewGpioPin(pin), nil
	})
}

func (t *Transport) Spi(id string) (transport.SpiTarget, error) {
	if len(t.cfg.Spi) == 0 {
		return nil, transport.Unsupported("spi")
	}
	cfg, ok := t.cfg.Spi[id]
	if !ok {
		return nil, &transport.InvalidInstanceError{Kind: "spi", ID: id}
	}
	target, err := t.spis.Get(id, func() (*SpiTarget, error) {
		var cs transport.GpioPin
		if cfg.ChipSelect != "" {
			pin, err := t.gpio(cfg.ChipSelect)
			if err != nil {
				return nil, err
			}
			cs = pin
		}
		return NewSpiTarget(cfg.Bus, cs, cfg.Mode, cfg.MaxSpeed)
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

func (t *Transport) I2c(id string) (transport.I2cBus, error) {
	if len(t.cfg.I2c) == 0 {
		return nil, transport.Unsupported("i2c")
	}
	bus, ok := t.cfg.I2c[id]
	if !ok {
		return nil, &transport.InvalidInstanceError{Kind: "i2c", ID: id}
	}
	adapter, err := t.i2cs.Get(id, func() (*I2cBus, error) {
		return NewI2cBus(bus), nil
	})
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

// Close closes open consoles. Bus drivers belong to the caller.
func (t *Transport) Close() error {
	var errs []error
	for _, u := range t.uarts.Drain() {
		errs = append(errs, u.Close())
	}
	t.gpios.Drain()
	t.spis.Drain()
	t.i2cs.Drain()
	return errors.Join(errs...)
}
