package hardware

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var ErrUnknownLine = errors.New("hardware: gpio line not registered")

var (
	hostOnce sync.Once
	hostErr  error
)

// initHost loads the periph host drivers (sysfs gpio, spidev, i2c-dev) once.
func initHost() error {
	hostOnce.Do(func() {
		state, err := host.Init()
		if err != nil {
			hostErr = fmt.Errorf("hardware: host init: %w", err)
			return
		}
		for _, f := range state.Failed {
			log.Debug().Str("driver", f.D.String()).Err(f.Err).Msg("periph driver failed")
		}
		log.Debug().Int("loaded", len(state.Loaded)).Msg("periph host initialized")
	})
	return hostErr
}

// LookupLine resolves a kernel GPIO line number through the periph registry.
func LookupLine(line int) (gpio.PinIO, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	pin := gpioreg.ByName(strconv.Itoa(line))
	if pin == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLine, line)
	}
	return pin, nil
}

// OpenI2c opens an i2c-dev bus by node path ("/dev/i2c-1") or alias ("I2C1").
// The returned bus satisfies drivers.I2C.
func OpenI2c(name string) (i2c.BusCloser, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("hardware: open i2c %s: %w", name, err)
	}
	return bus, nil
}
