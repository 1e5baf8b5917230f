// Package backend opens the transport named by configuration.
package backend

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/dutctl/internal/config"
	"github.com/danmuck/dutctl/internal/transport"
	"github.com/danmuck/dutctl/internal/transport/hardware"
	"github.com/danmuck/dutctl/internal/transport/ti50"
	"github.com/danmuck/dutctl/internal/transport/ti50emulator"
	"github.com/rs/zerolog/log"
	"tinygo.org/x/drivers"
)

var ErrUnknownBackend = errors.New("backend: unknown backend")

// Open returns the configured backend. The caller owns Close.
func Open(cfg config.Config) (transport.Transport, error) {
	log.Debug().Str("backend", cfg.Backend).Msg("backend opening")
	open, ok := lookup(cfg.Backend)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	return open(cfg)
}

func openTi50(cfg config.Config) (transport.Transport, error) {
	opts := ti50.DefaultOptions()
	opts.Control = cfg.Control.ChannelConfig()
	opts.Baudrate = cfg.Ti50.Baudrate
	opts.Exec = cfg.Ti50.Exec
	var (
		t   *ti50.Transport
		err error
	)
	if cfg.Ti50.Socket != "" {
		t, err = ti50.OpenPath(cfg.Ti50.Socket, opts)
	} else {
		t, err = ti50.Open(cfg.Ti50.Instance, opts)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func openEmulator(cfg config.Config) (transport.Transport, error) {
	sup, err := cfg.Ti50Emulator.SupervisorConfig()
	if err != nil {
		return nil, err
	}
	opts := ti50emulator.DefaultOptions()
	opts.Base = cfg.Ti50Emulator.Base
	opts.Supervisor = sup
	opts.Control = cfg.Control.ChannelConfig()
	t, err := ti50emulator.Open(sup.ExecutableDir, sup.Executable, cfg.Ti50Emulator.Prefix, opts)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// hardwareTransport also owns the device nodes it opened for the buses.
type hardwareTransport struct {
	*hardware.Transport
	devices []io.Closer
}

func (h *hardwareTransport) Close() error {
	errs := []error{h.Transport.Close()}
	for _, d := range h.devices {
		errs = append(errs, d.Close())
	}
	return errors.Join(errs...)
}

func openHardware(cfg config.Config) (transport.Transport, error) {
	hw := cfg.Hardware
	out := hardware.Config{
		Uarts: make(map[string]hardware.UartConfig, len(hw.Uarts)),
		Gpios: hw.Gpios,
		Spi:   make(map[string]hardware.SpiConfig, len(hw.Spi)),
		I2c:   make(map[string]drivers.I2C, len(hw.I2c)),
	}
	for id, u := range hw.Uarts {
		out.Uarts[id] = hardware.UartConfig{Path: u.Path, Baudrate: u.Baudrate}
	}

	var devices []io.Closer
	fail := func(err error) (transport.Transport, error) {
		for _, d := range devices {
			_ = d.Close()
		}
		return nil, err
	}
	for id, s := range hw.Spi {
		mode := transport.TransferMode(s.Mode)
		dev, err := hardware.OpenSpi(s.Device, mode, s.MaxSpeed)
		if err != nil {
			return fail(err)
		}
		devices = append(devices, dev)
		out.Spi[id] = hardware.SpiConfig{Bus: dev, ChipSelect: s.ChipSelect, Mode: mode, MaxSpeed: s.MaxSpeed}
	}
	for id, path := range hw.I2c {
		dev, err := hardware.OpenI2c(path)
		if err != nil {
			return fail(err)
		}
		devices = append(devices, dev)
		out.I2c[id] = dev
	}
	return &hardwareTransport{Transport: hardware.Open(out), devices: devices}, nil
}
