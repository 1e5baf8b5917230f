// Package ti50 drives an already running emulator instance over its control
// channel. It never spawns or reaps the emulator itself.
package ti50

import (
	"errors"
	"path/filepath"

	"github.com/danmuck/dutctl/internal/control"
	"github.com/danmuck/dutctl/internal/transport"
	"github.com/rs/zerolog/log"
)

const (
	// UartID is the only console instance the emulator exposes.
	UartID = "0"
	// DefaultBaudrate is reported by the virtual console.
	DefaultBaudrate = 7200
)

type Options struct {
	Control  control.Config
	Baudrate uint32
	// Exec is carried in Start and Restart requests.
	Exec string
}

func DefaultOptions() Options {
	return Options{
		Control:  control.DefaultConfig(),
		Baudrate: DefaultBaudrate,
	}
}

// Transport is the remote-observed backend. Every handle shares one channel.
type Transport struct {
	transport.Unimplemented

	instance string
	opts     Options
	channel  *control.Channel

	uarts transport.Cache[*transport.StreamUart]
	gpios transport.Cache[*GpioPin]
	emu   transport.Lazy[*Emulator]
}

// Open connects to the control socket of a named, running instance.
func Open(instance string, opts Options) (*Transport, error) {
	if instance == "" {
		return nil, &transport.InvalidInstanceError{Kind: "instance", ID: instance}
	}
	return OpenPath(control.SocketPath(instance), opts)
}

// OpenPath connects to a control socket at an explicit path.
func OpenPath(path string, opts Options) (*Transport, error) {
	ch, err := control.ConnectPath(path, opts.Control)
	if err != nil {
		return nil, err
	}
	return newTransport(filepath.Base(filepath.Dir(path)), ch, opts), nil
}

func newTransport(instance string, ch *control.Channel, opts Options) *Transport {
	if opts.Baudrate == 0 {
		opts.Baudrate = DefaultBaudrate
	}
	log.Info().Str("instance", instance).Str("path", ch.Path()).Msg("ti50 transport opened")
	return &Transport{instance: instance, opts: opts, channel: ch}
}

func (t *Transport) Instance() string { return t.instance }

func (t *Transport) Capabilities() transport.Capability {
	return transport.CapUart | transport.CapGpio | transport.CapEmulator
}

func (t *Transport) Uart(id string) (transport.Uart, error) {
	if id != UartID {
		return nil, &transport.InvalidInstanceError{Kind: "uart", ID: id}
	}
	uart, err := t.uarts.Get(id, func() (*transport.StreamUart, error) {
		return OpenConsole(t.channel, id, t.opts.Baudrate)
	})
	if err != nil {
		return nil, err
	}
	return uart, nil
}

func (t *Transport) GpioPin(id string) (transport.GpioPin, error) {
	if id == "" {
		return nil, &transport.InvalidInstanceError{Kind: "gpio", ID: id}
	}
	pin, err := t.gpios.Get(id, func() (*GpioPin, error) {
		return NewGpioPin(t.channel, id), nil
	})
	if err != nil {
		return nil, err
	}
	return pin, nil
}

func (t *Transport) Emulator() (transport.Emulator, error) {
	emu, err := t.emu.Get(func() (*Emulator, error) {
		return &Emulator{channel: t.channel, exec: t.opts.Exec, pins: &t.gpios}, nil
	})
	if err != nil {
		return nil, err
	}
	return emu, nil
}

// Close releases every handle and the shared channel.
func (t *Transport) Close() error {
	var errs []error
	for _, u := range t.uarts.Drain() {
		errs = append(errs, u.Close())
	}
	t.gpios.Drain()
	t.emu.Drain()
	errs = append(errs, t.channel.Close())
	return errors.Join(errs...)
}
