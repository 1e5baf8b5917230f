// Package ti50emulator spawns and supervises a local emulator and drives it
// through the same control channel the ti50 backend uses.
//
// Ownership boundary:
// - the instance tree (created on Open, removed on Close)
// - the supervised child via supervisor.Supervisor
// - one lazily dialed control channel shared by uart and gpio handles
package ti50emulator

import (
	"errors"

	"github.com/danmuck/dutctl/internal/control"
	"github.com/danmuck/dutctl/internal/dut"
	"github.com/danmuck/dutctl/internal/instance"
	"github.com/danmuck/dutctl/internal/supervisor"
	"github.com/danmuck/dutctl/internal/transport"
	"github.com/danmuck/dutctl/internal/transport/ti50"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// Base is the parent of the instance tree. Empty means instance.DefaultBase.
	Base       string
	Supervisor supervisor.Config
	Control    control.Config
	Baudrate   uint32
}

func DefaultOptions() Options {
	return Options{
		Supervisor: supervisor.DefaultConfig(),
		Control:    control.DefaultConfig(),
		Baudrate:   ti50.DefaultBaudrate,
	}
}

type Transport struct {
	transport.Unimplemented

	session *instance.Session
	sup     *supervisor.Supervisor
	opts    Options

	channel transport.Lazy[*control.Channel]
	uarts   transport.Cache[*transport.StreamUart]
	gpios   transport.Cache[*ti50.GpioPin]
	emu     transport.Lazy[*Emulator]
}

// Open creates a fresh instance tree named after prefix and a supervisor for
// exec in execDir. The child is not started.
func Open(execDir, exec, prefix string, opts Options) (*Transport, error) {
	session, err := instance.Open(opts.Base, prefix)
	if err != nil {
		return nil, err
	}
	opts.Supervisor.ExecutableDir = execDir
	opts.Supervisor.Executable = exec
	if opts.Baudrate == 0 {
		opts.Baudrate = ti50.DefaultBaudrate
	}
	log.Info().Str("instance", session.Name()).Str("exec", exec).Msg("ti50emulator transport opened")
	return &Transport{
		session: session,
		sup:     supervisor.New(session, opts.Supervisor),
		opts:    opts,
	}, nil
}

func (t *Transport) Session() *instance.Session { return t.session }

func (t *Transport) Capabilities() transport.Capability {
	return transport.CapUart | transport.CapGpio | transport.CapSpi | transport.CapI2c | transport.CapEmulator
}

func (t *Transport) Uart(id string) (transport.Uart, error) {
	if id != ti50.UartID {
		return nil, &transport.InvalidInstanceError{Kind: "uart", ID: id}
	}
	ch, err := t.control()
	if err != nil {
		return nil, err
	}
	uart, err := t.uarts.Get(id, func() (*transport.StreamUart, error) {
		return ti50.OpenConsole(ch, id, t.opts.Baudrate)
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
	ch, err := t.control()
	if err != nil {
		return nil, err
	}
	pin, err := t.gpios.Get(id, func() (*ti50.GpioPin, error) {
		return ti50.NewGpioPin(ch, id), nil
	})
	if err != nil {
		return nil, err
	}
	return pin, nil
}

func (t *Transport) Emulator() (transport.Emulator, error) {
	emu, err := t.emu.Get(func() (*Emulator, error) {
		return &Emulator{Supervisor: t.sup, consoles: &t.uarts, pins: &t.gpios}, nil
	})
	if err != nil {
		return nil, err
	}
	return emu, nil
}

func (t *Transport) control() (*control.Channel, error) {
	return t.channel.Get(func() (*control.Channel, error) {
		return control.NewChannel(t.session.ChannelPath(), t.opts.Control), nil
	})
}

// Close stops the child, releases every handle and removes the instance tree.
func (t *Transport) Close() error {
	var errs []error
	for _, u := range t.uarts.Drain() {
		errs = append(errs, u.Close())
	}
	t.gpios.Drain()
	t.emu.Drain()
	for _, ch := range t.channel.Drain() {
		errs = append(errs, ch.Close())
	}
	errs = append(errs, t.sup.Close(), t.session.Close())
	return errors.Join(errs...)
}

// Emulator is the supervisor seen through the transport facade. A call that
// replaces or stops the child drops cached console streams, which belong to
// the old child, and forgets pin modes. A rejected call leaves both alone.
type Emulator struct {
	*supervisor.Supervisor
	consoles *transport.Cache[*transport.StreamUart]
	pins     *transport.Cache[*ti50.GpioPin]
}

func (e *Emulator) Start(factoryReset bool, args *dut.Args) error {
	return e.transition(func() error { return e.Supervisor.Start(factoryReset, args) })
}

func (e *Emulator) Stop() error {
	return e.transition(e.Supervisor.Stop)
}

func (e *Emulator) Restart(factoryReset bool, args *dut.Args) error {
	return e.transition(func() error { return e.Supervisor.Restart(factoryReset, args) })
}

func (e *Emulator) transition(op func() error) error {
	before := e.Pid()
	err := op()
	if err == nil || e.Pid() != before {
		for _, u := range e.consoles.Evict() {
			_ = u.Close()
		}
		ti50.ForgetAll(e.pins)
	}
	return err
}
