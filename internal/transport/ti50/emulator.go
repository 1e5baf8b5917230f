package ti50

import (
	"github.com/danmuck/dutctl/internal/control"
	"github.com/danmuck/dutctl/internal/dut"
	"github.com/danmuck/dutctl/internal/protocol"
	"github.com/danmuck/dutctl/internal/transport"
)

// Emulator proxies power control to the remote emulator. The observed state
// comes only from Status responses. A failed call yields dut.Unknown, which
// is never a state the device reported.
type Emulator struct {
	channel *control.Channel
	exec    string
	pins    *transport.Cache[*GpioPin]
}

func (e *Emulator) State() (dut.State, error) {
	resp, err := e.channel.Execute(protocol.StatusRequest{})
	if err != nil {
		return dut.Unknown, err
	}
	if err := dut.FromMessage(resp.Failure()); err != nil {
		return dut.Unknown, err
	}
	return dut.FromWire(resp.(protocol.StatusResponse).State)
}

// Start powers the DUT on. Factory reset needs local access to the instance
// tree and is not available remotely.
func (e *Emulator) Start(factoryReset bool, args *dut.Args) error {
	if factoryReset {
		return transport.Unsupported("remote factory reset")
	}
	return e.unit(protocol.StartRequest{Args: e.wireArgs(args)})
}

func (e *Emulator) Stop() error {
	return e.unit(protocol.StopRequest{})
}

func (e *Emulator) Restart(factoryReset bool, args *dut.Args) error {
	if factoryReset {
		return transport.Unsupported("remote factory reset")
	}
	return e.unit(protocol.RestartRequest{Args: e.wireArgs(args)})
}

// Exit asks the emulator process to terminate.
func (e *Emulator) Exit() error {
	return e.unit(protocol.ExitRequest{})
}

func (e *Emulator) wireArgs(args *dut.Args) protocol.EmulatorArgs {
	return protocol.EmulatorArgs{Exec: e.exec, Args: args.Wire()}
}

func (e *Emulator) unit(req protocol.Request) error {
	resp, err := e.channel.Execute(req)
	if err != nil {
		return err
	}
	if err := dut.FromMessage(resp.Failure()); err != nil {
		return err
	}
	if e.pins != nil && req.Kind() != protocol.KindExit {
		ForgetAll(e.pins)
	}
	return nil
}
