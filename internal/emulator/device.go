package emulator

import (
	"sync"

	"github.com/danmuck/dutctl/internal/protocol"
)

// ConsoleID names the console device answered by Get.
const ConsoleID = "0"

type pin struct {
	level bool
	mode  protocol.GpioMode
	pull  protocol.GpioPullMode
}

// value is what a reader observes on the pin.
func (p *pin) value() protocol.GpioValue {
	switch {
	case p.mode == protocol.GpioPushPull:
		return levelValue(p.level)
	case p.mode == protocol.GpioOpenDrain && !p.level:
		return protocol.GpioLow
	}
	switch p.pull {
	case protocol.GpioPullUp:
		return protocol.GpioHigh
	case protocol.GpioPullDown:
		return protocol.GpioLow
	default:
		return protocol.GpioHighZ
	}
}

func levelValue(level bool) protocol.GpioValue {
	if level {
		return protocol.GpioHigh
	}
	return protocol.GpioLow
}

// Device is the simulated DUT. It implements control.Handler.
type Device struct {
	mu          sync.Mutex
	state       protocol.DutState
	pins        map[string]*pin
	consolePath string
	lastArgs    protocol.EmulatorArgs
	starts      int
	exit        chan struct{}
	exitOnce    sync.Once
}

// NewDevice returns a powered-on device whose console lives at consolePath.
func NewDevice(consolePath string) *Device {
	return &Device{
		state:       protocol.DutPowerOn,
		pins:        make(map[string]*pin),
		consolePath: consolePath,
		exit:        make(chan struct{}),
	}
}

// Exited is closed once an Exit request has been answered.
func (d *Device) Exited() <-chan struct{} { return d.exit }

func (d *Device) State() protocol.DutState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastArgs returns the arguments of the most recent Start or Restart.
func (d *Device) LastArgs() (protocol.EmulatorArgs, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastArgs, d.starts
}

func (d *Device) Handle(req protocol.Request) protocol.Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch r := req.(type) {
	case protocol.StatusRequest:
		return protocol.StatusResponse{State: d.state}
	case protocol.GetRequest:
		if r.Dev != ConsoleID || d.consolePath == "" {
			return protocol.GetResponse{Err: protocol.InvalidError("unknown device " + r.Dev)}
		}
		return protocol.GetResponse{Entry: protocol.DeviceEntry{
			ID:       r.Dev,
			Filename: d.consolePath,
			Type:     protocol.InterfaceUnixStream,
		}}
	case protocol.GpioRequest:
		return d.gpioLocked(r.Command)
	case protocol.ExitRequest:
		d.exitOnce.Do(func() { close(d.exit) })
		return protocol.ExitResponse{}
	case protocol.StartRequest:
		if d.state == protocol.DutPowerOn {
			return protocol.StartResponse{Err: protocol.RuntimeError("already powered on")}
		}
		d.powerOnLocked(r.Args)
		return protocol.StartResponse{}
	case protocol.StopRequest:
		if d.state == protocol.DutPowerOff {
			return protocol.StopResponse{Err: protocol.RuntimeError("already powered off")}
		}
		d.state = protocol.DutPowerOff
		return protocol.StopResponse{}
	case protocol.RestartRequest:
		d.powerOnLocked(r.Args)
		return protocol.RestartResponse{}
	default:
		return nil
	}
}

// powerOnLocked also returns every pin to a floating input.
func (d *Device) powerOnLocked(args protocol.EmulatorArgs) {
	d.state = protocol.DutPowerOn
	d.lastArgs = args
	d.starts++
	clear(d.pins)
}

func (d *Device) gpioLocked(cmd protocol.GpioCommand) protocol.Response {
	if d.state != protocol.DutPowerOn {
		return protocol.GpioResponse{Err: protocol.BusyError()}
	}
	p, ok := d.pins[cmd.ID]
	if !ok {
		p = &pin{mode: protocol.GpioInput, pull: protocol.GpioPullNone}
		d.pins[cmd.ID] = p
	}
	switch cmd.Op {
	case protocol.GpioOpSet:
		if p.mode == protocol.GpioInput {
			return protocol.GpioResponse{Err: protocol.InvalidError("pin " + cmd.ID + " is an input")}
		}
		p.level = cmd.Logic
	case protocol.GpioOpGet:
		return protocol.GpioResponse{Result: protocol.GpioResult{Op: protocol.GpioOpGet, Value: p.value()}}
	case protocol.GpioOpSetMode:
		p.mode = cmd.Mode
	case protocol.GpioOpSetPullMode:
		p.pull = cmd.Pull
	default:
		return protocol.GpioResponse{Err: protocol.InvalidError("unknown gpio operation")}
	}
	return protocol.GpioResponse{Result: protocol.GpioResult{Op: cmd.Op}}
}
