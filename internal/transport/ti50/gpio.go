package ti50

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/dutctl/internal/control"
	"github.com/danmuck/dutctl/internal/dut"
	"github.com/danmuck/dutctl/internal/protocol"
	"github.com/danmuck/dutctl/internal/transport"
)

var ErrIndeterminate = errors.New("ti50: pin level indeterminate")

// GpioPin drives one emulator pin and remembers the last mode and pull applied
// through it.
type GpioPin struct {
	channel *control.Channel
	id      string

	mu      sync.Mutex
	mode    transport.PinMode
	pull    transport.PullMode
	hasMode bool
	hasPull bool
}

func NewGpioPin(ch *control.Channel, id string) *GpioPin {
	return &GpioPin{channel: ch, id: id}
}

func (p *GpioPin) ID() string { return p.id }

func (p *GpioPin) Read() (bool, error) {
	result, err := p.execute(protocol.GpioGet(p.id))
	if err != nil {
		return false, err
	}
	switch result.Value {
	case protocol.GpioHigh:
		return true, nil
	case protocol.GpioLow:
		return false, nil
	default:
		return false, fmt.Errorf("%w: pin %s reads %s", ErrIndeterminate, p.id, result.Value)
	}
}

func (p *GpioPin) Write(value bool) error {
	_, err := p.execute(protocol.GpioSet(p.id, value))
	return err
}

func (p *GpioPin) SetMode(mode transport.PinMode) error {
	wire, err := modeToWire(mode)
	if err != nil {
		return err
	}
	if _, err := p.execute(protocol.GpioSetMode(p.id, wire)); err != nil {
		return err
	}
	p.mu.Lock()
	p.mode, p.hasMode = mode, true
	p.mu.Unlock()
	return nil
}

func (p *GpioPin) SetPullMode(pull transport.PullMode) error {
	wire, err := pullToWire(pull)
	if err != nil {
		return err
	}
	if _, err := p.execute(protocol.GpioSetPullMode(p.id, wire)); err != nil {
		return err
	}
	p.mu.Lock()
	p.pull, p.hasPull = pull, true
	p.mu.Unlock()
	return nil
}

// Forget clears the remembered mode and pull. Power transitions reset the
// emulator's pins, so the last applied values no longer hold.
func (p *GpioPin) Forget() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasMode, p.hasPull = false, false
}

// ForgetAll clears every pin held in pins.
func ForgetAll(pins *transport.Cache[*GpioPin]) {
	for _, pin := range pins.Values() {
		pin.Forget()
	}
}

// Mode returns the last mode applied since the last power transition, if any.
func (p *GpioPin) Mode() (transport.PinMode, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode, p.hasMode
}

// PullMode returns the last pull applied since the last power transition, if any.
func (p *GpioPin) PullMode() (transport.PullMode, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pull, p.hasPull
}

func (p *GpioPin) execute(cmd protocol.GpioCommand) (protocol.GpioResult, error) {
	resp, err := p.channel.Execute(protocol.GpioRequest{Command: cmd})
	if err != nil {
		return protocol.GpioResult{}, err
	}
	if err := dut.FromMessage(resp.Failure()); err != nil {
		return protocol.GpioResult{}, err
	}
	result := resp.(protocol.GpioResponse).Result
	if result.Op != cmd.Op {
		return protocol.GpioResult{}, fmt.Errorf("%w: gpio %s answered with %s", protocol.ErrUnexpectedVariant, cmd.Op, result.Op)
	}
	return result, nil
}

func modeToWire(m transport.PinMode) (protocol.GpioMode, error) {
	switch m {
	case transport.PushPull:
		return protocol.GpioPushPull, nil
	case transport.OpenDrain:
		return protocol.GpioOpenDrain, nil
	case transport.Input:
		return protocol.GpioInput, nil
	default:
		return "", transport.Unsupported("pin mode " + m.String())
	}
}

func pullToWire(m transport.PullMode) (protocol.GpioPullMode, error) {
	switch m {
	case transport.PullUp:
		return protocol.GpioPullUp, nil
	case transport.PullDown:
		return protocol.GpioPullDown, nil
	case transport.PullNone:
		return protocol.GpioPullNone, nil
	default:
		return "", transport.Unsupported("pull mode " + m.String())
	}
}
