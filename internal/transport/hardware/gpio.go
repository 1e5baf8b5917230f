package hardware

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/dutctl/internal/transport"
	"periph.io/x/conn/v3/gpio"
)

var ErrInputPin = errors.New("hardware: gpio is configured as input")

// GpioPin drives one periph GPIO. Open drain has no periph equivalent.
// Pull only takes effect in input mode; the sysfs driver accepts none but
// PullNone, other drivers may accept more.
type GpioPin struct {
	mu   sync.Mutex
	pin  gpio.PinIO
	mode transport.PinMode
	pull transport.PullMode
}

// NewGpioPin wraps pin. The line starts as an input until SetMode says otherwise.
func NewGpioPin(pin gpio.PinIO) *GpioPin {
	return &GpioPin{pin: pin, mode: transport.Input}
}

func (p *GpioPin) Name() string { return p.pin.Name() }

func (p *GpioPin) Read() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pin.Read() == gpio.High, nil
}

func (p *GpioPin) Write(value bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == transport.Input {
		return fmt.Errorf("%w: %s", ErrInputPin, p.pin.Name())
	}
	if err := p.pin.Out(gpio.Level(value)); err != nil {
		return fmt.Errorf("hardware: write gpio %s: %w", p.pin.Name(), err)
	}
	return nil
}

func (p *GpioPin) SetMode(mode transport.PinMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch mode {
	case transport.PushPull:
		if err := p.pin.Out(p.pin.Read()); err != nil {
			return fmt.Errorf("hardware: gpio %s output: %w", p.pin.Name(), err)
		}
	case transport.Input:
		if err := p.inLocked(p.pull); err != nil {
			return err
		}
	default:
		return transport.Unsupported("gpio mode " + mode.String())
	}
	p.mode = mode
	return nil
}

func (p *GpioPin) SetPullMode(pull transport.PullMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == transport.Input {
		if err := p.inLocked(pull); err != nil {
			return err
		}
	}
	p.pull = pull
	return nil
}

func (p *GpioPin) inLocked(pull transport.PullMode) error {
	var want gpio.Pull
	switch pull {
	case transport.PullNone:
		want = gpio.Float
	case transport.PullUp:
		want = gpio.PullUp
	case transport.PullDown:
		want = gpio.PullDown
	default:
		return transport.Unsupported("gpio pull " + pull.String())
	}
	if err := p.pin.In(want, gpio.NoEdge); err != nil {
		return fmt.Errorf("hardware: gpio %s input %s: %w", p.pin.Name(), pull, err)
	}
	return nil
}
