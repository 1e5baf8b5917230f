package dut

import (
	"errors"
	"fmt"

	"github.com/danmuck/dutctl/internal/protocol"
)

var (
	// Device-reported failures, mapped from protocol.ErrorMessage.
	ErrRuntime         = errors.New("dut: runtime error")
	ErrInvalidArgument = errors.New("dut: invalid argument")
	ErrBusy            = errors.New("dut: device busy")

	// Supervisor failures.
	ErrStartFailure   = errors.New("dut: start failed")
	ErrStopFailure    = errors.New("dut: stop failed")
	ErrAlreadyRunning = errors.New("dut: emulator already running")
	ErrAlreadyOff     = errors.New("dut: emulator already off")
	ErrTransientBusy  = errors.New("dut: emulator transitioning")
)

// InvalidArgumentNameError rejects a start argument the supervisor owns or
// does not know.
type InvalidArgumentNameError struct {
	Key string
}

func (e *InvalidArgumentNameError) Error() string {
	return fmt.Sprintf("dut: invalid argument name %q", e.Key)
}

func (e *InvalidArgumentNameError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// FromMessage converts a remote ErrorMessage into a dut error. It returns nil
// for a nil message.
func FromMessage(msg *protocol.ErrorMessage) error {
	if msg == nil {
		return nil
	}
	switch msg.Kind {
	case protocol.ErrorBusy:
		return ErrBusy
	case protocol.ErrorInvalid:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, msg.Text)
	default:
		return fmt.Errorf("%w: %s", ErrRuntime, msg.Text)
	}
}

// ToMessage converts a local error into the ErrorMessage a server answers with.
func ToMessage(err error) *protocol.ErrorMessage {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrBusy), errors.Is(err, ErrTransientBusy):
		return protocol.BusyError()
	case errors.Is(err, ErrInvalidArgument):
		return protocol.InvalidError(err.Error())
	default:
		return protocol.RuntimeError(err.Error())
	}
}
