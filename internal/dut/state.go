// Package dut holds the device-under-test vocabulary shared by the supervisor
// and every transport backend: the power state machine, the emulator start
// arguments and the device error taxonomy.
package dut

import (
	"fmt"

	"github.com/danmuck/dutctl/internal/protocol"
)

// State is the observed device state. Busy is transient; Error is sticky until
// a later start, stop or reconcile observes a clean Off or On.
type State int

const (
	Off State = iota
	On
	Busy
	Error
)

// Unknown is returned alongside an error when no state could be observed.
const Unknown State = -1

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case On:
		return "on"
	case Busy:
		return "busy"
	case Error:
		return "error"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	switch s {
	case Off, On, Busy, Error, Unknown:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("dut: unknown state %d", int(s))
	}
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "off":
		*s = Off
	case "on":
		*s = On
	case "busy":
		*s = Busy
	case "error":
		*s = Error
	case "unknown":
		*s = Unknown
	default:
		return fmt.Errorf("dut: unknown state %q", string(text))
	}
	return nil
}

// FromWire maps a Status payload to the local state.
func FromWire(s protocol.DutState) (State, error) {
	switch s {
	case protocol.DutPowerOn:
		return On, nil
	case protocol.DutPowerOff:
		return Off, nil
	case protocol.DutBusy:
		return Busy, nil
	case protocol.DutError:
		return Error, nil
	default:
		return Unknown, fmt.Errorf("%w: DutState %q", protocol.ErrUnknownEnumValue, string(s))
	}
}

func ToWire(s State) protocol.DutState {
	switch s {
	case On:
		return protocol.DutPowerOn
	case Busy:
		return protocol.DutBusy
	case Error:
		return protocol.DutError
	default:
		return protocol.DutPowerOff
	}
}
