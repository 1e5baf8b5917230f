package protocol

import (
	"encoding/json"
	"fmt"
)

// DutState is the device state reported by a Status response.
type DutState string

const (
	DutPowerOn  DutState = "PowerOn"
	DutPowerOff DutState = "PowerOff"
	DutBusy     DutState = "Busy"  // transient state representing reset
	DutError    DutState = "Error" // detected crash or runtime error
)

var dutStates = []DutState{DutPowerOn, DutPowerOff, DutBusy, DutError}

func (s DutState) MarshalJSON() ([]byte, error) { return marshalEnum("DutState", s, dutStates) }

func (s *DutState) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("DutState", data, s, dutStates)
}

// GpioValue is the sampled level of a pin.
type GpioValue string

const (
	GpioHigh      GpioValue = "Hi"
	GpioLow       GpioValue = "Lo"
	GpioHighZ     GpioValue = "Z"
	GpioUndefined GpioValue = "X"
)

var gpioValues = []GpioValue{GpioHigh, GpioLow, GpioHighZ, GpioUndefined}

func (v GpioValue) MarshalJSON() ([]byte, error) { return marshalEnum("GpioValue", v, gpioValues) }

func (v *GpioValue) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("GpioValue", data, v, gpioValues)
}

type GpioMode string

const (
	GpioPushPull  GpioMode = "PushPull"
	GpioOpenDrain GpioMode = "OpenDrain"
	GpioInput     GpioMode = "Input"
)

var gpioModes = []GpioMode{GpioPushPull, GpioOpenDrain, GpioInput}

func (m GpioMode) MarshalJSON() ([]byte, error) { return marshalEnum("GpioMode", m, gpioModes) }

func (m *GpioMode) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("GpioMode", data, m, gpioModes)
}

type GpioPullMode string

const (
	GpioPullUp   GpioPullMode = "PullUp"
	GpioPullDown GpioPullMode = "PullDown"
	GpioPullNone GpioPullMode = "PullNone"
)

var gpioPullModes = []GpioPullMode{GpioPullUp, GpioPullDown, GpioPullNone}

func (p GpioPullMode) MarshalJSON() ([]byte, error) {
	return marshalEnum("GpioPullMode", p, gpioPullModes)
}

func (p *GpioPullMode) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("GpioPullMode", data, p, gpioPullModes)
}

// InterfaceType names how a device endpoint returned by Get is reached.
type InterfaceType string

const (
	InterfaceUnixDatagram InterfaceType = "UnixDatagram"
	InterfaceUnixStream   InterfaceType = "UnixStream"
	InterfaceFifo         InterfaceType = "Fifo"
	InterfacePty          InterfaceType = "Pty"
	InterfaceRegularFile  InterfaceType = "RegularFile"
)

var interfaceTypes = []InterfaceType{
	InterfaceUnixDatagram,
	InterfaceUnixStream,
	InterfaceFifo,
	InterfacePty,
	InterfaceRegularFile,
}

func (t InterfaceType) MarshalJSON() ([]byte, error) {
	return marshalEnum("InterfaceType", t, interfaceTypes)
}

func (t *InterfaceType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum("InterfaceType", data, t, interfaceTypes)
}

// DeviceEntry locates one device endpoint exposed by the emulator.
type DeviceEntry struct {
	ID       string        `json:"id"`
	Filename string        `json:"filename"`
	Type     InterfaceType `json:"typ"`
}

func (e *DeviceEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       *string        `json:"id"`
		Filename *string        `json:"filename"`
		Type     *InterfaceType `json:"typ"`
	}
	if err := decodeStrict(data, &raw); err != nil {
		return err
	}
	if raw.ID == nil || raw.Filename == nil || raw.Type == nil {
		return fmt.Errorf("%w: device entry requires id, filename and typ", ErrMissingField)
	}
	*e = DeviceEntry{ID: *raw.ID, Filename: *raw.Filename, Type: *raw.Type}
	return nil
}

// Arg is one emulator command-line pair. It encodes as a two element array.
type Arg struct {
	Key   string
	Value string
}

func (a Arg) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{a.Key, a.Value})
}

func (a *Arg) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: argument pair: %v", ErrMalformedTag, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: argument pair has %d elements", ErrMalformedTag, len(pair))
	}
	*a = Arg{Key: pair[0], Value: pair[1]}
	return nil
}

// EmulatorArgs is the executable plus ordered arguments. Order matters.
type EmulatorArgs struct {
	Exec string `json:"exec"`
	Args []Arg  `json:"args"`
}

func (a EmulatorArgs) MarshalJSON() ([]byte, error) {
	args := a.Args
	if args == nil {
		args = []Arg{}
	}
	return json.Marshal(struct {
		Exec string `json:"exec"`
		Args []Arg  `json:"args"`
	}{Exec: a.Exec, Args: args})
}

func (a *EmulatorArgs) UnmarshalJSON(data []byte) error {
	var raw struct {
		Exec *string `json:"exec"`
		Args *[]Arg  `json:"args"`
	}
	if err := decodeStrict(data, &raw); err != nil {
		return err
	}
	if raw.Exec == nil || raw.Args == nil {
		return fmt.Errorf("%w: emulator args require exec and args", ErrMissingField)
	}
	*a = EmulatorArgs{Exec: *raw.Exec}
	if len(*raw.Args) > 0 {
		a.Args = *raw.Args
	}
	return nil
}

func marshalEnum[T ~string](kind string, v T, valid []T) ([]byte, error) {
	for _, candidate := range valid {
		if candidate == v {
			return json.Marshal(string(v))
		}
	}
	return nil, fmt.Errorf("%w: %s %q", ErrUnknownEnumValue, kind, string(v))
}

func unmarshalEnum[T ~string](kind string, data []byte, out *T, valid []T) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnknownEnumValue, kind, err)
	}
	for _, candidate := range valid {
		if string(candidate) == s {
			*out = candidate
			return nil
		}
	}
	return fmt.Errorf("%w: %s %q", ErrUnknownEnumValue, kind, s)
}
