package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind names a request variant and the response variant that answers it.
type Kind string

const (
	KindStatus  Kind = "Status"
	KindGet     Kind = "Get"
	KindGpio    Kind = "Gpio"
	KindExit    Kind = "Exit"
	KindStart   Kind = "Start"
	KindStop    Kind = "Stop"
	KindRestart Kind = "Restart"
)

// Request is the closed set of controller->emulator commands.
type Request interface {
	Kind() Kind
	isRequest()
}

type StatusRequest struct{}

type GetRequest struct {
	Dev string
}

type GpioRequest struct {
	Command GpioCommand
}

type ExitRequest struct{}

type StartRequest struct {
	Args EmulatorArgs
}

type StopRequest struct{}

type RestartRequest struct {
	Args EmulatorArgs
}

func (StatusRequest) Kind() Kind  { return KindStatus }
func (GetRequest) Kind() Kind     { return KindGet }
func (GpioRequest) Kind() Kind    { return KindGpio }
func (ExitRequest) Kind() Kind    { return KindExit }
func (StartRequest) Kind() Kind   { return KindStart }
func (StopRequest) Kind() Kind    { return KindStop }
func (RestartRequest) Kind() Kind { return KindRestart }

func (StatusRequest) isRequest()  {}
func (GetRequest) isRequest()     {}
func (GpioRequest) isRequest()    {}
func (ExitRequest) isRequest()    {}
func (StartRequest) isRequest()   {}
func (StopRequest) isRequest()    {}
func (RestartRequest) isRequest() {}

// MarshalRequest encodes a request value without the packet envelope.
func MarshalRequest(req Request) ([]byte, error) {
	switch r := req.(type) {
	case StatusRequest, ExitRequest, StopRequest:
		return encodeTag(string(r.Kind()), nil)
	case GetRequest:
		return encodeTag(string(KindGet), struct {
			Dev string `json:"dev"`
		}{r.Dev})
	case GpioRequest:
		return encodeTag(string(KindGpio), r.Command)
	case StartRequest:
		return encodeTag(string(KindStart), r.Args)
	case RestartRequest:
		return encodeTag(string(KindRestart), r.Args)
	case nil:
		return nil, ErrNilMessage
	default:
		return nil, fmt.Errorf("%w: request %T", ErrUnknownVariant, req)
	}
}

// UnmarshalRequest decodes a request value without the packet envelope.
func UnmarshalRequest(data []byte) (Request, error) {
	name, body, err := decodeTag(data)
	if err != nil {
		return nil, err
	}
	switch Kind(name) {
	case KindStatus, KindExit, KindStop:
		if err := unitVariant(name, body); err != nil {
			return nil, err
		}
		switch Kind(name) {
		case KindStatus:
			return StatusRequest{}, nil
		case KindExit:
			return ExitRequest{}, nil
		}
		return StopRequest{}, nil
	case KindGet:
		if err := dataVariant(name, body); err != nil {
			return nil, err
		}
		var raw struct {
			Dev *string `json:"dev"`
		}
		if err := decodeStrict(body, &raw); err != nil {
			return nil, err
		}
		if raw.Dev == nil {
			return nil, fmt.Errorf("%w: Get requires dev", ErrMissingField)
		}
		return GetRequest{Dev: *raw.Dev}, nil
	case KindGpio:
		if err := dataVariant(name, body); err != nil {
			return nil, err
		}
		var cmd GpioCommand
		if err := json.Unmarshal(body, &cmd); err != nil {
			return nil, err
		}
		return GpioRequest{Command: cmd}, nil
	case KindStart, KindRestart:
		if err := dataVariant(name, body); err != nil {
			return nil, err
		}
		var args EmulatorArgs
		if err := json.Unmarshal(body, &args); err != nil {
			return nil, err
		}
		if Kind(name) == KindStart {
			return StartRequest{Args: args}, nil
		}
		return RestartRequest{Args: args}, nil
	default:
		return nil, fmt.Errorf("%w: request %q", ErrUnknownVariant, name)
	}
}
