package protocol

import (
	"encoding/json"
	"fmt"
)

// Response mirrors each Request with a result: a payload or an ErrorMessage.
type Response interface {
	Kind() Kind
	// Failure returns the remote error, or nil when the operation succeeded.
	Failure() *ErrorMessage
	isResponse()
}

type StatusResponse struct {
	State DutState
	Err   *ErrorMessage
}

type GetResponse struct {
	Entry DeviceEntry
	Err   *ErrorMessage
}

type GpioResponse struct {
	Result GpioResult
	Err    *ErrorMessage
}

type ExitResponse struct {
	Err *ErrorMessage
}

type StartResponse struct {
	Err *ErrorMessage
}

type StopResponse struct {
	Err *ErrorMessage
}

type RestartResponse struct {
	Err *ErrorMessage
}

func (StatusResponse) Kind() Kind  { return KindStatus }
func (GetResponse) Kind() Kind     { return KindGet }
func (GpioResponse) Kind() Kind    { return KindGpio }
func (ExitResponse) Kind() Kind    { return KindExit }
func (StartResponse) Kind() Kind   { return KindStart }
func (StopResponse) Kind() Kind    { return KindStop }
func (RestartResponse) Kind() Kind { return KindRestart }

func (r StatusResponse) Failure() *ErrorMessage  { return r.Err }
func (r GetResponse) Failure() *ErrorMessage     { return r.Err }
func (r GpioResponse) Failure() *ErrorMessage    { return r.Err }
func (r ExitResponse) Failure() *ErrorMessage    { return r.Err }
func (r StartResponse) Failure() *ErrorMessage   { return r.Err }
func (r StopResponse) Failure() *ErrorMessage    { return r.Err }
func (r RestartResponse) Failure() *ErrorMessage { return r.Err }

func (StatusResponse) isResponse()  {}
func (GetResponse) isResponse()     {}
func (GpioResponse) isResponse()    {}
func (ExitResponse) isResponse()    {}
func (StartResponse) isResponse()   {}
func (StopResponse) isResponse()    {}
func (RestartResponse) isResponse() {}

// FailedResponse builds the response variant answering req with msg as the
// error. Servers use it to reject a request they cannot serve.
func FailedResponse(req Request, msg *ErrorMessage) (Response, error) {
	if req == nil {
		return nil, ErrNilMessage
	}
	switch req.Kind() {
	case KindStatus:
		return StatusResponse{Err: msg}, nil
	case KindGet:
		return GetResponse{Err: msg}, nil
	case KindGpio:
		return GpioResponse{Err: msg}, nil
	case KindExit:
		return ExitResponse{Err: msg}, nil
	case KindStart:
		return StartResponse{Err: msg}, nil
	case KindStop:
		return StopResponse{Err: msg}, nil
	case KindRestart:
		return RestartResponse{Err: msg}, nil
	default:
		return nil, fmt.Errorf("%w: request %q", ErrUnknownVariant, req.Kind())
	}
}

// MarshalResponse encodes a response value without the packet envelope.
func MarshalResponse(resp Response) ([]byte, error) {
	var (
		result []byte
		err    error
	)
	switch r := resp.(type) {
	case StatusResponse:
		result, err = encodeResult(r.State, r.Err)
	case GetResponse:
		result, err = encodeResult(r.Entry, r.Err)
	case GpioResponse:
		result, err = encodeResult(r.Result, r.Err)
	case ExitResponse, StartResponse, StopResponse, RestartResponse:
		result, err = encodeResult(nil, r.Failure())
	case nil:
		return nil, ErrNilMessage
	default:
		return nil, fmt.Errorf("%w: response %T", ErrUnknownVariant, resp)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{string(resp.Kind()): result})
}

// UnmarshalResponse decodes a response value without the packet envelope.
func UnmarshalResponse(data []byte) (Response, error) {
	name, body, err := decodeTag(data)
	if err != nil {
		return nil, err
	}
	if err := dataVariant(name, body); err != nil {
		return nil, err
	}
	switch Kind(name) {
	case KindStatus:
		ok, failure, err := decodeResult(body)
		if err != nil {
			return nil, err
		}
		if failure != nil {
			return StatusResponse{Err: failure}, nil
		}
		var state DutState
		if err := json.Unmarshal(ok, &state); err != nil {
			return nil, err
		}
		return StatusResponse{State: state}, nil
	case KindGet:
		ok, failure, err := decodeResult(body)
		if err != nil {
			return nil, err
		}
		if failure != nil {
			return GetResponse{Err: failure}, nil
		}
		var entry DeviceEntry
		if err := json.Unmarshal(ok, &entry); err != nil {
			return nil, err
		}
		return GetResponse{Entry: entry}, nil
	case KindGpio:
		ok, failure, err := decodeResult(body)
		if err != nil {
			return nil, err
		}
		if failure != nil {
			return GpioResponse{Err: failure}, nil
		}
		var result GpioResult
		if err := json.Unmarshal(ok, &result); err != nil {
			return nil, err
		}
		return GpioResponse{Result: result}, nil
	case KindExit:
		failure, err := decodeUnitResult(body)
		if err != nil {
			return nil, err
		}
		return ExitResponse{Err: failure}, nil
	case KindStart:
		failure, err := decodeUnitResult(body)
		if err != nil {
			return nil, err
		}
		return StartResponse{Err: failure}, nil
	case KindStop:
		failure, err := decodeUnitResult(body)
		if err != nil {
			return nil, err
		}
		return StopResponse{Err: failure}, nil
	case KindRestart:
		failure, err := decodeUnitResult(body)
		if err != nil {
			return nil, err
		}
		return RestartResponse{Err: failure}, nil
	default:
		return nil, fmt.Errorf("%w: response %q", ErrUnknownVariant, name)
	}
}
