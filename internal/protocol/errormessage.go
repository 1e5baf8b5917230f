package protocol

import (
	"encoding/json"
	"fmt"
)

// ErrorKind classifies a failed remote operation.
type ErrorKind string

const (
	ErrorRuntime ErrorKind = "ERROR"
	ErrorInvalid ErrorKind = "INVALID"
	ErrorBusy    ErrorKind = "BUSY"
)

// ErrorMessage is the failure half of every response result. It travels as
// data inside a successful exchange.
type ErrorMessage struct {
	Kind ErrorKind
	Text string
}

func RuntimeError(text string) *ErrorMessage {
	return &ErrorMessage{Kind: ErrorRuntime, Text: text}
}

func InvalidError(text string) *ErrorMessage {
	return &ErrorMessage{Kind: ErrorInvalid, Text: text}
}

func BusyError() *ErrorMessage {
	return &ErrorMessage{Kind: ErrorBusy}
}

func (e *ErrorMessage) Error() string {
	switch e.Kind {
	case ErrorBusy:
		return "device busy"
	case ErrorInvalid:
		return "invalid argument: " + e.Text
	default:
		return "runtime error: " + e.Text
	}
}

func (e ErrorMessage) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case ErrorBusy:
		return encodeTag(string(ErrorBusy), nil)
	case ErrorRuntime, ErrorInvalid:
		return encodeTag(string(e.Kind), e.Text)
	default:
		return nil, fmt.Errorf("%w: ErrorMessage %q", ErrUnknownEnumValue, string(e.Kind))
	}
}

func (e *ErrorMessage) UnmarshalJSON(data []byte) error {
	name, body, err := decodeTag(data)
	if err != nil {
		return err
	}
	switch ErrorKind(name) {
	case ErrorBusy:
		if err := unitVariant(name, body); err != nil {
			return err
		}
		*e = ErrorMessage{Kind: ErrorBusy}
		return nil
	case ErrorRuntime, ErrorInvalid:
		if err := dataVariant(name, body); err != nil {
			return err
		}
		var text string
		if err := json.Unmarshal(body, &text); err != nil {
			return fmt.Errorf("%w: %s text: %v", ErrMalformedTag, name, err)
		}
		*e = ErrorMessage{Kind: ErrorKind(name), Text: text}
		return nil
	default:
		return fmt.Errorf("%w: ErrorMessage %q", ErrUnknownVariant, name)
	}
}
