package protocol

import "errors"

var (
	ErrWrongDirection    = errors.New("protocol: wrong packet direction")
	ErrUnexpectedVariant = errors.New("protocol: unexpected response variant")
	ErrUnknownVariant    = errors.New("protocol: unknown variant")
	ErrUnknownEnumValue  = errors.New("protocol: unknown enum value")
	ErrMalformedTag      = errors.New("protocol: malformed tagged value")
	ErrMissingField      = errors.New("protocol: missing field")
	ErrNilMessage        = errors.New("protocol: nil message")
)
