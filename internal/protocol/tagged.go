package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// encodeTag renders a unit variant as a JSON string and a data variant as a
// single-key object.
func encodeTag(name string, body any) ([]byte, error) {
	if body == nil {
		return json.Marshal(name)
	}
	inner, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{name: inner})
}

// decodeTag splits an externally tagged value into its variant name and body.
// body is nil for unit variants.
func decodeTag(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty value", ErrMalformedTag)
	}
	switch data[0] {
	case '"':
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformedTag, err)
		}
		return name, nil, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformedTag, err)
		}
		if len(obj) != 1 {
			return "", nil, fmt.Errorf("%w: want exactly one key, got %d", ErrMalformedTag, len(obj))
		}
		for name, body := range obj {
			return name, body, nil
		}
	}
	return "", nil, fmt.Errorf("%w: %s", ErrMalformedTag, preview(data))
}

// unitVariant rejects a body on a variant that carries no data.
func unitVariant(name string, body json.RawMessage) error {
	if body != nil {
		return fmt.Errorf("%w: %s carries no data", ErrMalformedTag, name)
	}
	return nil
}

// dataVariant rejects a unit encoding on a variant that carries data.
func dataVariant(name string, body json.RawMessage) error {
	if body == nil {
		return fmt.Errorf("%w: %s requires data", ErrMalformedTag, name)
	}
	return nil
}

// decodeStrict decodes exactly one JSON value into v, rejecting unknown
// object fields and trailing data.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", ErrMalformedTag)
	}
	return nil
}

func encodeResult(payload any, failure *ErrorMessage) ([]byte, error) {
	if failure != nil {
		return encodeTag("Err", failure)
	}
	if payload == nil {
		return []byte(`{"Ok":null}`), nil
	}
	return encodeTag("Ok", payload)
}

// decodeResult returns the Ok body, or the decoded ErrorMessage.
func decodeResult(data []byte) (json.RawMessage, *ErrorMessage, error) {
	name, body, err := decodeTag(data)
	if err != nil {
		return nil, nil, err
	}
	switch name {
	case "Ok":
		if err := dataVariant(name, body); err != nil {
			return nil, nil, err
		}
		return body, nil, nil
	case "Err":
		if err := dataVariant(name, body); err != nil {
			return nil, nil, err
		}
		var msg ErrorMessage
		if err := msg.UnmarshalJSON(body); err != nil {
			return nil, nil, err
		}
		return nil, &msg, nil
	default:
		return nil, nil, fmt.Errorf("%w: result %q", ErrUnknownVariant, name)
	}
}

// decodeUnitResult accepts only a null Ok payload.
func decodeUnitResult(data []byte) (*ErrorMessage, error) {
	body, failure, err := decodeResult(data)
	if err != nil || failure != nil {
		return failure, err
	}
	if !bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return nil, fmt.Errorf("%w: expected null result", ErrMalformedTag)
	}
	return nil, nil
}

func preview(data []byte) string {
	const max = 64
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
