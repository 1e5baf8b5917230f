package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	tagRequest  = "Req"
	tagResponse = "Res"
)

// Packet is the shared envelope. Exactly one of Request or Response is set.
type Packet struct {
	Request  Request
	Response Response
}

// IsRequest reports whether the packet carries a request.
func (p Packet) IsRequest() bool { return p.Request != nil }

func (p Packet) MarshalJSON() ([]byte, error) {
	switch {
	case p.Request != nil && p.Response != nil:
		return nil, fmt.Errorf("%w: packet carries both directions", ErrMalformedTag)
	case p.Request != nil:
		body, err := MarshalRequest(p.Request)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{tagRequest: body})
	case p.Response != nil:
		body, err := MarshalResponse(p.Response)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{tagResponse: body})
	default:
		return nil, ErrNilMessage
	}
}

func (p *Packet) UnmarshalJSON(data []byte) error {
	name, body, err := decodeTag(data)
	if err != nil {
		return err
	}
	if err := dataVariant(name, body); err != nil {
		return err
	}
	switch name {
	case tagRequest:
		req, err := UnmarshalRequest(body)
		if err != nil {
			return err
		}
		*p = Packet{Request: req}
	case tagResponse:
		resp, err := UnmarshalResponse(body)
		if err != nil {
			return err
		}
		*p = Packet{Response: resp}
	default:
		return fmt.Errorf("%w: packet %q", ErrUnknownVariant, name)
	}
	return nil
}

// EncodeRequest wraps req in a request envelope.
func EncodeRequest(req Request) ([]byte, error) {
	if req == nil {
		return nil, ErrNilMessage
	}
	return json.Marshal(Packet{Request: req})
}

// EncodeResponse wraps resp in a response envelope.
func EncodeResponse(resp Response) ([]byte, error) {
	if resp == nil {
		return nil, ErrNilMessage
	}
	return json.Marshal(Packet{Response: resp})
}

func DecodePacket(data []byte) (Packet, error) {
	var p Packet
	if err := p.UnmarshalJSON(data); err != nil {
		return Packet{}, err
	}
	return p, nil
}

// DecodeRequest decodes an envelope that must carry a request.
func DecodeRequest(data []byte) (Request, error) {
	p, err := DecodePacket(data)
	if err != nil {
		return nil, err
	}
	if !p.IsRequest() {
		return nil, fmt.Errorf("%w: expected request, got %s response", ErrWrongDirection, p.Response.Kind())
	}
	return p.Request, nil
}

// DecodeResponse decodes an envelope that must carry a response.
func DecodeResponse(data []byte) (Response, error) {
	p, err := DecodePacket(data)
	if err != nil {
		return nil, err
	}
	if p.IsRequest() {
		return nil, fmt.Errorf("%w: expected response, got %s request", ErrWrongDirection, p.Request.Kind())
	}
	return p.Response, nil
}

// Expect checks that resp is the variant that answers req.
func Expect(req Request, resp Response) error {
	if req == nil || resp == nil {
		return ErrNilMessage
	}
	if req.Kind() != resp.Kind() {
		return fmt.Errorf("%w: sent %s, received %s", ErrUnexpectedVariant, req.Kind(), resp.Kind())
	}
	return nil
}
