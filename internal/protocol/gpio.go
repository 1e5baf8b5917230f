package protocol

import (
	"fmt"
)

// GpioOp names a GPIO command and its matching result.
type GpioOp string

const (
	GpioOpSet         GpioOp = "Set"
	GpioOpGet         GpioOp = "Get"
	GpioOpSetMode     GpioOp = "SetMode"
	GpioOpSetPullMode GpioOp = "SetPullMode"
)

// GpioCommand is one pin operation. Only the fields relevant to Op are used.
type GpioCommand struct {
	Op    GpioOp
	ID    string
	Logic bool
	Mode  GpioMode
	Pull  GpioPullMode
}

func GpioSet(id string, logic bool) GpioCommand {
	return GpioCommand{Op: GpioOpSet, ID: id, Logic: logic}
}

func GpioGet(id string) GpioCommand {
	return GpioCommand{Op: GpioOpGet, ID: id}
}

func GpioSetMode(id string, mode GpioMode) GpioCommand {
	return GpioCommand{Op: GpioOpSetMode, ID: id, Mode: mode}
}

func GpioSetPullMode(id string, pull GpioPullMode) GpioCommand {
	return GpioCommand{Op: GpioOpSetPullMode, ID: id, Pull: pull}
}

func (c GpioCommand) MarshalJSON() ([]byte, error) {
	switch c.Op {
	case GpioOpSet:
		return encodeTag(string(c.Op), struct {
			ID    string `json:"id"`
			Logic bool   `json:"logic"`
		}{c.ID, c.Logic})
	case GpioOpGet:
		return encodeTag(string(c.Op), struct {
			ID string `json:"id"`
		}{c.ID})
	case GpioOpSetMode:
		return encodeTag(string(c.Op), struct {
			ID   string   `json:"id"`
			Mode GpioMode `json:"mode"`
		}{c.ID, c.Mode})
	case GpioOpSetPullMode:
		return encodeTag(string(c.Op), struct {
			ID   string       `json:"id"`
			Pull GpioPullMode `json:"pull"`
		}{c.ID, c.Pull})
	default:
		return nil, fmt.Errorf("%w: GpioCommand %q", ErrUnknownVariant, string(c.Op))
	}
}

func (c *GpioCommand) UnmarshalJSON(data []byte) error {
	name, body, err := decodeTag(data)
	if err != nil {
		return err
	}
	if err := dataVariant(name, body); err != nil {
		return err
	}
	switch GpioOp(name) {
	case GpioOpSet:
		var raw struct {
			ID    *string `json:"id"`
			Logic *bool   `json:"logic"`
		}
		if err := decodeStrict(body, &raw); err != nil {
			return err
		}
		if raw.ID == nil || raw.Logic == nil {
			return fmt.Errorf("%w: gpio Set requires id and logic", ErrMissingField)
		}
		*c = GpioSet(*raw.ID, *raw.Logic)
	case GpioOpGet:
		var raw struct {
			ID *string `json:"id"`
		}
		if err := decodeStrict(body, &raw); err != nil {
			return err
		}
		if raw.ID == nil {
			return fmt.Errorf("%w: gpio Get requires id", ErrMissingField)
		}
		*c = GpioGet(*raw.ID)
	case GpioOpSetMode:
		var raw struct {
			ID   *string   `json:"id"`
			Mode *GpioMode `json:"mode"`
		}
		if err := decodeStrict(body, &raw); err != nil {
			return err
		}
		if raw.ID == nil || raw.Mode == nil {
			return fmt.Errorf("%w: gpio SetMode requires id and mode", ErrMissingField)
		}
		*c = GpioSetMode(*raw.ID, *raw.Mode)
	case GpioOpSetPullMode:
		var raw struct {
			ID   *string       `json:"id"`
			Pull *GpioPullMode `json:"pull"`
		}
		if err := decodeStrict(body, &raw); err != nil {
			return err
		}
		if raw.ID == nil || raw.Pull == nil {
			return fmt.Errorf("%w: gpio SetPullMode requires id and pull", ErrMissingField)
		}
		*c = GpioSetPullMode(*raw.ID, *raw.Pull)
	default:
		return fmt.Errorf("%w: GpioCommand %q", ErrUnknownVariant, name)
	}
	return nil
}

// GpioResult is the success payload of a Gpio response. Value is only set
// for Get.
type GpioResult struct {
	Op    GpioOp
	Value GpioValue
}

func (r GpioResult) MarshalJSON() ([]byte, error) {
	switch r.Op {
	case GpioOpGet:
		return encodeTag(string(r.Op), struct {
			Value GpioValue `json:"value"`
		}{r.Value})
	case GpioOpSet, GpioOpSetMode, GpioOpSetPullMode:
		return encodeTag(string(r.Op), nil)
	default:
		return nil, fmt.Errorf("%w: GpioResult %q", ErrUnknownVariant, string(r.Op))
	}
}

func (r *GpioResult) UnmarshalJSON(data []byte) error {
	name, body, err := decodeTag(data)
	if err != nil {
		return err
	}
	switch GpioOp(name) {
	case GpioOpGet:
		if err := dataVariant(name, body); err != nil {
			return err
		}
		var raw struct {
			Value *GpioValue `json:"value"`
		}
		if err := decodeStrict(body, &raw); err != nil {
			return err
		}
		if raw.Value == nil {
			return fmt.Errorf("%w: gpio Get result requires value", ErrMissingField)
		}
		*r = GpioResult{Op: GpioOpGet, Value: *raw.Value}
	case GpioOpSet, GpioOpSetMode, GpioOpSetPullMode:
		if err := unitVariant(name, body); err != nil {
			return err
		}
		*r = GpioResult{Op: GpioOp(name)}
	default:
		return fmt.Errorf("%w: GpioResult %q", ErrUnknownVariant, name)
	}
	return nil
}
