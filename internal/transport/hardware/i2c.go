package hardware

import (
	"fmt"
	"sync"

	"github.com/danmuck/dutctl/internal/transport"
	"tinygo.org/x/drivers"
)

// MaxI2cSegment is the largest buffer one i2c-dev message can carry.
const MaxI2cSegment = 0xffff

// I2cBus adapts a drivers.I2C bus. Each segment is one driver Tx, so a
// segment with both Write and Read is a write followed by a repeated-start read.
type I2cBus struct {
	mu  sync.Mutex
	bus drivers.I2C
}

func NewI2cBus(bus drivers.I2C) *I2cBus {
	return &I2cBus{bus: bus}
}

func (b *I2cBus) RunTransaction(addr uint8, transfers []transport.I2cTransfer) error {
	if addr > 0x7f {
		return fmt.Errorf("%w: i2c address 0x%02x", ErrTransferShape, addr)
	}
	for i, tr := range transfers {
		switch {
		case len(tr.Write) == 0 && len(tr.Read) == 0:
			return fmt.Errorf("%w: segment %d is empty", ErrTransferShape, i)
		case len(tr.Write) > MaxI2cSegment || len(tr.Read) > MaxI2cSegment:
			return fmt.Errorf("%w: segment %d exceeds %d bytes", ErrTransferShape, i, MaxI2cSegment)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, tr := range transfers {
		if err := b.bus.Tx(uint16(addr), tr.Write, tr.Read); err != nil {
			return fmt.Errorf("hardware: i2c 0x%02x segment %d: %w", addr, i, err)
		}
	}
	return nil
}
