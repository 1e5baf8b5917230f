package transport

// Unimplemented answers every Transport accessor with ErrUnsupportedOperation.
// Backends embed it and override what they expose.
type Unimplemented struct{}

func (Unimplemented) Capabilities() Capability {
	return 0
}

func (Unimplemented) Uart(string) (Uart, error) {
	return nil, Unsupported("uart")
}

func (Unimplemented) GpioPin(string) (GpioPin, error) {
	return nil, Unsupported("gpio")
}

func (Unimplemented) Spi(string) (SpiTarget, error) {
	return nil, Unsupported("spi")
}

func (Unimplemented) I2c(string) (I2cBus, error) {
	return nil, Unsupported("i2c")
}

func (Unimplemented) Emulator() (Emulator, error) {
	return nil, Unsupported("emulator")
}

func (Unimplemented) Close() error {
	return nil
}
