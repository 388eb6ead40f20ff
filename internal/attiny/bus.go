package attiny

import (
	"fmt"

	"github.com/platinasystems/i2c"
)

// Bus is the addressed block read/write primitive the transport runs on.
// The production implementation talks SMBus I2C block transfers; tests
// script a fake.
type Bus interface {
	// ReadBlock reads n data bytes from the given register.
	ReadBlock(reg uint8, n int) ([]byte, error)
	// WriteBlock writes the data bytes to the given register.
	WriteBlock(reg uint8, data []byte) error
	Close()
}

// maximum payload of an SMBus block transfer
const maxBlock = 32

type smbus struct {
	bus  i2c.Bus
	addr int
}

// OpenSMBus opens the Linux I2C bus with the given index and binds the
// peripheral address. The daemon owns the handle exclusively for its whole
// lifetime.
func OpenSMBus(busIndex, addr int) (Bus, error) {
	b := &smbus{addr: addr}
	if err := b.bus.Open(busIndex); err != nil {
		return nil, fmt.Errorf("open i2c bus %d: %w", busIndex, err)
	}
	if err := b.bus.ForceSlaveAddress(addr); err != nil {
		b.bus.Close()
		return nil, fmt.Errorf("bind i2c address %#x: %w", addr, err)
	}
	return b, nil
}

func (b *smbus) ReadBlock(reg uint8, n int) ([]byte, error) {
	if n > maxBlock {
		return nil, fmt.Errorf("block read of %d bytes exceeds SMBus limit", n)
	}
	var sd i2c.SMBusData
	sd[0] = uint8(n)
	if err := b.bus.Do(i2c.Read, reg, i2c.I2CBlockData, &sd); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, sd[1:1+n])
	return out, nil
}

func (b *smbus) WriteBlock(reg uint8, data []byte) error {
	if len(data) > maxBlock {
		return fmt.Errorf("block write of %d bytes exceeds SMBus limit", len(data))
	}
	var sd i2c.SMBusData
	sd[0] = uint8(len(data))
	copy(sd[1:], data)
	return b.bus.Do(i2c.Write, reg, i2c.I2CBlockData, &sd)
}

func (b *smbus) Close() {
	b.bus.Close()
}
