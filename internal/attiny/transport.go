package attiny

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fisaks/upsd/internal/logging"
)

// Error sentinels returned by reads after the retry budget is exhausted.
// ErrWord16 lies outside the signed 16-bit domain, so a failed 16-bit read
// can always be told apart from data. ErrByte aliases a legitimate 0xFF;
// that ambiguity is inherited from the wire protocol and callers must treat
// 0xFF as "communication failed" for 8-bit reads.
const (
	ErrByte   uint8 = 0xFF
	ErrWord16 int64 = 0xFFFFFFFF
)

const (
	// DefaultRetries is the daemon's retry budget per register operation.
	// One-shot tools use a larger budget, see DefaultToolRetries.
	DefaultRetries     = 5
	DefaultToolRetries = 10

	// DefaultSettle is the pacing delay before each read transfer; the
	// controller cannot service back-to-back requests. Writes take longer
	// to settle.
	DefaultSettle    = 500 * time.Millisecond
	writeSettleExtra = 300 * time.Millisecond
)

// Transport provides CRC-checked, retried access to the controller's 8-bit
// and 16-bit registers. All operations block for their pacing delay plus the
// bus transfer; failures never escalate beyond the sentinel/boolean contract.
type Transport struct {
	bus         Bus
	readSettle  time.Duration
	writeSettle time.Duration
	retries     int
}

// NewTransport wraps a bus handle. settle is the read pacing delay; the
// write delay is derived from it.
func NewTransport(bus Bus, settle time.Duration, retries int) *Transport {
	return &Transport{
		bus:         bus,
		readSettle:  settle,
		writeSettle: settle + writeSettleExtra,
		retries:     retries,
	}
}

// Close releases the underlying bus handle.
func (t *Transport) Close() {
	t.bus.Close()
}

// Read8 reads an unsigned 8-bit register. It returns ErrByte after the retry
// budget is exhausted.
func (t *Transport) Read8(reg Reg) uint8 {
	for i := 0; i < t.retries; i++ {
		time.Sleep(t.readSettle)
		raw, err := t.bus.ReadBlock(uint8(reg), 2)
		if err != nil {
			logging.Debug("8 bit register read failed", "reg", regName(reg), "error", err)
			continue
		}
		if raw[1] != CRC(uint8(reg), raw[:1]) {
			logging.Debug("8 bit register read failed CRC check", "reg", regName(reg))
			continue
		}
		return raw[0]
	}
	logging.Warn("giving up reading 8 bit register", "reg", regName(reg), "retries", t.retries)
	return ErrByte
}

// Read16 reads a signed little-endian 16-bit register. It returns ErrWord16
// after the retry budget is exhausted.
func (t *Transport) Read16(reg Reg) int64 {
	for i := 0; i < t.retries; i++ {
		time.Sleep(t.readSettle)
		raw, err := t.bus.ReadBlock(uint8(reg), 3)
		if err != nil {
			logging.Debug("16 bit register read failed", "reg", regName(reg), "error", err)
			continue
		}
		if raw[2] != CRC(uint8(reg), raw[:2]) {
			logging.Debug("16 bit register read failed CRC check", "reg", regName(reg))
			continue
		}
		return int64(int16(binary.LittleEndian.Uint16(raw[:2])))
	}
	logging.Warn("giving up reading 16 bit register", "reg", regName(reg), "retries", t.retries)
	return ErrWord16
}

// Write8 writes an 8-bit register and verifies it by reading the value back.
// It reports whether the write stuck within the retry budget.
func (t *Transport) Write8(reg Reg, value uint8) bool {
	payload := []byte{value, CRC(uint8(reg), []byte{value})}
	for i := 0; i < t.retries; i++ {
		time.Sleep(t.writeSettle)
		if err := t.bus.WriteBlock(uint8(reg), payload); err != nil {
			logging.Debug("8 bit register write failed", "reg", regName(reg), "error", err)
			continue
		}
		if t.Read8(reg) == value {
			return true
		}
	}
	logging.Warn("giving up writing 8 bit register", "reg", regName(reg), "retries", t.retries)
	return false
}

// Write16 writes a signed 16-bit register and verifies it by reading the
// value back. It reports whether the write stuck within the retry budget.
func (t *Transport) Write16(reg Reg, value int64) bool {
	var data [2]byte
	binary.LittleEndian.PutUint16(data[:], uint16(value))
	payload := []byte{data[0], data[1], CRC(uint8(reg), data[:])}
	for i := 0; i < t.retries; i++ {
		time.Sleep(t.writeSettle)
		if err := t.bus.WriteBlock(uint8(reg), payload); err != nil {
			logging.Debug("16 bit register write failed", "reg", regName(reg), "error", err)
			continue
		}
		if t.Read16(reg) == value {
			return true
		}
	}
	logging.Warn("giving up writing 16 bit register", "reg", regName(reg), "retries", t.retries)
	return false
}

// ReadVersion reads the firmware version triple. The transfer carries patch,
// minor and major in that order, followed by the CRC. Failure returns the
// all-ones triple.
func (t *Transport) ReadVersion() Version {
	for i := 0; i < t.retries; i++ {
		time.Sleep(t.readSettle)
		raw, err := t.bus.ReadBlock(uint8(RegVersion), 5)
		if err != nil {
			logging.Debug("version read failed", "error", err)
			continue
		}
		if raw[4] != CRC(uint8(RegVersion), raw[:4]) {
			logging.Debug("version read failed CRC check")
			continue
		}
		return Version{Major: raw[2], Minor: raw[1], Patch: raw[0]}
	}
	logging.Warn("giving up reading firmware version", "retries", t.retries)
	return Version{Major: 0xFF, Minor: 0xFF, Patch: 0xFF}
}

func regName(reg Reg) string {
	if spec, ok := baseRegisters[reg]; ok {
		return spec.Name
	}
	if spec, ok := gen2Registers[reg]; ok {
		return spec.Name
	}
	if spec, ok := gen213Registers[reg]; ok {
		return spec.Name
	}
	return fmt.Sprintf("%#02x", uint8(reg))
}
