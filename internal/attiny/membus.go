package attiny

import (
	"errors"
	"sync"
)

// MemBus is an in-memory Bus that behaves like the controller's register
// file, including the CRC trailer on both directions. Tests across the
// daemon script it with failure injection instead of opening a real bus.
type MemBus struct {
	mu           sync.Mutex
	regs         map[uint8][]byte
	failReads    map[uint8]int
	corruptReads map[uint8]int
	failWrites   map[uint8]int
	dropWrites   map[uint8]bool
	reads        map[uint8]int
	writes       map[uint8]int
}

var errTransfer = errors.New("bus: transfer failed")

func NewMemBus() *MemBus {
	return &MemBus{
		regs:         make(map[uint8][]byte),
		failReads:    make(map[uint8]int),
		corruptReads: make(map[uint8]int),
		failWrites:   make(map[uint8]int),
		dropWrites:   make(map[uint8]bool),
		reads:        make(map[uint8]int),
		writes:       make(map[uint8]int),
	}
}

// Set8 seeds an 8-bit register value.
func (m *MemBus) Set8(reg Reg, v uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[uint8(reg)] = []byte{v}
}

// Set16 seeds a signed 16-bit register value, little-endian like the device.
func (m *MemBus) Set16(reg Reg, v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[uint8(reg)] = []byte{byte(uint16(v)), byte(uint16(v) >> 8)}
}

// SetVersion seeds the version register in the firmware's transfer order.
func (m *MemBus) SetVersion(v Version) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[uint8(RegVersion)] = []byte{v.Patch, v.Minor, v.Major, 0}
}

// Value8 returns the current raw value of an 8-bit register.
func (m *MemBus) Value8(reg Reg) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.regs[uint8(reg)]; ok && len(b) > 0 {
		return b[0]
	}
	return 0
}

// Value16 returns the current raw value of a 16-bit register.
func (m *MemBus) Value16(reg Reg) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.regs[uint8(reg)]; ok && len(b) >= 2 {
		return int64(int16(uint16(b[0]) | uint16(b[1])<<8))
	}
	return 0
}

// FailReads makes the next n read transfers of reg fail with a bus error.
func (m *MemBus) FailReads(reg Reg, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReads[uint8(reg)] = n
}

// CorruptReads makes the next n read transfers of reg return a bad CRC.
func (m *MemBus) CorruptReads(reg Reg, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corruptReads[uint8(reg)] = n
}

// FailWrites makes the next n write transfers of reg fail with a bus error.
func (m *MemBus) FailWrites(reg Reg, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites[uint8(reg)] = n
}

// DropWrites acknowledges writes to reg without applying them, so a
// read-back returns the stale value.
func (m *MemBus) DropWrites(reg Reg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropWrites[uint8(reg)] = true
}

// ReadsOf returns the number of read transfers attempted on reg.
func (m *MemBus) ReadsOf(reg Reg) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[uint8(reg)]
}

// WritesOf returns the number of write transfers attempted on reg.
func (m *MemBus) WritesOf(reg Reg) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[uint8(reg)]
}

func (m *MemBus) ReadBlock(reg uint8, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[reg]++
	if m.failReads[reg] > 0 {
		m.failReads[reg]--
		return nil, errTransfer
	}
	payload := make([]byte, n-1)
	copy(payload, m.regs[reg])
	crc := CRC(reg, payload)
	if m.corruptReads[reg] > 0 {
		m.corruptReads[reg]--
		crc ^= 0xA5
	}
	return append(payload, crc), nil
}

func (m *MemBus) WriteBlock(reg uint8, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[reg]++
	if m.failWrites[reg] > 0 {
		m.failWrites[reg]--
		return errTransfer
	}
	if len(data) < 2 {
		return errTransfer
	}
	payload := data[:len(data)-1]
	if data[len(data)-1] != CRC(reg, payload) {
		return errTransfer
	}
	if !m.dropWrites[reg] {
		m.regs[reg] = append([]byte(nil), payload...)
	}
	return nil
}

func (m *MemBus) Close() {}
