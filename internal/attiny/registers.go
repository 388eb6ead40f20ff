package attiny

import "fmt"

// Reg is a register address on the UPS controller.
type Reg uint8

const (
	RegLastAccess          Reg = 0x01
	RegBatVoltage          Reg = 0x11
	RegExtVoltage          Reg = 0x12
	RegBatVCoefficient     Reg = 0x13
	RegBatVConstant        Reg = 0x14
	RegExtVCoefficient     Reg = 0x15
	RegExtVConstant        Reg = 0x16
	RegTimeout             Reg = 0x21
	RegPrimed              Reg = 0x22
	RegShouldShutdown      Reg = 0x23
	RegForceShutdown       Reg = 0x24
	RegLedOffMode          Reg = 0x25
	RegRestartVoltage      Reg = 0x31
	RegWarnVoltage         Reg = 0x32
	RegUPSShutdownVoltage  Reg = 0x33
	RegTemperature         Reg = 0x41
	RegTCoefficient        Reg = 0x42
	RegTConstant           Reg = 0x43
	RegUPSConfiguration    Reg = 0x51
	RegPulseLength         Reg = 0x52
	RegSwitchRecoveryDelay Reg = 0x53
	RegVextOffIsShutdown   Reg = 0x54
	RegPulseLengthOn       Reg = 0x55
	RegPulseLengthOff      Reg = 0x56
	RegVersion             Reg = 0x80
	RegFuseLow             Reg = 0x81
	RegFuseHigh            Reg = 0x82
	RegFuseExtended        Reg = 0x83
	RegInternalState       Reg = 0x84
	RegInitEEPROM          Reg = 0xFF
)

// Width is the payload size of a register in bytes.
type Width uint8

const (
	Width8  Width = 1
	Width16 Width = 2
)

// Access describes the direction a register supports.
type Access uint8

const (
	ReadOnly Access = 1 << iota
	WriteOnly
	ReadWrite = ReadOnly | WriteOnly
)

// Register is one entry of the firmware's register schema. The table must
// stay in exact address and width agreement with the firmware; it IS the wire
// contract.
type Register struct {
	Name   string
	Width  Width
	Access Access
}

// RegisterMap is the register schema of one firmware generation.
type RegisterMap map[Reg]Register

// Has reports whether the selected firmware generation carries the register.
func (m RegisterMap) Has(reg Reg) bool {
	_, ok := m[reg]
	return ok
}

var baseRegisters = RegisterMap{
	RegLastAccess:         {"last_access", Width16, ReadOnly},
	RegBatVoltage:         {"bat_voltage", Width16, ReadOnly},
	RegExtVoltage:         {"ext_voltage", Width16, ReadOnly},
	RegBatVCoefficient:    {"bat_voltage_coefficient", Width16, ReadWrite},
	RegBatVConstant:       {"bat_voltage_constant", Width16, ReadWrite},
	RegExtVCoefficient:    {"ext_voltage_coefficient", Width16, ReadWrite},
	RegExtVConstant:       {"ext_voltage_constant", Width16, ReadWrite},
	RegTimeout:            {"timeout", Width8, ReadWrite},
	RegPrimed:             {"primed", Width8, ReadWrite},
	RegShouldShutdown:     {"should_shutdown", Width8, ReadWrite},
	RegForceShutdown:      {"force_shutdown", Width8, ReadWrite},
	RegLedOffMode:         {"led_off_mode", Width8, ReadWrite},
	RegRestartVoltage:     {"restart_voltage", Width16, ReadWrite},
	RegWarnVoltage:        {"warn_voltage", Width16, ReadWrite},
	RegUPSShutdownVoltage: {"ups_shutdown_voltage", Width16, ReadWrite},
	RegTemperature:        {"temperature", Width16, ReadOnly},
	RegTCoefficient:       {"temperature_coefficient", Width16, ReadWrite},
	RegTConstant:          {"temperature_constant", Width16, ReadWrite},
	RegVersion:            {"version", Width8, ReadOnly},
	RegFuseLow:            {"fuse_low", Width8, ReadOnly},
	RegFuseHigh:           {"fuse_high", Width8, ReadOnly},
	RegFuseExtended:       {"fuse_extended", Width8, ReadOnly},
	RegInternalState:      {"internal_state", Width8, ReadOnly},
	RegInitEEPROM:         {"init_eeprom", Width8, WriteOnly},
}

var gen2Registers = RegisterMap{
	RegUPSConfiguration:    {"ups_configuration", Width8, ReadWrite},
	RegPulseLength:         {"pulse_length", Width16, ReadWrite},
	RegSwitchRecoveryDelay: {"switch_recovery_delay", Width16, ReadWrite},
}

var gen213Registers = RegisterMap{
	RegVextOffIsShutdown: {"vext_off_is_shutdown", Width8, ReadWrite},
	RegPulseLengthOn:     {"pulse_length_on", Width16, ReadWrite},
	RegPulseLengthOff:    {"pulse_length_off", Width16, ReadWrite},
}

// MapFor selects the register schema for a firmware version. The selection
// happens once after the version handshake; accessors never branch on the
// firmware version again.
func MapFor(v Version) RegisterMap {
	m := make(RegisterMap, len(baseRegisters)+len(gen2Registers)+len(gen213Registers))
	for r, spec := range baseRegisters {
		m[r] = spec
	}
	if v.Major >= 2 {
		for r, spec := range gen2Registers {
			m[r] = spec
		}
	}
	if v.Major > 2 || (v.Major == 2 && v.Minor >= 13) {
		for r, spec := range gen213Registers {
			m[r] = spec
		}
	}
	return m
}

// Version is the firmware version triple reported by the controller.
type Version struct {
	Major uint8
	Minor uint8
	Patch uint8
}

// Unknown reports the all-ones triple returned when the version could not be
// read.
func (v Version) Unknown() bool {
	return v.Major == 0xFF && v.Minor == 0xFF && v.Patch == 0xFF
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
