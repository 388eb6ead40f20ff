// Package reconcile keeps the persisted host configuration and the UPS
// controller's registers consistent. Fields the operator left unset adopt
// the device's value once and are persisted; concrete fields are
// authoritative and get pushed back to the device whenever they disagree.
package reconcile

import (
	"github.com/fisaks/upsd/internal/attiny"
	"github.com/fisaks/upsd/internal/config"
	"github.com/fisaks/upsd/internal/logging"
)

const (
	// minimumBootTime is the time we assume the host needs to boot before
	// the controller's timeout may strike again.
	minimumBootTime = 30
	lowSleepFloor   = 10
)

// Saver persists the configuration after a merge that changed a field.
// *config.Config satisfies it.
type Saver interface {
	Save() error
}

type Reconciler struct {
	cfg   *config.Config
	tr    *attiny.Transport
	regs  attiny.RegisterMap
	store Saver
}

func New(cfg *config.Config, tr *attiny.Transport, regs attiny.RegisterMap, store Saver) *Reconciler {
	return &Reconciler{cfg: cfg, tr: tr, regs: regs, store: store}
}

// field binds one config entry to its register.
type field struct {
	name string
	reg  attiny.Reg
	get  func(*config.Config) int64
	set  func(*config.Config, int64)
}

// timeoutGroup travels together: an unset timeout means the whole group is
// adopted from the device.
var timeoutGroup = []field{
	{"timeout", attiny.RegTimeout,
		func(c *config.Config) int64 { return c.Timeout },
		func(c *config.Config, v int64) { c.Timeout = v }},
	{"primed", attiny.RegPrimed,
		func(c *config.Config) int64 { return c.Primed },
		func(c *config.Config, v int64) { c.Primed = v }},
	{"force_shutdown", attiny.RegForceShutdown,
		func(c *config.Config) int64 { return c.ForceShutdown },
		func(c *config.Config, v int64) { c.ForceShutdown = v }},
	{"led_off_mode", attiny.RegLedOffMode,
		func(c *config.Config) int64 { return c.LedOffMode },
		func(c *config.Config, v int64) { c.LedOffMode = v }},
	{"ups_configuration", attiny.RegUPSConfiguration,
		func(c *config.Config) int64 { return c.UPSConfiguration },
		func(c *config.Config, v int64) { c.UPSConfiguration = v }},
	{"pulse_length", attiny.RegPulseLength,
		func(c *config.Config) int64 { return c.PulseLength },
		func(c *config.Config, v int64) { c.PulseLength = v }},
	{"pulse_length_on", attiny.RegPulseLengthOn,
		func(c *config.Config) int64 { return c.PulseLengthOn },
		func(c *config.Config, v int64) { c.PulseLengthOn = v }},
	{"pulse_length_off", attiny.RegPulseLengthOff,
		func(c *config.Config) int64 { return c.PulseLengthOff },
		func(c *config.Config, v int64) { c.PulseLengthOff = v }},
	{"switch_recovery_delay", attiny.RegSwitchRecoveryDelay,
		func(c *config.Config) int64 { return c.SwitchRecoveryDelay },
		func(c *config.Config, v int64) { c.SwitchRecoveryDelay = v }},
	{"vext_off_is_shutdown", attiny.RegVextOffIsShutdown,
		func(c *config.Config) int64 { return c.VextOffIsShutdown },
		func(c *config.Config, v int64) { c.VextOffIsShutdown = v }},
}

// calibration and voltage thresholds sync per-field, not as a group.
var calibrationFields = []field{
	{"warn_voltage", attiny.RegWarnVoltage,
		func(c *config.Config) int64 { return c.WarnVoltage },
		func(c *config.Config, v int64) { c.WarnVoltage = v }},
	{"ups_shutdown_voltage", attiny.RegUPSShutdownVoltage,
		func(c *config.Config) int64 { return c.UPSShutdownVoltage },
		func(c *config.Config, v int64) { c.UPSShutdownVoltage = v }},
	{"restart_voltage", attiny.RegRestartVoltage,
		func(c *config.Config) int64 { return c.RestartVoltage },
		func(c *config.Config, v int64) { c.RestartVoltage = v }},
	{"bat_v_coefficient", attiny.RegBatVCoefficient,
		func(c *config.Config) int64 { return c.BatVCoefficient },
		func(c *config.Config, v int64) { c.BatVCoefficient = v }},
	{"bat_v_constant", attiny.RegBatVConstant,
		func(c *config.Config) int64 { return c.BatVConstant },
		func(c *config.Config, v int64) { c.BatVConstant = v }},
	{"ext_v_coefficient", attiny.RegExtVCoefficient,
		func(c *config.Config) int64 { return c.ExtVCoefficient },
		func(c *config.Config, v int64) { c.ExtVCoefficient = v }},
	{"ext_v_constant", attiny.RegExtVConstant,
		func(c *config.Config) int64 { return c.ExtVConstant },
		func(c *config.Config, v int64) { c.ExtVConstant = v }},
	{"t_coefficient", attiny.RegTCoefficient,
		func(c *config.Config) int64 { return c.TCoefficient },
		func(c *config.Config, v int64) { c.TCoefficient = v }},
	{"t_constant", attiny.RegTConstant,
		func(c *config.Config) int64 { return c.TConstant },
		func(c *config.Config, v int64) { c.TConstant = v }},
}

// Merge reconciles persisted and device state and reports whether the
// persisted config changed. Once the persisted config is fully concrete and
// agrees with the device, Merge performs no writes and returns false.
func (r *Reconciler) Merge() bool {
	logging.Debug("merging config and device values")
	changed := false

	if r.cfg.Timeout == config.Sentinel {
		logging.Debug("timeout not configured, adopting timeout group from device")
		for _, f := range timeoutGroup {
			if !r.regs.Has(f.reg) {
				continue
			}
			f.set(r.cfg, r.readRegister(f.reg))
		}
		changed = true
	} else {
		for _, f := range timeoutGroup {
			if !r.regs.Has(f.reg) {
				continue
			}
			want := f.get(r.cfg)
			if want == config.Sentinel {
				// never set by the operator, nothing to push
				continue
			}
			if dev := r.readRegister(f.reg); dev != want {
				logging.Debug("pushing field to device", "field", f.name, "value", want, "device", dev)
				if !r.writeRegister(f.reg, want) {
					logging.Warn("could not push field to device", "field", f.name)
				}
			}
		}
	}

	if r.cfg.SleepTime == config.Sentinel {
		r.cfg.SleepTime = deriveSleepTime(r.cfg.Timeout)
		logging.Debug("sleeptime derived from timeout", "sleeptime", r.cfg.SleepTime)
		changed = true
	}

	for _, f := range calibrationFields {
		if !r.regs.Has(f.reg) {
			continue
		}
		dev := r.readRegister(f.reg)
		if f.get(r.cfg) == config.Sentinel {
			logging.Debug("adopting field from device", "field", f.name, "value", dev)
			f.set(r.cfg, dev)
			changed = true
		} else if want := f.get(r.cfg); dev != want {
			logging.Debug("pushing field to device", "field", f.name, "value", want, "device", dev)
			if !r.writeRegister(f.reg, want) {
				logging.Warn("could not push field to device", "field", f.name)
			}
		}
	}

	if changed {
		logging.Debug("writing updated config file")
		if err := r.store.Save(); err != nil {
			logging.Warn("cannot write config file", "error", err)
		}
	}
	return changed
}

func (r *Reconciler) readRegister(reg attiny.Reg) int64 {
	if r.regs[reg].Width == attiny.Width8 {
		return int64(r.tr.Read8(reg))
	}
	return r.tr.Read16(reg)
}

func (r *Reconciler) writeRegister(reg attiny.Reg, v int64) bool {
	if r.regs[reg].Width == attiny.Width8 {
		return r.tr.Write8(reg, uint8(v))
	}
	return r.tr.Write16(reg, v)
}

// deriveSleepTime picks a poll interval leaving the host enough headroom to
// reboot before the controller's timeout strikes. Below the floor the
// interval falls back to half the timeout; a result under minimumBootTime is
// used anyway but flagged.
func deriveSleepTime(timeout int64) int64 {
	sleeptime := timeout - minimumBootTime
	if sleeptime < lowSleepFloor {
		sleeptime = timeout / 2
	}
	if sleeptime < minimumBootTime {
		logging.Warn("sleeptime is low, ensure the host can boot in time or set it explicitly", "sleeptime", sleeptime)
	}
	return sleeptime
}
