package reconcile

import (
	"testing"

	"github.com/fisaks/upsd/internal/attiny"
	"github.com/fisaks/upsd/internal/config"
)

type countingSaver struct {
	saves int
	err   error
}

func (s *countingSaver) Save() error {
	s.saves++
	return s.err
}

func fixture() (*config.Config, *attiny.MemBus, *attiny.Transport, attiny.RegisterMap) {
	cfg := config.Default()
	bus := attiny.NewMemBus()
	tr := attiny.NewTransport(bus, 0, 3)
	regs := attiny.MapFor(attiny.Version{Major: 2, Minor: 13, Patch: 7})
	return cfg, bus, tr, regs
}

func TestMergeAdoptsTimeoutGroupFromDevice(t *testing.T) {
	cfg, bus, tr, regs := fixture()
	bus.Set8(attiny.RegTimeout, 120)
	bus.Set8(attiny.RegPrimed, 0)
	bus.Set8(attiny.RegForceShutdown, 1)
	bus.Set16(attiny.RegPulseLength, 200)
	saver := &countingSaver{}

	changed := New(cfg, tr, regs, saver).Merge()
	if !changed {
		t.Fatal("merge with sentinel timeout reported no change")
	}
	if cfg.Timeout != 120 {
		t.Errorf("timeout = %d, want 120", cfg.Timeout)
	}
	if cfg.Primed != 0 {
		t.Errorf("primed = %d, want 0", cfg.Primed)
	}
	if cfg.ForceShutdown != 1 {
		t.Errorf("force_shutdown = %d, want 1", cfg.ForceShutdown)
	}
	if cfg.PulseLength != 200 {
		t.Errorf("pulse_length = %d, want 200", cfg.PulseLength)
	}
	if saver.saves != 1 {
		t.Errorf("config written %d times, want exactly 1", saver.saves)
	}
}

func TestMergePushesConcreteValuesToDevice(t *testing.T) {
	cfg, bus, tr, regs := fixture()
	cfg.Timeout = 60
	cfg.Primed = 1
	cfg.SleepTime = 30
	bus.Set8(attiny.RegTimeout, 120)
	bus.Set8(attiny.RegPrimed, 0)
	saver := &countingSaver{}

	changed := New(cfg, tr, regs, saver).Merge()
	if bus.Value8(attiny.RegTimeout) != 60 {
		t.Errorf("device timeout = %d after merge, want 60", bus.Value8(attiny.RegTimeout))
	}
	if bus.Value8(attiny.RegPrimed) != 1 {
		t.Errorf("device primed = %d after merge, want 1", bus.Value8(attiny.RegPrimed))
	}
	// pushing does not mark the persisted side changed, but the unset
	// calibration fields are still adopted
	if !changed {
		t.Fatal("first merge with unset calibration fields reported no change")
	}
}

func TestMergePushPathDoesNotRewriteConfig(t *testing.T) {
	cfg, bus, tr, regs := fixture()
	cfg.Timeout = 60
	cfg.Primed = 0
	cfg.ForceShutdown = 1
	cfg.SleepTime = 30
	concretizeCalibration(cfg)
	bus.Set8(attiny.RegTimeout, 120) // disagrees, push expected
	seedCalibration(bus, cfg)
	saver := &countingSaver{}

	changed := New(cfg, tr, regs, saver).Merge()
	if changed {
		t.Fatal("pure push merge reported a config change")
	}
	if saver.saves != 0 {
		t.Errorf("config written %d times on pure push, want 0", saver.saves)
	}
	if bus.Value8(attiny.RegTimeout) != 60 {
		t.Errorf("device timeout = %d, want pushed 60", bus.Value8(attiny.RegTimeout))
	}
}

func TestMergeIdempotent(t *testing.T) {
	cfg, bus, tr, regs := fixture()
	bus.Set8(attiny.RegTimeout, 120)
	bus.Set8(attiny.RegForceShutdown, 1)
	bus.Set16(attiny.RegWarnVoltage, 11500)
	saver := &countingSaver{}
	r := New(cfg, tr, regs, saver)

	if !r.Merge() {
		t.Fatal("first merge reported no change")
	}
	if r.Merge() {
		t.Fatal("second merge with unchanged state reported a change")
	}
	if saver.saves != 1 {
		t.Errorf("config written %d times across both merges, want 1", saver.saves)
	}
}

func TestDeriveSleepTime(t *testing.T) {
	tests := []struct {
		timeout int64
		want    int64
	}{
		{40, 10},  // boundary: hits the floor exactly, low-sleeptime warning
		{100, 70}, // comfortable headroom
		{15, 7},   // below the floor, falls back to timeout/2
	}
	for _, tt := range tests {
		if got := deriveSleepTime(tt.timeout); got != tt.want {
			t.Errorf("deriveSleepTime(%d) = %d, want %d", tt.timeout, got, tt.want)
		}
	}
}

func TestMergeDerivesSleepTime(t *testing.T) {
	cfg, bus, tr, regs := fixture()
	cfg.Timeout = 100
	concretizeGroup(cfg)
	concretizeCalibration(cfg)
	seedGroup(bus, cfg)
	seedCalibration(bus, cfg)
	saver := &countingSaver{}

	changed := New(cfg, tr, regs, saver).Merge()
	if !changed {
		t.Fatal("merge deriving sleeptime reported no change")
	}
	if cfg.SleepTime != 70 {
		t.Errorf("sleeptime = %d, want 70", cfg.SleepTime)
	}
	if saver.saves != 1 {
		t.Errorf("config written %d times, want 1", saver.saves)
	}
}

func TestMergeEndToEndAllSentinel(t *testing.T) {
	cfg, bus, tr, regs := fixture()
	bus.Set8(attiny.RegTimeout, 120)
	bus.Set8(attiny.RegPrimed, 0)
	bus.Set8(attiny.RegForceShutdown, 1)
	bus.Set16(attiny.RegWarnVoltage, 11500)
	saver := &countingSaver{}

	changed := New(cfg, tr, regs, saver).Merge()
	if !changed {
		t.Fatal("all-sentinel merge reported no change")
	}
	if cfg.Timeout != 120 || cfg.Primed != 0 || cfg.ForceShutdown != 1 {
		t.Errorf("timeout group not adopted: timeout=%d primed=%d force=%d",
			cfg.Timeout, cfg.Primed, cfg.ForceShutdown)
	}
	if cfg.WarnVoltage != 11500 {
		t.Errorf("warn_voltage = %d, want 11500", cfg.WarnVoltage)
	}
	if cfg.SleepTime != 90 {
		t.Errorf("sleeptime = %d, want 120-30", cfg.SleepTime)
	}
	if saver.saves != 1 {
		t.Errorf("config written %d times, want exactly 1", saver.saves)
	}
}

func TestMergeSkipsRegistersAbsentFromFirmware(t *testing.T) {
	cfg, bus, tr, _ := fixture()
	regs := attiny.MapFor(attiny.Version{Major: 1, Minor: 9, Patch: 0})
	bus.Set8(attiny.RegTimeout, 120)
	saver := &countingSaver{}

	New(cfg, tr, regs, saver).Merge()
	if cfg.Timeout != 120 {
		t.Errorf("timeout = %d, want 120", cfg.Timeout)
	}
	// firmware 1.x has no pulse registers: nothing may be adopted for them
	if cfg.PulseLength != config.Sentinel {
		t.Errorf("pulse_length = %d adopted from absent register, want sentinel", cfg.PulseLength)
	}
	if n := bus.ReadsOf(attiny.RegPulseLength); n != 0 {
		t.Errorf("absent register read %d times, want 0", n)
	}
}

// helpers making every sentinel field concrete and mirroring it on the bus,
// so merges are pure no-ops unless a test disturbs something

func concretizeGroup(cfg *config.Config) {
	cfg.Primed = 0
	cfg.ForceShutdown = 1
	cfg.LedOffMode = 0
	cfg.UPSConfiguration = 0
	cfg.PulseLength = 200
	cfg.PulseLengthOn = 200
	cfg.PulseLengthOff = 200
	cfg.SwitchRecoveryDelay = 1000
	cfg.VextOffIsShutdown = 0
}

func concretizeCalibration(cfg *config.Config) {
	cfg.WarnVoltage = 11500
	cfg.UPSShutdownVoltage = 10500
	cfg.RestartVoltage = 12000
	cfg.BatVCoefficient = 1000
	cfg.BatVConstant = 0
	cfg.ExtVCoefficient = 2000
	cfg.ExtVConstant = 200
	cfg.TCoefficient = 1000
	cfg.TConstant = -270
}

func seedGroup(bus *attiny.MemBus, cfg *config.Config) {
	bus.Set8(attiny.RegTimeout, uint8(cfg.Timeout))
	bus.Set8(attiny.RegPrimed, uint8(cfg.Primed))
	bus.Set8(attiny.RegForceShutdown, uint8(cfg.ForceShutdown))
	bus.Set8(attiny.RegLedOffMode, uint8(cfg.LedOffMode))
	bus.Set8(attiny.RegUPSConfiguration, uint8(cfg.UPSConfiguration))
	bus.Set16(attiny.RegPulseLength, cfg.PulseLength)
	bus.Set16(attiny.RegPulseLengthOn, cfg.PulseLengthOn)
	bus.Set16(attiny.RegPulseLengthOff, cfg.PulseLengthOff)
	bus.Set16(attiny.RegSwitchRecoveryDelay, cfg.SwitchRecoveryDelay)
	bus.Set8(attiny.RegVextOffIsShutdown, uint8(cfg.VextOffIsShutdown))
}

func seedCalibration(bus *attiny.MemBus, cfg *config.Config) {
	bus.Set16(attiny.RegWarnVoltage, cfg.WarnVoltage)
	bus.Set16(attiny.RegUPSShutdownVoltage, cfg.UPSShutdownVoltage)
	bus.Set16(attiny.RegRestartVoltage, cfg.RestartVoltage)
	bus.Set16(attiny.RegBatVCoefficient, cfg.BatVCoefficient)
	bus.Set16(attiny.RegBatVConstant, cfg.BatVConstant)
	bus.Set16(attiny.RegExtVCoefficient, cfg.ExtVCoefficient)
	bus.Set16(attiny.RegExtVConstant, cfg.ExtVConstant)
	bus.Set16(attiny.RegTCoefficient, cfg.TCoefficient)
	bus.Set16(attiny.RegTConstant, cfg.TConstant)
}
