package monitor

import (
	"errors"
	"testing"

	"github.com/fisaks/upsd/internal/attiny"
	"github.com/fisaks/upsd/internal/config"
)

type recordingActions struct {
	shutdowns int
	reboots   int
}

func (a *recordingActions) Shutdown() error {
	a.shutdowns++
	return nil
}

func (a *recordingActions) Reboot() error {
	a.reboots++
	return nil
}

func fixture(t *testing.T, button string) (*Monitor, *attiny.MemBus, *recordingActions) {
	t.Helper()
	cfg := config.Default()
	cfg.ButtonFunctionName = button
	cfg.SleepTime = 1
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	bus := attiny.NewMemBus()
	tr := attiny.NewTransport(bus, 0, 3)
	actions := &recordingActions{}
	return New(cfg, tr, actions), bus, actions
}

func TestClassify(t *testing.T) {
	tests := []struct {
		level uint8
		want  State
	}{
		{0, StateNormal},
		{2, StateNormal}, // our own acknowledgment code, nothing to do
		{4, StateOnBattery},
		{8, StateButtonPressed},
		{12, StateButtonPressed}, // button wins over the battery bit
		{17, StateShutdownImminent},
		{128, StateShutdownImminent},
		{5, StateUnknownLevel},
		{0xFF, StateDeviceUnreachable},
	}
	for _, tt := range tests {
		if got := Classify(tt.level); got != tt.want {
			t.Errorf("Classify(%d) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestPollNormalDoesNothing(t *testing.T) {
	m, bus, actions := fixture(t, "shutdown")
	bus.Set8(attiny.RegShouldShutdown, 0)

	if err := m.PollOnce(); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if actions.shutdowns != 0 || actions.reboots != 0 {
		t.Fatal("normal level triggered an action")
	}
	if n := bus.WritesOf(attiny.RegShouldShutdown); n != 0 {
		t.Fatalf("normal level caused %d register writes, want 0", n)
	}
}

func TestPollButtonPressRunsConfiguredAction(t *testing.T) {
	m, bus, actions := fixture(t, "reboot")
	bus.Set8(attiny.RegShouldShutdown, 8)

	if err := m.PollOnce(); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if actions.reboots != 1 {
		t.Errorf("button press ran %d reboots, want 1", actions.reboots)
	}
	if actions.shutdowns != 0 {
		t.Errorf("button press ran %d shutdowns, want 0", actions.shutdowns)
	}
	if got := bus.Value8(attiny.RegShouldShutdown); got != 0 {
		t.Errorf("shutdown level = %d after button handling, want reset to 0", got)
	}
}

func TestPollButtonPressNothingConfigured(t *testing.T) {
	m, bus, actions := fixture(t, "nothing")
	bus.Set8(attiny.RegShouldShutdown, 8)

	if err := m.PollOnce(); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if actions.shutdowns != 0 || actions.reboots != 0 {
		t.Fatal("button configured to do nothing still ran an action")
	}
	if got := bus.Value8(attiny.RegShouldShutdown); got != 0 {
		t.Errorf("shutdown level = %d, want reset to 0", got)
	}
}

func TestPollShutdownImminent(t *testing.T) {
	m, bus, actions := fixture(t, "nothing")
	bus.Set8(attiny.RegShouldShutdown, 17)

	if err := m.PollOnce(); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if actions.shutdowns != 1 {
		t.Errorf("imminent shutdown ran %d shutdowns, want 1", actions.shutdowns)
	}
	if got := bus.Value8(attiny.RegShouldShutdown); got != LevelInitiated {
		t.Errorf("shutdown level = %d, want acknowledgment %d", got, LevelInitiated)
	}
}

func TestPollUnknownLevelResetsToNormal(t *testing.T) {
	m, bus, actions := fixture(t, "shutdown")
	bus.Set8(attiny.RegShouldShutdown, 5)

	if err := m.PollOnce(); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if actions.shutdowns != 0 {
		t.Fatal("unknown level triggered an action")
	}
	if got := bus.Value8(attiny.RegShouldShutdown); got != 0 {
		t.Errorf("shutdown level = %d, want normalized to 0", got)
	}
}

func TestPollOnBatteryIsInformational(t *testing.T) {
	m, bus, actions := fixture(t, "shutdown")
	bus.Set8(attiny.RegShouldShutdown, 4)

	if err := m.PollOnce(); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if actions.shutdowns != 0 {
		t.Fatal("on-battery level triggered a shutdown")
	}
	if got := bus.Value8(attiny.RegShouldShutdown); got != 0 {
		t.Errorf("shutdown level = %d, want reset to 0", got)
	}
}

func TestPollDeviceUnreachableIsFatal(t *testing.T) {
	m, bus, actions := fixture(t, "shutdown")
	bus.Set8(attiny.RegShouldShutdown, 0)
	bus.FailReads(attiny.RegShouldShutdown, 1<<30)

	err := m.PollOnce()
	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Fatalf("PollOnce = %v, want ErrDeviceUnreachable", err)
	}
	if actions.shutdowns != 0 {
		t.Fatal("unreachable device triggered a shutdown")
	}
	// no write must be attempted on a dead link
	if n := bus.WritesOf(attiny.RegShouldShutdown); n != 0 {
		t.Fatalf("unreachable path attempted %d writes, want 0", n)
	}
}
