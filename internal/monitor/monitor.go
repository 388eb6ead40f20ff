// Package monitor polls the controller's shutdown-level register and turns
// the reported code into host actions: shut down, reboot, run the configured
// button action, or nothing.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/fisaks/upsd/internal/attiny"
	"github.com/fisaks/upsd/internal/config"
	"github.com/fisaks/upsd/internal/logging"
)

// Shutdown level codes reported by the controller. LevelInitiated is the
// host-to-device acknowledgment "we are shutting down now" and is never
// expected as a device report during normal polling.
const (
	LevelNormal        uint8 = 0
	LevelInitiated     uint8 = 2
	LevelOnBattery     uint8 = 1 << 2
	LevelButton        uint8 = 1 << 3
	LevelBatteryAtWarn uint8 = 1 << 7

	// anything above this definitely shuts the host down
	shutdownThreshold uint8 = 16
)

var levelDescriptions = map[uint8]string{
	LevelNormal:        "everything is normal",
	LevelOnBattery:     "no external voltage detected, running on battery power",
	LevelButton:        "button has been pressed, reacting according to configuration",
	LevelBatteryAtWarn: "battery is at warn level, shutting down",
}

// State classifies one poll cycle.
type State int

const (
	StateNormal State = iota
	StateOnBattery
	StateButtonPressed
	StateShutdownImminent
	StateDeviceUnreachable
	StateUnknownLevel
)

// ErrDeviceUnreachable is fatal: the process exits non-zero so the
// supervisor restarts it, and the primed flag is left untouched because the
// device link is already gone.
var ErrDeviceUnreachable = errors.New("lost connection to UPS controller")

// Actions are the OS-level reactions the monitor can trigger. The monitor
// decides that and which; the implementation owns how.
type Actions interface {
	Shutdown() error
	Reboot() error
}

type Monitor struct {
	cfg     *config.Config
	tr      *attiny.Transport
	actions Actions
}

func New(cfg *config.Config, tr *attiny.Transport, actions Actions) *Monitor {
	return &Monitor{cfg: cfg, tr: tr, actions: actions}
}

// Classify maps a shutdown-level code onto the monitor's state space.
func Classify(level uint8) State {
	switch {
	case level == attiny.ErrByte:
		return StateDeviceUnreachable
	case level <= LevelInitiated:
		return StateNormal
	case level > shutdownThreshold:
		return StateShutdownImminent
	case level&LevelButton != 0:
		return StateButtonPressed
	case level&LevelOnBattery != 0:
		return StateOnBattery
	default:
		return StateUnknownLevel
	}
}

// Run polls until the context is cancelled or a fatal condition occurs.
// Context cancellation (the interrupt path) returns ctx.Err; the caller
// resets the primed flag. ErrDeviceUnreachable skips that reset.
func (m *Monitor) Run(ctx context.Context) error {
	sleep := time.Duration(m.cfg.SleepTime) * time.Second
	for {
		if err := m.PollOnce(); err != nil {
			return err
		}
		logging.Debug("sleeping until next poll", "seconds", m.cfg.SleepTime)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// PollOnce reads the shutdown level once and reacts to it. Only fatal
// conditions return an error; everything else is handled and logged.
func (m *Monitor) PollOnce() error {
	level := m.tr.Read8(attiny.RegShouldShutdown)

	switch Classify(level) {
	case StateDeviceUnreachable:
		logging.Error("cannot read shutdown level, giving up", "level", level)
		return ErrDeviceUnreachable

	case StateNormal:
		return nil

	case StateShutdownImminent:
		m.describeLevel(level)
		// best effort: the register-level retries already happened
		if !m.tr.Write8(attiny.RegShouldShutdown, LevelInitiated) {
			logging.Warn("could not acknowledge shutdown to the controller")
		}
		logging.Info("shutting down now")
		if err := m.actions.Shutdown(); err != nil {
			logging.Error("shutdown command failed", "error", err)
		}
		// the supervisor terminates us with the rest of the system
		return nil

	default:
		m.describeLevel(level)
		if !m.tr.Write8(attiny.RegShouldShutdown, LevelNormal) {
			logging.Warn("could not reset shutdown level")
		}
		if level&LevelButton != 0 {
			m.runButtonAction()
		}
		return nil
	}
}

func (m *Monitor) describeLevel(level uint8) {
	if desc, ok := levelDescriptions[level]; ok {
		logging.Warn(desc, "level", level)
		return
	}
	logging.Warn("unknown shutdown level", "level", level)
}

func (m *Monitor) runButtonAction() {
	switch m.cfg.Button() {
	case config.ButtonShutdown:
		if err := m.actions.Shutdown(); err != nil {
			logging.Error("button shutdown command failed", "error", err)
		}
	case config.ButtonReboot:
		if err := m.actions.Reboot(); err != nil {
			logging.Error("button reboot command failed", "error", err)
		}
	default:
		logging.Info("button pressed, configured to do nothing")
	}
}
