package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fisaks/upsd/internal/logging"
)

// Sentinel marks a field the operator did not set. The reconciler adopts the
// device's value for such fields. This is the config-side sentinel; it must
// never be confused with the transport's read-error sentinels.
const Sentinel int64 = math.MaxInt64

// ButtonFunction is the action taken when the UPS reports a button press.
type ButtonFunction int

const (
	ButtonNothing ButtonFunction = iota
	ButtonShutdown
	ButtonReboot
)

// ParseButtonFunction maps the config file value onto the closed set of
// button actions. Unknown names are a startup validation error, not a
// runtime lookup failure.
func ParseButtonFunction(name string) (ButtonFunction, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nothing":
		return ButtonNothing, nil
	case "shutdown":
		return ButtonShutdown, nil
	case "reboot":
		return ButtonReboot, nil
	default:
		return ButtonNothing, fmt.Errorf("unknown button function %q (want nothing, shutdown or reboot)", name)
	}
}

// Config is the persisted host-side mirror of the controller's operating
// parameters and calibration registers, plus host-only settings. All
// register-mirrored fields are int64 so the Sentinel fits regardless of the
// register width; flag registers hold 0 or 1.
type Config struct {
	I2CBus     int64 `yaml:"i2c_bus"`
	I2CAddress int64 `yaml:"i2c_address"`

	Timeout             int64 `yaml:"timeout"`
	SleepTime           int64 `yaml:"sleeptime"`
	Primed              int64 `yaml:"primed"`
	ForceShutdown       int64 `yaml:"force_shutdown"`
	LedOffMode          int64 `yaml:"led_off_mode"`
	UPSConfiguration    int64 `yaml:"ups_configuration"`
	PulseLength         int64 `yaml:"pulse_length"`
	PulseLengthOn       int64 `yaml:"pulse_length_on"`
	PulseLengthOff      int64 `yaml:"pulse_length_off"`
	SwitchRecoveryDelay int64 `yaml:"switch_recovery_delay"`
	VextOffIsShutdown   int64 `yaml:"vext_off_is_shutdown"`

	WarnVoltage        int64 `yaml:"warn_voltage"`
	UPSShutdownVoltage int64 `yaml:"ups_shutdown_voltage"`
	RestartVoltage     int64 `yaml:"restart_voltage"`
	BatVCoefficient    int64 `yaml:"bat_v_coefficient"`
	BatVConstant       int64 `yaml:"bat_v_constant"`
	ExtVCoefficient    int64 `yaml:"ext_v_coefficient"`
	ExtVConstant       int64 `yaml:"ext_v_constant"`
	TCoefficient       int64 `yaml:"t_coefficient"`
	TConstant          int64 `yaml:"t_constant"`

	ButtonFunctionName string `yaml:"button_function"`
	LogLevel           string `yaml:"loglevel"`

	path   string
	button ButtonFunction
}

// Default returns the configuration used when no file exists yet: everything
// register-mirrored unset, primed off, force shutdown on.
func Default() *Config {
	return &Config{
		I2CBus:     1,
		I2CAddress: 0x37,

		Timeout:             Sentinel,
		SleepTime:           Sentinel,
		Primed:              0,
		ForceShutdown:       1,
		LedOffMode:          Sentinel,
		UPSConfiguration:    Sentinel,
		PulseLength:         Sentinel,
		PulseLengthOn:       Sentinel,
		PulseLengthOff:      Sentinel,
		SwitchRecoveryDelay: Sentinel,
		VextOffIsShutdown:   Sentinel,

		WarnVoltage:        Sentinel,
		UPSShutdownVoltage: Sentinel,
		RestartVoltage:     Sentinel,
		BatVCoefficient:    Sentinel,
		BatVConstant:       Sentinel,
		ExtVCoefficient:    Sentinel,
		ExtVConstant:       Sentinel,
		TCoefficient:       Sentinel,
		TConstant:          Sentinel,

		ButtonFunctionName: "nothing",
		LogLevel:           "info",
	}
}

// Load reads the config file at path. A missing file yields the defaults
// (the first merge then adopts the device's values and writes the file). An
// unparseable or invalid file is fatal to startup; the daemon must not run
// with partially-valid state.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.Info("no config file yet, starting from defaults", "path", path)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, cfg.Validate()
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and resolves the button function enum.
func (c *Config) Validate() error {
	var errs multiErr

	if c.I2CBus < 0 {
		errs.addf("i2c_bus must be >= 0, got %d", c.I2CBus)
	}
	if c.I2CAddress < 0x03 || c.I2CAddress > 0x77 {
		errs.addf("i2c_address %#x outside the 7-bit address range", c.I2CAddress)
	}
	if c.Timeout != Sentinel && (c.Timeout < 1 || c.Timeout > 255) {
		errs.addf("timeout must be 1..255 seconds, got %d", c.Timeout)
	}
	if c.SleepTime != Sentinel && c.SleepTime < 1 {
		errs.addf("sleeptime must be >= 1 second, got %d", c.SleepTime)
	}
	for _, f := range []struct {
		key string
		val int64
	}{
		{"primed", c.Primed},
		{"force_shutdown", c.ForceShutdown},
		{"vext_off_is_shutdown", c.VextOffIsShutdown},
	} {
		if f.val != Sentinel && f.val != 0 && f.val != 1 {
			errs.addf("%s must be 0 or 1, got %d", f.key, f.val)
		}
	}

	button, err := ParseButtonFunction(c.ButtonFunctionName)
	if err != nil {
		errs.add(err.Error())
	}
	c.button = button

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs.addf("unknown loglevel %q", c.LogLevel)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Button returns the parsed button action. Valid only after Validate.
func (c *Config) Button() ButtonFunction {
	return c.button
}

// Save writes the whole document atomically next to its final location.
// Called only after a merge actually changed a field.
func (c *Config) Save() error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".upsd-config-*")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// small multi-error
type multiErr []string

func (m *multiErr) add(s string)            { *m = append(*m, s) }
func (m *multiErr) addf(f string, a ...any) { *m = append(*m, fmt.Sprintf(f, a...)) }
func (m multiErr) Error() string            { return "validation errors: " + strings.Join(m, "; ") }
