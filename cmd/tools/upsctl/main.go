package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fisaks/upsd/internal/attiny"
	"github.com/fisaks/upsd/internal/config"
	"github.com/fisaks/upsd/internal/logging"
	"github.com/fisaks/upsd/internal/util"
)

// upsctl is the one-shot maintenance tool: it prints the controller's state
// over the same transport the daemon uses, and can trigger the few
// maintenance writes (primed flag, EEPROM re-init).

var internalStates = map[uint8]string{
	0:  "running",
	1:  "unclear after reset",
	2:  "recovering from warn state",
	4:  "recovering from shutdown state",
	8:  "warn state",
	16: "warn to shutdown",
	32: "shutdown state",
}

func main() {
	cfgPath := flag.String("config", "/etc/upsd/upsd.yaml", "path to the config file")
	fuses := flag.Bool("fuses", false, "also print the fuse bytes")
	initEEPROM := flag.Bool("init-eeprom", false, "reset the controller's EEPROM to firmware defaults")
	setPrimed := flag.Int("set-primed", -1, "set the primed flag to 0 or 1")
	flag.Parse()

	logging.Init(true)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logging.Fatal("config error", "error", err)
	}
	logging.SetLevel(cfg.LogLevel)

	bus, err := attiny.OpenSMBus(int(cfg.I2CBus), int(cfg.I2CAddress))
	if err != nil {
		logging.Fatal("cannot open i2c bus", "error", err)
	}
	// the one-shot tools are patient: larger retry budget, slower pacing
	tr := attiny.NewTransport(bus, attiny.DefaultSettle, attiny.DefaultToolRetries)
	defer tr.Close()

	switch {
	case *initEEPROM:
		if !tr.Write8(attiny.RegInitEEPROM, 1) {
			logging.Fatal("could not trigger EEPROM init")
		}
		logging.Info("EEPROM reset to firmware defaults")
	case *setPrimed >= 0:
		if *setPrimed > 1 {
			logging.Fatal("set-primed takes 0 or 1")
		}
		if !tr.Write8(attiny.RegPrimed, uint8(*setPrimed)) {
			logging.Fatal("could not set primed flag")
		}
		logging.Info("primed flag set", "primed", *setPrimed)
	default:
		printStatus(tr, *fuses)
	}
}

func printStatus(tr *attiny.Transport, fuses bool) {
	fw := tr.ReadVersion()
	if fw.Unknown() {
		logging.Error("cannot access UPS controller")
		os.Exit(1)
	}
	logging.Info("firmware version", "version", fw.String())

	state := tr.Read8(attiny.RegInternalState)
	name, ok := internalStates[state]
	if !ok {
		name = "unknown"
	}
	logging.Info("internal state", "state", name, "raw", util.ByteToBinaryString(state))

	logging.Info("battery voltage", "volts", millivolts(tr.Read16(attiny.RegBatVoltage)))
	logging.Info("external voltage", "volts", millivolts(tr.Read16(attiny.RegExtVoltage)))
	logging.Info("temperature", "celsius", tr.Read16(attiny.RegTemperature))

	logging.Info("timeout", "seconds", tr.Read8(attiny.RegTimeout))
	logging.Info("primed", "value", tr.Read8(attiny.RegPrimed))
	logging.Info("force shutdown", "value", tr.Read8(attiny.RegForceShutdown))

	logging.Info("warn voltage", "volts", millivolts(tr.Read16(attiny.RegWarnVoltage)))
	logging.Info("shutdown voltage", "volts", millivolts(tr.Read16(attiny.RegUPSShutdownVoltage)))
	logging.Info("restart voltage", "volts", millivolts(tr.Read16(attiny.RegRestartVoltage)))

	if fuses {
		for _, f := range []struct {
			name string
			reg  attiny.Reg
		}{
			{"low fuse", attiny.RegFuseLow},
			{"high fuse", attiny.RegFuseHigh},
			{"extended fuse", attiny.RegFuseExtended},
		} {
			v := tr.Read8(f.reg)
			logging.Info(f.name, "hex", fmt.Sprintf("%#02x", v), "bits", util.ByteToBinaryString(v))
		}
	}
}

func millivolts(v int64) string {
	if v == attiny.ErrWord16 {
		return "unreadable"
	}
	return fmt.Sprintf("%.3f", float64(v)/1000)
}
