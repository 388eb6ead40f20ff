package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"github.com/fisaks/upsd/internal/attiny"
	"github.com/fisaks/upsd/internal/config"
	"github.com/fisaks/upsd/internal/logging"
	"github.com/fisaks/upsd/internal/monitor"
	"github.com/fisaks/upsd/internal/reconcile"
)

// Daemon version. The major number must match the controller firmware's
// major number, otherwise the register schema cannot be trusted.
const (
	major = 2
	minor = 0
	patch = 0
)

// systemdActions shells out to systemd. The monitor decides that and which;
// this is the how.
type systemdActions struct{}

func (systemdActions) Shutdown() error { return runCommand("systemctl", "poweroff") }
func (systemdActions) Reboot() error   { return runCommand("systemctl", "reboot") }

func runCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func main() {
	cfgPath := flag.String("config", "/etc/upsd/upsd.yaml", "path to the config file")
	noDaemon := flag.Bool("nodaemon", false, "interactive mode: text log output, primed flag cleared on exit")
	flag.Parse()

	logging.Init(*noDaemon)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logging.Fatal("config error", "error", err)
	}
	logging.SetLevel(cfg.LogLevel)
	logging.Info("upsd starting", "version", fmt.Sprintf("%d.%d.%d", major, minor, patch))

	bus, err := attiny.OpenSMBus(int(cfg.I2CBus), int(cfg.I2CAddress))
	if err != nil {
		logging.Fatal("cannot open i2c bus", "error", err)
	}
	tr := attiny.NewTransport(bus, attiny.DefaultSettle, attiny.DefaultRetries)

	// reachability probe before anything else touches the device
	if tr.Read16(attiny.RegLastAccess) == attiny.ErrWord16 {
		logging.Error("cannot access UPS controller", "bus", cfg.I2CBus, "address", fmt.Sprintf("%#x", cfg.I2CAddress))
		os.Exit(1)
	}
	fw := tr.ReadVersion()
	logging.Info("controller firmware", "version", fw.String())
	if fw.Unknown() {
		logging.Error("cannot read firmware version")
		os.Exit(1)
	}
	if fw.Major != major {
		logging.Error("daemon and firmware major version mismatch, this might lead to serious problems, check both versions",
			"daemon", fmt.Sprintf("%d.%d.%d", major, minor, patch), "firmware", fw.String())
	}
	regs := attiny.MapFor(fw)

	reconcile.New(cfg, tr, regs, cfg).Merge()

	// SIGINT is the interactive stop and runs the primed cleanup below.
	// SIGTERM (supervisor-driven system shutdown) kills us without running
	// any cleanup so the primed flag keeps its configured value.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = monitor.New(cfg, tr, systemdActions{}).Run(ctx)

	code := 0
	setUnprimed := false
	switch {
	case errors.Is(err, monitor.ErrDeviceUnreachable):
		// the link is gone, a primed reset would only fail too; exit
		// non-zero so the supervisor restarts us
		os.Exit(1)
	case errors.Is(err, context.Canceled):
		logging.Info("terminating: cleaning up and exiting")
		setUnprimed = true
	default:
		logging.Error("unexpected error, exiting", "error", err)
		setUnprimed = true
		code = 1
	}

	primed := cfg.Primed == 1
	if *noDaemon || setUnprimed {
		primed = false
	}
	if !primed {
		logging.Info("trying to reset primed flag")
	}
	var flagValue uint8
	if primed {
		flagValue = 1
	}
	tr.Write8(attiny.RegPrimed, flagValue)
	os.Exit(code)
}
