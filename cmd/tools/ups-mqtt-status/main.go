package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/fisaks/upsd/internal/attiny"
	"github.com/fisaks/upsd/internal/config"
	"github.com/fisaks/upsd/internal/logging"
	"github.com/fisaks/upsd/internal/mqtt"
)

// ups-mqtt-status publishes one JSON status message and exits. Meant to run
// from cron; a read failure is reported in-band as the transport's sentinel
// value so dashboards can alert on it.

type status struct {
	Temperature    int64  `json:"temperature"`
	BatteryVoltage int64  `json:"battery_voltage"`
	Hostname       string `json:"hostname"`
}

func main() {
	cfgPath := flag.String("config", "/etc/upsd/upsd.yaml", "path to the config file")
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	topic := flag.String("topic", "upsd/status", "MQTT topic to publish to")
	clientID := flag.String("client-id", "ups-mqtt-status", "MQTT client id")
	username := flag.String("username", "", "MQTT username")
	password := flag.String("password", "", "MQTT password")
	flag.Parse()

	logging.Init(true)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logging.Fatal("config error", "error", err)
	}

	bus, err := attiny.OpenSMBus(int(cfg.I2CBus), int(cfg.I2CAddress))
	if err != nil {
		logging.Fatal("cannot open i2c bus", "error", err)
	}
	tr := attiny.NewTransport(bus, attiny.DefaultSettle, attiny.DefaultToolRetries)
	defer tr.Close()

	hostname, _ := os.Hostname()
	msg := status{
		Temperature:    tr.Read16(attiny.RegTemperature),
		BatteryVoltage: tr.Read16(attiny.RegBatVoltage),
		Hostname:       hostname,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		logging.Fatal("marshal status", "error", err)
	}

	client, err := mqtt.Connect(*broker, *clientID, *username, *password)
	if err != nil {
		logging.Fatal("mqtt connect", "error", err)
	}
	defer client.Disconnect(250)

	if err := mqtt.Publish(client, *topic, payload); err != nil {
		logging.Fatal("mqtt publish", "error", err)
	}
	logging.Info("status published", "topic", *topic)
}
