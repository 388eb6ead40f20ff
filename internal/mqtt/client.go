package mqtt

// cSpell:ignore mqtt
import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fisaks/upsd/internal/logging"
)

// Connect dials the broker for a one-shot publish. The status tool runs from
// cron, so there is no reconnect handling; a failed connect is an error the
// caller reports.
func Connect(brokerURL, clientID, username, password string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetConnectTimeout(10 * time.Second)
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}
	c := mqtt.NewClient(opts)
	if tok := c.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, tok.Error()
	}
	return c, nil
}

// Publish sends one payload and waits for the broker to take it.
func Publish(client mqtt.Client, topic string, payload []byte) error {
	token := client.Publish(topic, 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	logging.Debug("published status", "topic", topic, "bytes", len(payload))
	return nil
}
