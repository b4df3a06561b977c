package subscription

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tracklive/tracklive/pkg/tracker/config"
)

const tokenTimeout = 10 * time.Second

// MQTTTransport carries the feed over MQTT on a WebSocket. Library-level auto
// reconnect stays off: the manager's own backoff policy decides when and how
// often to retry.
type MQTTTransport struct {
	client mqtt.Client

	onMessage func(topic string, payload []byte)
}

func NewMQTTTransport(cfg config.BrokerConfig, onMessage func(topic string, payload []byte), onConnectionLost func(error)) *MQTTTransport {
	transport := &MQTTTransport{
		onMessage: onMessage,
	}

	options := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8])).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetKeepAlive(30 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			onConnectionLost(err)
		})

	transport.client = mqtt.NewClient(options)

	return transport
}

func (transport *MQTTTransport) Connect(ctx context.Context) error {
	token := transport.client.Connect()

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(tokenTimeout)
	}

	if !token.WaitTimeout(time.Until(deadline)) {
		return fmt.Errorf("broker did not acknowledge connect: %w", context.DeadlineExceeded)
	}

	return token.Error()
}

func (transport *MQTTTransport) Disconnect() {
	transport.client.Disconnect(250)
}

func (transport *MQTTTransport) Subscribe(filter string) error {
	token := transport.client.Subscribe(filter, 0, func(_ mqtt.Client, message mqtt.Message) {
		transport.onMessage(message.Topic(), message.Payload())
	})

	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("subscribe %s: %w", filter, context.DeadlineExceeded)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}

	log.Debug().Str("filter", filter).Msg("Subscribed")
	return nil
}

func (transport *MQTTTransport) Unsubscribe(filters ...string) error {
	if len(filters) == 0 {
		return nil
	}

	token := transport.client.Unsubscribe(filters...)

	if !token.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("unsubscribe: %w", context.DeadlineExceeded)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}

	log.Debug().Strs("filters", filters).Msg("Unsubscribed")
	return nil
}

func (transport *MQTTTransport) IsConnected() bool {
	return transport.client.IsConnected()
}
