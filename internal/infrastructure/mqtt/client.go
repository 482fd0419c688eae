// Package mqtt connects Emberlink Core to the site broker.
//
// Device state changes arrive on emberlink/state/{area}/{device} and are
// forwarded to the WebSocket layer for scoped fan-out. Subscriptions are
// tracked so they survive broker reconnects.
package mqtt

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/emberhaus/emberlink/internal/infrastructure/config"
	"github.com/emberhaus/emberlink/internal/infrastructure/logging"
)

// StateHandler receives a device state change already split into its
// area and device components.
type StateHandler func(area, device string, payload []byte)

// Client wraps the paho MQTT client.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	logger *logging.Logger

	mu            sync.Mutex
	subscriptions map[string]pahomqtt.MessageHandler
}

// Connect creates and connects the MQTT client. Returns nil when MQTT is
// disabled; callers treat a nil client as "no event source".
func Connect(cfg config.MQTTConfig, logger *logging.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	c := &Client{
		cfg:           cfg,
		logger:        logger,
		subscriptions: make(map[string]pahomqtt.MessageHandler),
	}

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)

	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.Broker.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetOrderMatters(false)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		logger.Info("mqtt connected", "broker", broker)
		c.restoreSubscriptions()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker: %w", err)
	}

	return c, nil
}

// SubscribeStates subscribes to every device state topic and routes
// messages to the handler.
func (c *Client) SubscribeStates(handler StateHandler) error {
	if c == nil {
		return nil
	}
	return c.subscribe(TopicAllStates(), c.wrapStateHandler(handler))
}

func (c *Client) subscribe(topic string, handler pahomqtt.MessageHandler) error {
	c.mu.Lock()
	c.subscriptions[topic] = handler
	c.mu.Unlock()

	token := c.client.Subscribe(topic, byte(c.cfg.QoS), handler)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	c.logger.Debug("mqtt subscribed", "topic", topic)
	return nil
}

// restoreSubscriptions re-establishes subscriptions after a reconnect.
func (c *Client) restoreSubscriptions() {
	c.mu.Lock()
	subs := make(map[string]pahomqtt.MessageHandler, len(c.subscriptions))
	for t, h := range c.subscriptions {
		subs[t] = h
	}
	c.mu.Unlock()

	for topic, handler := range subs {
		token := c.client.Subscribe(topic, byte(c.cfg.QoS), handler)
		if token.WaitTimeout(10*time.Second) && token.Error() == nil {
			continue
		}
		c.logger.Error("mqtt resubscribe failed", "topic", topic, "error", token.Error())
	}
}

// wrapStateHandler splits the topic, recovers from handler panics and
// hands the payload over.
func (c *Client) wrapStateHandler(handler StateHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("mqtt handler panic", "topic", msg.Topic(), "panic", r)
			}
		}()

		area, device, ok := ParseStateTopic(msg.Topic())
		if !ok {
			c.logger.Warn("mqtt message on unexpected topic", "topic", msg.Topic())
			return
		}
		handler(area, device, msg.Payload())
	}
}

// Connected reports whether the broker connection is up.
func (c *Client) Connected() bool {
	return c != nil && c.client.IsConnected()
}

// Close disconnects from the broker, allowing in-flight messages to drain.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.client.Disconnect(250)
}
