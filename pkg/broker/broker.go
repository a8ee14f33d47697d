// Package broker wraps the Eclipse Paho MQTT client with the connection,
// subscription and publish conventions used by the telemetry services.
package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	pmqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"airlab.dev/pollution-core/pkg/metrics"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
	disconnectMs   = 250
)

// MessageHandler receives an inbound message's topic and raw payload.
type MessageHandler func(topic string, payload []byte)

// Config holds the broker client configuration.
type Config struct {
	Logger   *slog.Logger
	Host     string
	Port     int
	ClientID string
	Metrics  *metrics.BrokerMetrics
}

// Client is an MQTT client handle. Publishing is safe for concurrent use.
type Client struct {
	logger  *slog.Logger
	client  pmqtt.Client
	metrics *metrics.BrokerMetrics
}

// Publisher is the outbound side of the broker contract, used by the
// liveness tracker for reset commands and by the simulator.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

var _ Publisher = (*Client)(nil)

// Connect creates the client and establishes the initial connection.
// A failed initial connection is returned to the caller; later drops are
// handled by paho's auto-reconnect.
func Connect(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("broker config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Host == "" {
		return nil, errors.New("broker host cannot be empty")
	}
	if cfg.Port <= 0 {
		return nil, errors.New("broker port must be positive")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "pollution-core"
	}
	clientID = clientID + "-" + uuid.NewString()

	c := &Client{logger: cfg.Logger, metrics: cfg.Metrics}

	opts := pmqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(60 * time.Second).
		SetOnConnectHandler(func(pmqtt.Client) {
			c.logger.Info("connected to mqtt broker", "host", cfg.Host, "port", cfg.Port)
			if c.metrics != nil {
				c.metrics.ConnectionStatus.Set(1)
			}
		}).
		SetConnectionLostHandler(func(_ pmqtt.Client, err error) {
			c.logger.Warn("mqtt connection lost", "error", err)
			if c.metrics != nil {
				c.metrics.ConnectionStatus.Set(0)
			}
		}).
		SetReconnectingHandler(func(pmqtt.Client, *pmqtt.ClientOptions) {
			c.logger.Info("reconnecting to mqtt broker")
			if c.metrics != nil {
				c.metrics.ReconnectAttempts.Inc()
			}
		})

	c.client = pmqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s:%d: %w", cfg.Host, cfg.Port, token.Error())
	}

	return c, nil
}

// Subscribe registers a handler for a topic filter at QoS 1. Paho invokes
// the handler serially per subscription, which gives the router its
// one-message-at-a-time receive loop.
func (c *Client) Subscribe(filter string, handler MessageHandler) error {
	token := c.client.Subscribe(filter, 1, func(_ pmqtt.Client, msg pmqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", filter, token.Error())
	}
	c.logger.Info("subscribed", "filter", filter)
	return nil
}

// Unsubscribe removes a topic filter subscription.
func (c *Client) Unsubscribe(filter string) error {
	token := c.client.Unsubscribe(filter)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe from %q: %w", filter, token.Error())
	}
	return nil
}

// Publish sends a payload at QoS 1 with a bounded wait on the delivery
// token, so a slow broker cannot stall the caller indefinitely.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		if c.metrics != nil {
			c.metrics.PublishFailures.WithLabelValues(topic).Inc()
		}
		return fmt.Errorf("publish to %q timed out", topic)
	}
	if err := token.Error(); err != nil {
		if c.metrics != nil {
			c.metrics.PublishFailures.WithLabelValues(topic).Inc()
		}
		return fmt.Errorf("failed to publish to %q: %w", topic, err)
	}
	if c.metrics != nil {
		c.metrics.MessagesPublished.WithLabelValues(topic).Inc()
	}
	return nil
}

// Disconnect closes the connection, allowing in-flight work to finish.
func (c *Client) Disconnect() {
	c.client.Disconnect(disconnectMs)
	c.logger.Info("disconnected from mqtt broker")
	if c.metrics != nil {
		c.metrics.ConnectionStatus.Set(0)
	}
}
