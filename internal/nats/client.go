package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Config holds NATS connection configuration
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Client wraps the NATS connection and JetStream context
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Logger
}

// NewClient creates a new NATS client
func NewClient(cfg Config, logger *logrus.Logger) (*Client, error) {
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name("control-plane"),
		nats.Timeout(10 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &Client{conn: conn, js: js, logger: logger}

	if err := client.ensureStream(); err != nil {
		logger.WithError(err).Warn("Failed to ensure control-plane stream")
	}

	logger.WithField("url", cfg.URL).Info("Connected to NATS")
	return client, nil
}

// Close drains and closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Drain()
		c.conn.Close()
	}
}

// JetStream returns the JetStream context
func (c *Client) JetStream() nats.JetStreamContext {
	return c.js
}

// IsConnected returns true if connected to NATS
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// ensureStream creates the CONTROL_PLANE_EVENTS stream if it doesn't exist.
// The stream carries audit fallback records, freshness transitions and
// billing events.
func (c *Client) ensureStream() error {
	streamCfg := nats.StreamConfig{
		Name:        "CONTROL_PLANE_EVENTS",
		Description: "Control plane domain events and audit fallback records",
		Subjects:    []string{"controlplane.>"},
		Storage:     nats.FileStorage,
		Retention:   nats.LimitsPolicy,
		MaxAge:      72 * time.Hour,
		MaxMsgs:     500000,
		Discard:     nats.DiscardOld,
		Replicas:    1,
	}

	_, err := c.js.StreamInfo(streamCfg.Name)
	if err == nats.ErrStreamNotFound {
		if _, err = c.js.AddStream(&streamCfg); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check stream: %w", err)
	}
	return nil
}
