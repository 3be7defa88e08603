package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Publisher handles publishing control-plane events to NATS
type Publisher struct {
	client *Client
	logger *logrus.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(client *Client, logger *logrus.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Publish publishes an event payload under controlplane.{kind}.{tenantID}.
// A nil or disconnected client is tolerated: the event is dropped with a
// warning so callers never fail on messaging.
func (p *Publisher) Publish(ctx context.Context, kind, tenantID string, payload interface{}) error {
	if p == nil || p.client == nil || !p.client.IsConnected() {
		if p != nil && p.logger != nil {
			p.logger.Warn("NATS not connected, skipping event publish")
		}
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := fmt.Sprintf("controlplane.%s.%s", kind, tenantID)
	if _, err := p.client.JetStream().Publish(subject, data, nats.Context(ctx)); err != nil {
		p.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"subject":   subject,
		}).WithError(err).Error("Failed to publish event")
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
