// Package queue publishes send requests onto the ingestion topic.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// Publisher defines the subset of the pubsub.Publisher methods we use.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

// PubsubProducer implements push.IngestionProducer on a Pub/Sub topic.
type PubsubProducer struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewPubsubProducer(client *pubsub.Client, topicID string, logger *slog.Logger) *PubsubProducer {
	return &PubsubProducer{
		publisher: client.Publisher(topicID),
		logger:    logger.With("component", "PubsubProducer"),
	}
}

// Publish blocks until the server has accepted the request.
func (p *PubsubProducer) Publish(ctx context.Context, req *push.SendRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	serverID, err := p.publisher.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"push_application_id": req.ApplicationID,
			"message_id":          req.Message.ID,
		},
	}).Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish send request %s: %w", req.Message.ID, err)
	}

	p.logger.Debug("Send request published", "message_id", req.Message.ID, "pubsub_msg_id", serverID)
	return nil
}

// Stop flushes pending messages.
func (p *PubsubProducer) Stop() {
	p.publisher.Stop()
}
