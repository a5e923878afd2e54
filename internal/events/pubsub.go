package events

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/sshtomar/llm-txt/internal/generator"
)

// PubSub publishes job completion events to a Google Pub/Sub topic.
type PubSub struct {
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSub wires an existing client to the named topic.
func NewPubSub(client *pubsub.Client, topicName string, logger *zap.Logger) (*PubSub, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicName == "" {
		return nil, fmt.Errorf("topic name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSub{topic: client.Topic(topicName), logger: logger}, nil
}

// Publish sends the event as JSON and waits for the server ack.
func (p *PubSub) Publish(ctx context.Context, e generator.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"job_id": e.JobID,
			"status": string(e.State),
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	p.logger.Debug("event published",
		zap.String("job_id", e.JobID), zap.String("message_id", id))
	return nil
}
