package messaging

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
)

// PubSubSink publishes notification envelopes to a Pub/Sub topic.
type PubSubSink struct {
	topic    *pubsub.Topic
	producer string
}

// NewPubSubSink returns a sink bound to topicID on client.
func NewPubSubSink(client *pubsub.Client, topicID, producer string) (*PubSubSink, error) {
	if client == nil {
		return nil, errors.New("messaging: pubsub client is required")
	}
	if topicID == "" {
		return nil, errors.New("messaging: pubsub topic is required")
	}
	topic := client.Topic(topicID)
	topic.PublishSettings.NumGoroutines = 1
	return &PubSubSink{topic: topic, producer: producer}, nil
}

func (s *PubSubSink) Name() string { return "pubsub" }

// Deliver publishes the notification and waits for the server ack.
func (s *PubSubSink) Deliver(ctx context.Context, n domain.Notification) error {
	data, err := encode(s.producer, n)
	if err != nil {
		return err
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"notificationId": n.ID,
			"userId":         n.UserID,
			"type":           string(n.Type),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("messaging: publish notification %s: %w", n.ID, err)
	}
	return nil
}

// Close flushes pending messages.
func (s *PubSubSink) Close() error {
	s.topic.Stop()
	return nil
}
