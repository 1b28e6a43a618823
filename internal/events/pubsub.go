package events

import (
	"context"
	"encoding/json"
	"log"

	"cloud.google.com/go/pubsub"

	"github.com/haggle/backend/internal/core"
)

// PubSubSink mirrors committed events onto a Google Cloud Pub/Sub topic.
// Publishes are fire-and-forget; failures are logged and never surfaced to
// the negotiation path.
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *log.Logger
}

// NewPubSubSink connects to the project and binds the topic. The topic must
// already exist.
func NewPubSubSink(ctx context.Context, projectID, topicID string) (*PubSubSink, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &PubSubSink{
		client: client,
		topic:  client.Topic(topicID),
		logger: log.New(log.Writer(), "[PUBSUB] ", log.LstdFlags),
	}, nil
}

// Emit publishes the event asynchronously. Result errors are drained on a
// background goroutine so callers never wait on the broker.
func (s *PubSubSink) Emit(ctx context.Context, e *core.AppEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Printf("marshal event %s: %v", e.ID, err)
		return
	}
	res := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_type":     string(e.Type),
			"negotiation_id": e.NegotiationID,
		},
	})
	go func() {
		if _, err := res.Get(context.Background()); err != nil {
			s.logger.Printf("publish event %s: %v", e.ID, err)
		}
	}()
}

// Close flushes pending publishes and releases the client.
func (s *PubSubSink) Close() error {
	s.topic.Stop()
	return s.client.Close()
}

var _ Sink = (*PubSubSink)(nil)
