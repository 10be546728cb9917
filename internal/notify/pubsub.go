package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/letsencrypt/prio-facilitator/internal/errs"
)

// PubSub publishes Completion messages as JSON to a single topic.
type PubSub struct {
	topic *pubsub.Topic
}

var _ Notifier = (*PubSub)(nil)

// NewPubSub dials Pub/Sub for project and resolves topicName, creating no
// new topic (the topic is expected to already exist as part of the
// deployment's infrastructure).
func NewPubSub(ctx context.Context, project, topicName string) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("%w: new pubsub client: %v", errs.ErrCryptoInit, err)
	}
	return &PubSub{topic: client.Topic(topicName)}, nil
}

// Notify publishes c as a JSON-encoded Pub/Sub message and waits for the
// publish to be acknowledged.
func (p *PubSub) Notify(ctx context.Context, c Completion) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: marshal completion message: %v", errs.ErrCodec, err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("%w: publish completion message: %v", errs.ErrTransport, err)
	}
	return nil
}

// Stop flushes any buffered messages and releases resources.
func (p *PubSub) Stop() {
	p.topic.Stop()
}
