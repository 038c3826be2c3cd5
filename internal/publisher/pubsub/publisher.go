// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Publisher publishes job events to Pub/Sub topics.
type Publisher struct {
	client *pubsub.Client
	attrs  map[string]string
}

// New creates a Publisher. attrs, when set, are attached to every
// message so subscribers can filter without decoding payloads.
func New(client *pubsub.Client, attrs map[string]string) *Publisher {
	return &Publisher{client: client, attrs: attrs}
}

// Publish marshals the payload to JSON and publishes it to the topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub client is not configured")
	}
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data}
	if len(p.attrs) > 0 {
		msg.Attributes = make(map[string]string, len(p.attrs))
		for k, v := range p.attrs {
			msg.Attributes[k] = v
		}
	}

	result := p.client.Topic(topic).Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
