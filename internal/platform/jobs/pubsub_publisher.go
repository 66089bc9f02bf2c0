package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/podshop/api/internal/services"
)

// PubSubCheckoutPublisher announces created checkout sessions on a Pub/Sub topic.
type PubSubCheckoutPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.CheckoutEventPublisher = (*PubSubCheckoutPublisher)(nil)

// NewPubSubCheckoutPublisher constructs a Pub/Sub backed checkout event publisher.
func NewPubSubCheckoutPublisher(topic *pubsub.Topic) (*PubSubCheckoutPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub checkout publisher: topic is required")
	}
	return &PubSubCheckoutPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishCheckoutSessionCreated sends the event and waits for the server-assigned message id.
func (p *PubSubCheckoutPublisher) PublishCheckoutSessionCreated(ctx context.Context, message services.CheckoutSessionCreatedMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub checkout publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal checkout event: %w", err)
	}

	attrs := map[string]string{"event": "checkout.session_created"}
	setAttr(attrs, "sessionId", message.SessionID)
	setAttr(attrs, "attemptId", message.AttemptID)
	setAttr(attrs, "provider", message.Provider)
	setAttr(attrs, "country", message.Country)
	setAttr(attrs, "idempotencyKey", message.IdempotencyKey)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish checkout event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
