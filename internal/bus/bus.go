// Package bus defines the message-bus ports shared by the outbox relay and the listeners.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hylla/strom/internal/domain"
)

// Topics carried across the service boundary.
const (
	TopicProjectCreated = string(domain.EventProjectCreated)
	TopicMemberRemoved  = string(domain.EventMemberRemoved)
)

// Message is one delivery. ID is the originating event id.
type Message struct {
	ID    string
	Topic string
	Body  []byte
}

// Handler processes one delivery. A nil return acknowledges it; an error asks for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends one message. Publishing the same id twice must be safe.
type Publisher interface {
	Publish(ctx context.Context, topic, id string, body []byte) error
}

// Subscriber delivers messages of topic to handler, load-balanced across group,
// until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, handler Handler) error
}

// Envelope is the published body: the event type tag and its payload.
type Envelope struct {
	Type domain.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

// EncodeEnvelope renders a payload as a published body.
func EncodeEnvelope(data domain.Payload) ([]byte, error) {
	raw, err := domain.EncodePayload(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: data.EventType(), Data: raw})
}

// DecodeEnvelope parses a published body back into its typed payload.
func DecodeEnvelope(body []byte) (domain.Payload, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %w", domain.ErrInvalidPayload, err)
	}
	return domain.DecodePayload(env.Type, env.Data)
}
