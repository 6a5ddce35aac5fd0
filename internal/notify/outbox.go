// Package notify forwards selected domain events to other services through an
// outbox written alongside the projection checkpoint and a relay that drains it.
package notify

import (
	"context"
	"fmt"
	"slices"

	"github.com/hylla/strom/internal/bus"
	"github.com/hylla/strom/internal/domain"
	"github.com/hylla/strom/internal/readmodel"
)

// PublicEvents is the allow-list of event types that leave the service.
var PublicEvents = []domain.EventType{domain.EventProjectCreated, domain.EventMemberRemoved}

// OutboxProjection enqueues allow-listed events in the runner's transaction.
type OutboxProjection struct {
	allow []domain.EventType
}

// NewOutboxProjection returns a projection for allow, or PublicEvents when allow is empty.
func NewOutboxProjection(allow ...domain.EventType) OutboxProjection {
	if len(allow) == 0 {
		allow = PublicEvents
	}
	return OutboxProjection{allow: slices.Clone(allow)}
}

// Name returns the projection name.
func (OutboxProjection) Name() string { return "outbox" }

// Apply stores one outbox row per allow-listed event, keyed by event id.
func (p OutboxProjection) Apply(ctx context.Context, tx readmodel.Tx, event domain.RecordedEvent) error {
	if event.Data == nil || !slices.Contains(p.allow, event.Type) {
		return nil
	}
	body, err := bus.EncodeEnvelope(event.Data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Type, err)
	}
	return tx.EnqueueOutbox(ctx, readmodel.OutboxMessage{
		EventID:   event.ID,
		Topic:     string(event.Type),
		Body:      body,
		Position:  event.Position,
		CreatedAt: event.RecordedAt,
	})
}
