package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// EventPublisher is what the domain packages depend on. Publishing is
// best-effort: callers log failures and carry on.
type EventPublisher interface {
	PublishPurchaseEvent(ctx context.Context, event PurchaseEvent) error
	PublishSyncEvent(ctx context.Context, event SyncEvent) error
	PublishQuotaEvent(ctx context.Context, event QuotaEvent) error
}

// Publisher provides typed methods for publishing events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishPurchaseEvent publishes the outcome of a purchase or restore.
func (p *Publisher) PublishPurchaseEvent(ctx context.Context, event PurchaseEvent) error {
	return p.publish(ctx, SubjectPurchaseEvent, event)
}

// PublishSyncEvent publishes the outcome of a sync sweep.
func (p *Publisher) PublishSyncEvent(ctx context.Context, event SyncEvent) error {
	return p.publish(ctx, SubjectSyncEvent, event)
}

// PublishQuotaEvent publishes a limit hit.
func (p *Publisher) PublishQuotaEvent(ctx context.Context, event QuotaEvent) error {
	return p.publish(ctx, SubjectQuotaEvent, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// NopPublisher drops every event. It is used when no NATS URL is set.
type NopPublisher struct{}

func (NopPublisher) PublishPurchaseEvent(context.Context, PurchaseEvent) error { return nil }
func (NopPublisher) PublishSyncEvent(context.Context, SyncEvent) error         { return nil }
func (NopPublisher) PublishQuotaEvent(context.Context, QuotaEvent) error       { return nil }
