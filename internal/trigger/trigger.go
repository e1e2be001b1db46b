package trigger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpmflow/webhook-svc/internal/deliverystore"
	"github.com/bpmflow/webhook-svc/internal/dispatcher"
	"github.com/bpmflow/webhook-svc/internal/models"
	"github.com/bpmflow/webhook-svc/internal/registry"
)

// Trigger is the single entry point domain services use to fan a BPM event
// out to its subscribers. Callers never observe delivery outcomes; dispatch
// is fire-and-forget through the dispatcher's worker pool.
type Trigger struct {
	registry   *registry.Registry
	store      *deliverystore.Store
	dispatcher *dispatcher.Dispatcher
	logger     *zap.Logger
}

func New(reg *registry.Registry, store *deliverystore.Store, disp *dispatcher.Dispatcher, logger *zap.Logger) *Trigger {
	return &Trigger{
		registry:   reg,
		store:      store,
		dispatcher: disp,
		logger:     logger,
	}
}

// Trigger resolves the enabled webhooks subscribed to eventType, creates one
// PENDING delivery per subscriber with the payload serialized once, and
// enqueues each independently. A failure on one subscriber never blocks the
// rest; the only errors surfaced are an unserializable payload or a registry
// lookup that fails outright.
func (t *Trigger) Trigger(ctx context.Context, eventType string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize event payload: %w", err)
	}

	webhooks, err := t.registry.ListSubscribed(ctx, eventType)
	if err != nil {
		return fmt.Errorf("failed to resolve subscribers: %w", err)
	}
	if len(webhooks) == 0 {
		t.logger.Debug("No subscribers for event",
			zap.String("event_type", eventType),
		)
		return nil
	}

	for _, webhook := range webhooks {
		delivery := &models.Delivery{
			ID:             uuid.New(),
			WebhookID:      webhook.ID,
			EventType:      eventType,
			RequestPayload: body,
			Status:         models.DeliveryStatusPending,
		}
		if err := t.store.Create(ctx, delivery); err != nil {
			// Best-effort per subscriber: log and keep fanning out.
			t.logger.Error("Failed to create delivery for subscriber",
				zap.String("webhook_id", webhook.ID.String()),
				zap.String("event_type", eventType),
				zap.Error(err),
			)
			continue
		}
		t.dispatcher.Enqueue(webhook, delivery)
	}

	t.logger.Info("Event fanned out",
		zap.String("event_type", eventType),
		zap.Int("subscriber_count", len(webhooks)),
	)
	return nil
}
