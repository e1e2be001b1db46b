package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bpmflow/webhook-svc/internal/deliverystore"
	"github.com/bpmflow/webhook-svc/internal/dispatcher"
	"github.com/bpmflow/webhook-svc/internal/metrics"
	"github.com/bpmflow/webhook-svc/internal/models"
	"github.com/bpmflow/webhook-svc/internal/registry"
)

// Scheduler re-attempts deliveries whose scheduled retry time has elapsed.
// The sweep cadence is owned by the caller (a cron entry in main); the
// scheduler only implements one pass.
type Scheduler struct {
	store      *deliverystore.Store
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	batchSize  int
}

func New(
	store *deliverystore.Store,
	reg *registry.Registry,
	disp *dispatcher.Dispatcher,
	m *metrics.Metrics,
	logger *zap.Logger,
	batchSize int,
) *Scheduler {
	return &Scheduler{
		store:      store,
		registry:   reg,
		dispatcher: disp,
		metrics:    m,
		logger:     logger,
		batchSize:  batchSize,
	}
}

// Sweep claims every due RETRY_SCHEDULED delivery and re-enqueues it.
// Claiming is a conditional status update, so overlapping sweeps are safe:
// for any delivery at most one sweep wins the claim and the others skip it.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) error {
	due, err := s.store.ListDueRetries(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to query due retries: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	claimed := 0
	for i := range due {
		delivery := &due[i]

		ok, err := s.store.ClaimRetry(ctx, delivery.ID)
		if err != nil {
			s.logger.Error("Failed to claim delivery for retry",
				zap.String("delivery_id", delivery.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			// Another sweep got there first.
			continue
		}
		delivery.Status = models.DeliveryStatusPending
		delivery.NextRetryAt = nil

		webhook, err := s.registry.GetByID(ctx, delivery.WebhookID)
		if err != nil {
			// Webhook gone or soft-deleted since the retry was
			// scheduled; the delivery stays PENDING and is not
			// re-attempted.
			s.logger.Warn("Skipping retry for missing webhook",
				zap.String("delivery_id", delivery.ID.String()),
				zap.String("webhook_id", delivery.WebhookID.String()),
				zap.Error(err),
			)
			continue
		}

		claimed++
		s.metrics.RetriesSwept.Inc()
		s.dispatcher.Enqueue(*webhook, delivery)
	}

	s.logger.Info("Retry sweep completed",
		zap.Int("due", len(due)),
		zap.Int("claimed", claimed),
	)
	return nil
}
