package deliverystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bpmflow/webhook-svc/internal/models"
)

// ErrNotFound is returned for unknown delivery ids.
var ErrNotFound = errors.New("delivery not found")

// Store is the durable log of delivery attempts. Every write is a single-row
// create or update keyed by delivery id; no multi-row transaction spans a
// delivery cycle.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create persists a fresh PENDING delivery.
func (s *Store) Create(ctx context.Context, delivery *models.Delivery) error {
	if err := s.db.WithContext(ctx).Create(delivery).Error; err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	return nil
}

// Update persists the delivery's current state after an attempt.
func (s *Store) Update(ctx context.Context, delivery *models.Delivery) error {
	delivery.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(delivery).Error; err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery
	err := s.db.WithContext(ctx).First(&delivery, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery: %w", err)
	}
	return &delivery, nil
}

// ListByWebhook returns a page of deliveries for one webhook, newest first,
// plus a has_more flag. Soft-deleted webhooks keep their history queryable.
func (s *Store) ListByWebhook(ctx context.Context, webhookID uuid.UUID, limit, offset int) ([]models.Delivery, bool, error) {
	if limit <= 0 {
		limit = 25
	}

	var deliveries []models.Delivery
	err := s.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Order("created_at DESC").
		Limit(limit + 1).
		Offset(offset).
		Find(&deliveries).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to list deliveries: %w", err)
	}

	hasMore := len(deliveries) > limit
	if hasMore {
		deliveries = deliveries[:limit]
	}
	return deliveries, hasMore, nil
}

// ListRecent returns deliveries created inside the [since, until] window,
// newest first.
func (s *Store) ListRecent(ctx context.Context, since, until time.Time, limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 100
	}

	var deliveries []models.Delivery
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at <= ?", since, until).
		Order("created_at DESC").
		Limit(limit).
		Find(&deliveries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent deliveries: %w", err)
	}
	return deliveries, nil
}

// ListDueRetries returns deliveries whose scheduled retry time has elapsed.
func (s *Store) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 100
	}

	var deliveries []models.Delivery
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", models.DeliveryStatusRetryScheduled, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&deliveries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due retries: %w", err)
	}
	return deliveries, nil
}

// ClaimRetry atomically moves a RETRY_SCHEDULED delivery back to PENDING.
// The conditional update is the claim: when two sweeps race on the same
// delivery only one sees an affected row, so a delivery is never attempted
// twice for the same scheduled retry.
func (s *Store) ClaimRetry(ctx context.Context, id uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Delivery{}).
		Where("id = ? AND status = ?", id, models.DeliveryStatusRetryScheduled).
		Updates(map[string]interface{}{
			"status":        models.DeliveryStatusPending,
			"next_retry_at": nil,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim delivery: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
