package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/bpmflow/webhook-svc/internal/config"
	"github.com/bpmflow/webhook-svc/internal/models"
)

// ErrNotFound is returned for unknown or soft-deleted webhook ids.
var ErrNotFound = errors.New("webhook not found")

// Registry is the CRUD store of webhook subscriptions.
type Registry struct {
	db       *gorm.DB
	logger   *zap.Logger
	defaults config.DeliveryConfig
}

func New(db *gorm.DB, logger *zap.Logger, defaults config.DeliveryConfig) *Registry {
	return &Registry{db: db, logger: logger, defaults: defaults}
}

// CreateInput carries the fields accepted on webhook creation. Name and URL
// are required; retry and transport fields fall back to configured defaults.
type CreateInput struct {
	Name             string   `json:"name"`
	URL              string   `json:"url"`
	Description      string   `json:"description"`
	SubscribedEvents []string `json:"subscribed_events"`
	Secret           string   `json:"secret"`
	TimeoutSeconds   *int     `json:"timeout_seconds"`
	MaxRetries       *int     `json:"max_retries"`
	RetryBaseDelayMs *int     `json:"retry_base_delay_ms"`
	HTTPMethod       string   `json:"http_method"`
	ContentType      string   `json:"content_type"`
}

// UpdateInput carries a partial update; nil fields are left untouched.
type UpdateInput struct {
	Name             *string   `json:"name"`
	URL              *string   `json:"url"`
	Description      *string   `json:"description"`
	SubscribedEvents *[]string `json:"subscribed_events"`
	Secret           *string   `json:"secret"`
	TimeoutSeconds   *int      `json:"timeout_seconds"`
	MaxRetries       *int      `json:"max_retries"`
	RetryBaseDelayMs *int      `json:"retry_base_delay_ms"`
	HTTPMethod       *string   `json:"http_method"`
	ContentType      *string   `json:"content_type"`
	Enabled          *bool     `json:"enabled"`
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid webhook url: %q", raw)
	}
	return nil
}

// Create validates the input, applies defaults and persists a new webhook.
// Webhooks are enabled on creation.
func (r *Registry) Create(ctx context.Context, in CreateInput) (*models.Webhook, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("webhook name is required")
	}
	if in.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}

	webhook := &models.Webhook{
		ID:               uuid.New(),
		Name:             in.Name,
		URL:              in.URL,
		Description:      in.Description,
		SubscribedEvents: datatypes.NewJSONSlice(dedupe(in.SubscribedEvents)),
		Secret:           in.Secret,
		TimeoutSeconds:   int(r.defaults.DefaultTimeout.Seconds()),
		MaxRetries:       r.defaults.DefaultMaxRetries,
		RetryBaseDelayMs: int(r.defaults.DefaultBaseDelay.Milliseconds()),
		HTTPMethod:       "POST",
		ContentType:      "application/json",
		Enabled:          true,
	}
	if in.TimeoutSeconds != nil && *in.TimeoutSeconds > 0 {
		webhook.TimeoutSeconds = *in.TimeoutSeconds
	}
	if in.MaxRetries != nil && *in.MaxRetries >= 0 {
		webhook.MaxRetries = *in.MaxRetries
	}
	if in.RetryBaseDelayMs != nil && *in.RetryBaseDelayMs > 0 {
		webhook.RetryBaseDelayMs = *in.RetryBaseDelayMs
	}
	if in.HTTPMethod != "" {
		webhook.HTTPMethod = in.HTTPMethod
	}
	if in.ContentType != "" {
		webhook.ContentType = in.ContentType
	}

	if err := r.db.WithContext(ctx).Create(webhook).Error; err != nil {
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}
	return webhook, nil
}

// GetByID returns a webhook, excluding soft-deleted rows.
func (r *Registry) GetByID(ctx context.Context, id uuid.UUID) (*models.Webhook, error) {
	var webhook models.Webhook
	err := r.db.WithContext(ctx).First(&webhook, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook: %w", err)
	}
	return &webhook, nil
}

// Update merges the non-nil fields of in into the webhook.
func (r *Registry) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*models.Webhook, error) {
	webhook, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.Name != nil {
		if *in.Name == "" {
			return nil, fmt.Errorf("webhook name cannot be empty")
		}
		updates["name"] = *in.Name
	}
	if in.URL != nil {
		if err := validateURL(*in.URL); err != nil {
			return nil, err
		}
		updates["url"] = *in.URL
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if in.SubscribedEvents != nil {
		updates["subscribed_events"] = datatypes.NewJSONSlice(dedupe(*in.SubscribedEvents))
	}
	if in.Secret != nil {
		updates["secret"] = *in.Secret
	}
	if in.TimeoutSeconds != nil && *in.TimeoutSeconds > 0 {
		updates["timeout_seconds"] = *in.TimeoutSeconds
	}
	if in.MaxRetries != nil && *in.MaxRetries >= 0 {
		updates["max_retries"] = *in.MaxRetries
	}
	if in.RetryBaseDelayMs != nil && *in.RetryBaseDelayMs > 0 {
		updates["retry_base_delay_ms"] = *in.RetryBaseDelayMs
	}
	if in.HTTPMethod != nil && *in.HTTPMethod != "" {
		updates["http_method"] = *in.HTTPMethod
	}
	if in.ContentType != nil && *in.ContentType != "" {
		updates["content_type"] = *in.ContentType
	}
	if in.Enabled != nil {
		updates["enabled"] = *in.Enabled
	}

	if len(updates) == 0 {
		return webhook, nil
	}
	updates["updated_at"] = time.Now().UTC()

	if err := r.db.WithContext(ctx).Model(webhook).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update webhook: %w", err)
	}
	return r.GetByID(ctx, id)
}

// SetEnabled flips the soft on/off switch.
func (r *Registry) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	res := r.db.WithContext(ctx).Model(&models.Webhook{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"enabled":    enabled,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update webhook: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete flags the webhook as deleted. Delivery history is untouched.
func (r *Registry) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&models.Webhook{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete webhook: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEnabled returns every enabled, non-deleted webhook.
func (r *Registry) ListEnabled(ctx context.Context) ([]models.Webhook, error) {
	var webhooks []models.Webhook
	err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&webhooks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled webhooks: %w", err)
	}
	return webhooks, nil
}

// ListSubscribed returns the enabled webhooks subscribed to eventType.
// Subscription matching happens in application code so the semantics are
// identical across postgres and the sqlite test databases.
func (r *Registry) ListSubscribed(ctx context.Context, eventType string) ([]models.Webhook, error) {
	enabled, err := r.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	subscribed := make([]models.Webhook, 0, len(enabled))
	for _, w := range enabled {
		if w.SubscribesTo(eventType) {
			subscribed = append(subscribed, w)
		}
	}
	return subscribed, nil
}

// SearchParams filters a paginated webhook listing.
type SearchParams struct {
	Keyword string // matched against name, description and url
	Enabled *bool
	Limit   int
	Offset  int
}

// Search returns a page of webhooks plus a has_more flag.
func (r *Registry) Search(ctx context.Context, params SearchParams) ([]models.Webhook, bool, error) {
	if params.Limit <= 0 {
		params.Limit = 25
	}

	query := r.db.WithContext(ctx).Model(&models.Webhook{})
	if params.Keyword != "" {
		kw := "%" + params.Keyword + "%"
		query = query.Where("name LIKE ? OR description LIKE ? OR url LIKE ?", kw, kw, kw)
	}
	if params.Enabled != nil {
		query = query.Where("enabled = ?", *params.Enabled)
	}

	var webhooks []models.Webhook
	err := query.Order("created_at DESC").
		Limit(params.Limit + 1). // fetch one extra to determine has_more
		Offset(params.Offset).
		Find(&webhooks).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to search webhooks: %w", err)
	}

	hasMore := len(webhooks) > params.Limit
	if hasMore {
		webhooks = webhooks[:params.Limit]
	}
	return webhooks, hasMore, nil
}

// RecordSuccess updates the rolling stats after a terminal SUCCESS. It never
// returns an error; a failed stats write is logged and swallowed so the
// delivery pipeline is not disturbed.
func (r *Registry) RecordSuccess(ctx context.Context, id uuid.UUID) {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&models.Webhook{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_success_at": now,
			"last_error":      nil,
			"updated_at":      now,
		}).Error
	if err != nil {
		r.logger.Error("Failed to record webhook success",
			zap.String("webhook_id", id.String()),
			zap.Error(err),
		)
	}
}

// RecordFailure updates the rolling stats after a terminal FAILED. Like
// RecordSuccess it never propagates persistence errors.
func (r *Registry) RecordFailure(ctx context.Context, id uuid.UUID, errorMessage string) {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&models.Webhook{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_failure_at": now,
			"last_error":      errorMessage,
			"updated_at":      now,
		}).Error
	if err != nil {
		r.logger.Error("Failed to record webhook failure",
			zap.String("webhook_id", id.String()),
			zap.Error(err),
		)
	}
}

func dedupe(events []string) []string {
	seen := make(map[string]struct{}, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
