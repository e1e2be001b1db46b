package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Webhook is a registered subscriber endpoint. Soft-deleted rows are kept so
// that historical deliveries stay resolvable by webhook id.
type Webhook struct {
	ID               uuid.UUID                   `gorm:"type:uuid;primary_key" json:"id"`
	Name             string                      `gorm:"not null" json:"name"`
	URL              string                      `gorm:"not null" json:"url"`
	Description      string                      `json:"description"`
	SubscribedEvents datatypes.JSONSlice[string] `json:"subscribed_events"`
	Secret           string                      `json:"-"` // HMAC key, empty disables signing
	TimeoutSeconds   int                         `gorm:"not null;default:30" json:"timeout_seconds"`
	MaxRetries       int                         `gorm:"not null;default:3" json:"max_retries"`
	RetryBaseDelayMs int                         `gorm:"not null;default:1000" json:"retry_base_delay_ms"`
	HTTPMethod       string                      `gorm:"not null;default:'POST'" json:"http_method"`
	ContentType      string                      `gorm:"not null;default:'application/json'" json:"content_type"`
	Enabled          bool                        `gorm:"not null;default:true" json:"enabled"`
	LastSuccessAt    *time.Time                  `json:"last_success_at"`
	LastFailureAt    *time.Time                  `json:"last_failure_at"`
	LastError        *string                     `json:"last_error"`
	CreatedAt        time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time                   `gorm:"not null" json:"updated_at"`
	DeletedAt        gorm.DeletedAt              `gorm:"index" json:"-"`
}

func (Webhook) TableName() string {
	return "webhooks"
}

// Timeout is the per-attempt HTTP timeout.
func (w *Webhook) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// RetryBaseDelay is the base delay for exponential backoff.
func (w *Webhook) RetryBaseDelay() time.Duration {
	return time.Duration(w.RetryBaseDelayMs) * time.Millisecond
}

// SubscribesTo reports whether the webhook is subscribed to the event type.
// An empty subscription set matches nothing.
func (w *Webhook) SubscribesTo(eventType string) bool {
	for _, e := range w.SubscribedEvents {
		if e == eventType {
			return true
		}
	}
	return false
}
