package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Delivery status values. SUCCESS and FAILED are terminal.
const (
	DeliveryStatusPending        = "PENDING"
	DeliveryStatusSuccess        = "SUCCESS"
	DeliveryStatusFailed         = "FAILED"
	DeliveryStatusRetryScheduled = "RETRY_SCHEDULED"
)

// Delivery is one attempt-sequence of sending a single event occurrence to a
// single webhook, spanning all of its retries. RequestPayload is serialized
// once at creation and reused byte-identically on every retry.
type Delivery struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	WebhookID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"webhook_id"`
	Webhook            Webhook        `gorm:"foreignKey:WebhookID" json:"-"`
	EventType          string         `gorm:"not null" json:"event_type"`
	RequestPayload     datatypes.JSON `json:"request_payload"`
	Status             string         `gorm:"not null;default:'PENDING';index" json:"status"`
	ResponseStatusCode *int           `json:"response_status_code"`
	ResponseBody       *string        `gorm:"type:text" json:"response_body"`
	ErrorMessage       *string        `json:"error_message"`
	RetryCount         int            `gorm:"not null;default:0" json:"retry_count"`
	NextRetryAt        *time.Time     `gorm:"index" json:"next_retry_at"`
	DurationMs         int64          `json:"duration_ms"`
	CreatedAt          time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null" json:"updated_at"`
}

func (Delivery) TableName() string {
	return "deliveries"
}

// Terminal reports whether the delivery reached a final state.
func (d *Delivery) Terminal() bool {
	return d.Status == DeliveryStatusSuccess || d.Status == DeliveryStatusFailed
}
