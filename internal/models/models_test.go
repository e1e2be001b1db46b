package models

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// The schema must migrate cleanly on sqlite, which the test fixtures across
// the repo rely on, and gorm must fill the timestamp columns itself.
func TestAutoMigrateSqlite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "models.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Webhook{}, &Delivery{}))

	webhook := &Webhook{
		ID:   uuid.New(),
		Name: "target",
		URL:  "https://example.com/hook",
	}
	require.NoError(t, db.Create(webhook).Error)
	assert.False(t, webhook.CreatedAt.IsZero())
	assert.False(t, webhook.UpdatedAt.IsZero())

	delivery := &Delivery{
		ID:        uuid.New(),
		WebhookID: webhook.ID,
		EventType: "task.completed",
		Status:    DeliveryStatusPending,
	}
	require.NoError(t, db.Create(delivery).Error)
	assert.False(t, delivery.CreatedAt.IsZero())
}

func TestWebhookSubscribesTo(t *testing.T) {
	webhook := Webhook{SubscribedEvents: []string{"task.completed", "task.created"}}
	assert.True(t, webhook.SubscribesTo("task.completed"))
	assert.False(t, webhook.SubscribesTo("process.started"))

	empty := Webhook{}
	assert.False(t, empty.SubscribesTo("task.completed"), "an empty event set matches nothing")
}

func TestWebhookDurations(t *testing.T) {
	webhook := Webhook{TimeoutSeconds: 10, RetryBaseDelayMs: 250}
	assert.Equal(t, 10*time.Second, webhook.Timeout())
	assert.Equal(t, 250*time.Millisecond, webhook.RetryBaseDelay())
}

func TestDeliveryTerminal(t *testing.T) {
	for status, terminal := range map[string]bool{
		DeliveryStatusPending:        false,
		DeliveryStatusRetryScheduled: false,
		DeliveryStatusSuccess:        true,
		DeliveryStatusFailed:         true,
	} {
		d := Delivery{Status: status}
		assert.Equal(t, terminal, d.Terminal(), status)
	}
}
