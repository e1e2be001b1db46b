package deliverystore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bpmflow/webhook-svc/internal/models"
)

func testStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "deliveries.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Webhook{}, &models.Delivery{}))

	return New(db), db
}

func newDelivery(t *testing.T, s *Store, webhookID uuid.UUID, status string, nextRetryAt *time.Time) *models.Delivery {
	t.Helper()
	d := &models.Delivery{
		ID:             uuid.New(),
		WebhookID:      webhookID,
		EventType:      "task.completed",
		RequestPayload: []byte(`{"a":1}`),
		Status:         status,
		NextRetryAt:    nextRetryAt,
	}
	require.NoError(t, s.Create(context.Background(), d))
	return d
}

func TestCreateAndGet(t *testing.T) {
	s, _ := testStore(t)
	d := newDelivery(t, s, uuid.New(), models.DeliveryStatusPending, nil)

	got, err := s.GetByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, models.DeliveryStatusPending, got.Status)
	assert.JSONEq(t, `{"a":1}`, string(got.RequestPayload))

	_, err = s.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByWebhookPagination(t *testing.T) {
	s, _ := testStore(t)
	webhookID := uuid.New()
	otherID := uuid.New()

	for i := 0; i < 5; i++ {
		newDelivery(t, s, webhookID, models.DeliveryStatusSuccess, nil)
	}
	newDelivery(t, s, otherID, models.DeliveryStatusSuccess, nil)

	page, hasMore, err := s.ListByWebhook(context.Background(), webhookID, 3, 0)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.True(t, hasMore)

	page, hasMore, err = s.ListByWebhook(context.Background(), webhookID, 3, 3)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.False(t, hasMore)

	for _, d := range page {
		assert.Equal(t, webhookID, d.WebhookID)
	}
}

func TestListRecentWindow(t *testing.T) {
	s, db := testStore(t)
	webhookID := uuid.New()

	old := newDelivery(t, s, webhookID, models.DeliveryStatusSuccess, nil)
	require.NoError(t, db.Model(old).Update("created_at", time.Now().UTC().Add(-48*time.Hour)).Error)

	recent := newDelivery(t, s, webhookID, models.DeliveryStatusFailed, nil)

	since := time.Now().UTC().Add(-24 * time.Hour)
	until := time.Now().UTC().Add(time.Minute)

	got, err := s.ListRecent(context.Background(), since, until, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recent.ID, got[0].ID)
}

func TestListDueRetries(t *testing.T) {
	s, _ := testStore(t)
	webhookID := uuid.New()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := newDelivery(t, s, webhookID, models.DeliveryStatusRetryScheduled, &past)
	newDelivery(t, s, webhookID, models.DeliveryStatusRetryScheduled, &future)
	newDelivery(t, s, webhookID, models.DeliveryStatusPending, nil)
	newDelivery(t, s, webhookID, models.DeliveryStatusFailed, nil)

	got, err := s.ListDueRetries(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestClaimRetryIsAtomic(t *testing.T) {
	s, _ := testStore(t)
	webhookID := uuid.New()
	past := time.Now().UTC().Add(-time.Minute)

	d := newDelivery(t, s, webhookID, models.DeliveryStatusRetryScheduled, &past)

	ok, err := s.ClaimRetry(context.Background(), d.ID)
	require.NoError(t, err)
	assert.True(t, ok, "first claim wins")

	ok, err = s.ClaimRetry(context.Background(), d.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	got, err := s.GetByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusPending, got.Status)
	assert.Nil(t, got.NextRetryAt)
}

func TestClaimRetryIgnoresTerminal(t *testing.T) {
	s, _ := testStore(t)
	d := newDelivery(t, s, uuid.New(), models.DeliveryStatusSuccess, nil)

	ok, err := s.ClaimRetry(context.Background(), d.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
