package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bpmflow/webhook-svc/internal/config"
	"github.com/bpmflow/webhook-svc/internal/deliverystore"
	"github.com/bpmflow/webhook-svc/internal/dispatcher"
	"github.com/bpmflow/webhook-svc/internal/metrics"
	"github.com/bpmflow/webhook-svc/internal/models"
	"github.com/bpmflow/webhook-svc/internal/registry"
	"github.com/bpmflow/webhook-svc/internal/transport"
)

type fixture struct {
	scheduler  *Scheduler
	dispatcher *dispatcher.Dispatcher
	registry   *registry.Registry
	store      *deliverystore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "scheduler.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Webhook{}, &models.Delivery{}))

	cfg := config.DeliveryConfig{
		DefaultTimeout:    30 * time.Second,
		DefaultMaxRetries: 3,
		DefaultBaseDelay:  time.Second,
		WorkerCount:       2,
		QueueCapacity:     16,
		MaxResponseBytes:  4096,
		UserAgent:         "bpmflow-webhooks/1.0",
	}

	reg := registry.New(db, zap.NewNop(), cfg)
	store := deliverystore.New(db)
	client := transport.NewClient(http.DefaultClient, cfg.UserAgent, cfg.MaxResponseBytes)
	m := metrics.New(prometheus.NewRegistry())
	disp := dispatcher.New(cfg, store, reg, client, m, zap.NewNop())

	require.NoError(t, disp.Start())
	t.Cleanup(func() { _ = disp.Stop() })

	return &fixture{
		scheduler:  New(store, reg, disp, m, zap.NewNop(), 100),
		dispatcher: disp,
		registry:   reg,
		store:      store,
	}
}

func (f *fixture) createWebhook(t *testing.T, url string) *models.Webhook {
	t.Helper()
	webhook, err := f.registry.Create(context.Background(), registry.CreateInput{
		Name:             "retry-target",
		URL:              url,
		SubscribedEvents: []string{"task.completed"},
	})
	require.NoError(t, err)
	return webhook
}

func (f *fixture) scheduleRetry(t *testing.T, webhookID uuid.UUID, due time.Time) *models.Delivery {
	t.Helper()
	d := &models.Delivery{
		ID:             uuid.New(),
		WebhookID:      webhookID,
		EventType:      "task.completed",
		RequestPayload: []byte(`{"a":1}`),
		Status:         models.DeliveryStatusRetryScheduled,
		RetryCount:     1,
		NextRetryAt:    &due,
	}
	require.NoError(t, f.store.Create(context.Background(), d))
	return d
}

func TestSweepDispatchesDueRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t)
	webhook := f.createWebhook(t, server.URL)
	now := time.Now().UTC()
	due := f.scheduleRetry(t, webhook.ID, now.Add(-time.Minute))
	notDue := f.scheduleRetry(t, webhook.ID, now.Add(time.Hour))

	require.NoError(t, f.scheduler.Sweep(context.Background(), now))

	assert.Eventually(t, func() bool {
		d, err := f.store.GetByID(context.Background(), due.ID)
		return err == nil && d.Status == models.DeliveryStatusSuccess
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, int32(1), hits.Load())

	untouched, err := f.store.GetByID(context.Background(), notDue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusRetryScheduled, untouched.Status)
}

// Two sweeps over the same due set must not double-deliver: the claim is a
// conditional status update and only one sweep wins it per delivery.
func TestConcurrentSweepsDeliverOnce(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t)
	webhook := f.createWebhook(t, server.URL)
	now := time.Now().UTC()
	due := f.scheduleRetry(t, webhook.ID, now.Add(-time.Minute))

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- f.scheduler.Sweep(context.Background(), now)
		}()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.Eventually(t, func() bool {
		d, err := f.store.GetByID(context.Background(), due.ID)
		return err == nil && d.Status == models.DeliveryStatusSuccess
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, int32(1), hits.Load(), "a delivery is attempted at most once per due window")
}

func TestSweepSkipsDeletedWebhooks(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t)
	webhook := f.createWebhook(t, server.URL)
	now := time.Now().UTC()
	orphaned := f.scheduleRetry(t, webhook.ID, now.Add(-time.Minute))
	require.NoError(t, f.registry.SoftDelete(context.Background(), webhook.ID))

	require.NoError(t, f.scheduler.Sweep(context.Background(), now))

	// Give any stray dispatch a moment to surface before asserting.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), hits.Load())

	d, err := f.store.GetByID(context.Background(), orphaned.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusPending, d.Status, "claimed but never re-attempted")
}

func TestSweepWithNothingDue(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.scheduler.Sweep(context.Background(), time.Now().UTC()))
}
