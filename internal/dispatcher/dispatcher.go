package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpmflow/webhook-svc/internal/config"
	"github.com/bpmflow/webhook-svc/internal/deliverystore"
	"github.com/bpmflow/webhook-svc/internal/metrics"
	"github.com/bpmflow/webhook-svc/internal/models"
	"github.com/bpmflow/webhook-svc/internal/registry"
	"github.com/bpmflow/webhook-svc/internal/signer"
	"github.com/bpmflow/webhook-svc/internal/transport"
)

// Dispatcher performs delivery attempt cycles. Asynchronous work goes
// through a bounded worker pool; Dispatch itself is synchronous and performs
// exactly one attempt.
type Dispatcher struct {
	cfg      config.DeliveryConfig
	store    *deliverystore.Store
	registry *registry.Registry
	client   *transport.Client
	metrics  *metrics.Metrics
	logger   *zap.Logger

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type job struct {
	webhook  models.Webhook
	delivery *models.Delivery
}

// maxBackoffShift bounds the retry backoff at base * 2^16.
const maxBackoffShift = 16

func New(
	cfg config.DeliveryConfig,
	store *deliverystore.Store,
	reg *registry.Registry,
	client *transport.Client,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:      cfg,
		store:    store,
		registry: reg,
		client:   client,
		metrics:  m,
		logger:   logger,
		jobs:     make(chan job, cfg.QueueCapacity),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() error {
	if d.cfg.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive")
	}

	workerDone := make(chan struct{}, d.cfg.WorkerCount)
	for i := 0; i < d.cfg.WorkerCount; i++ {
		go func() {
			defer func() { workerDone <- struct{}{} }()
			d.worker()
		}()
	}
	go func() {
		for i := 0; i < d.cfg.WorkerCount; i++ {
			<-workerDone
		}
		close(d.done)
	}()

	d.logger.Info("Dispatcher started",
		zap.Int("worker_count", d.cfg.WorkerCount),
		zap.Int("queue_capacity", d.cfg.QueueCapacity),
	)
	return nil
}

// Stop cancels in-flight context and waits for the workers to exit. Jobs
// still buffered in the queue are parked as RETRY_SCHEDULED so the sweeper
// picks them up on the next start; otherwise they would sit PENDING forever.
func (d *Dispatcher) Stop() error {
	d.cancel()
	<-d.done

	parked := 0
	for {
		select {
		case j := <-d.jobs:
			d.park(j.webhook, j.delivery)
			parked++
		default:
			d.logger.Info("Dispatcher stopped", zap.Int("parked", parked))
			return nil
		}
	}
}

func (d *Dispatcher) worker() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case j := <-d.jobs:
			d.metrics.QueueDepth.Set(float64(len(d.jobs)))
			d.Dispatch(d.ctx, &j.webhook, j.delivery)
		}
	}
}

// Enqueue submits one attempt cycle to the worker pool without blocking the
// caller. When the queue is saturated the delivery is parked as
// RETRY_SCHEDULED at now plus the webhook's base delay, without consuming a
// retry, so the sweeper recovers it once the storm passes.
func (d *Dispatcher) Enqueue(webhook models.Webhook, delivery *models.Delivery) {
	select {
	case d.jobs <- job{webhook: webhook, delivery: delivery}:
		d.metrics.QueueDepth.Set(float64(len(d.jobs)))
	default:
		d.park(webhook, delivery)
	}
}

// park reschedules a delivery that cannot be worked right now, either
// because the queue is saturated or the pool is shutting down. Parking does
// not consume a retry.
func (d *Dispatcher) park(webhook models.Webhook, delivery *models.Delivery) {
	next := time.Now().UTC().Add(webhook.RetryBaseDelay())
	delivery.Status = models.DeliveryStatusRetryScheduled
	delivery.NextRetryAt = &next
	if err := d.store.Update(context.Background(), delivery); err != nil {
		d.logger.Error("Failed to park delivery",
			zap.String("delivery_id", delivery.ID.String()),
			zap.Error(err),
		)
		return
	}
	d.logger.Warn("Delivery parked for sweep",
		zap.String("delivery_id", delivery.ID.String()),
		zap.String("webhook_id", webhook.ID.String()),
		zap.Time("next_retry_at", next),
	)
}

// Dispatch performs one attempt cycle: send the stored payload, classify the
// outcome (2xx is success, everything else fails identically), transition
// the delivery state and persist the record. Terminal outcomes additionally
// update the webhook's rolling stats.
func (d *Dispatcher) Dispatch(ctx context.Context, webhook *models.Webhook, delivery *models.Delivery) {
	if delivery.Terminal() {
		return
	}

	signature := ""
	if webhook.Secret != "" {
		signature = signer.Sign(delivery.RequestPayload, webhook.Secret)
	}

	resp, elapsed, err := d.client.Send(ctx, transport.Request{
		URL:         webhook.URL,
		Method:      webhook.HTTPMethod,
		ContentType: webhook.ContentType,
		EventType:   delivery.EventType,
		Signature:   signature,
		Body:        delivery.RequestPayload,
		Timeout:     webhook.Timeout(),
	})

	delivery.DurationMs = elapsed.Milliseconds()
	d.metrics.AttemptDuration.Observe(elapsed.Seconds())

	if err == nil {
		code := resp.StatusCode
		body := resp.Body
		delivery.ResponseStatusCode = &code
		delivery.ResponseBody = &body
	}

	if err == nil && transport.IsSuccess(resp.StatusCode) {
		delivery.Status = models.DeliveryStatusSuccess
		delivery.ErrorMessage = nil
		delivery.NextRetryAt = nil
		d.persist(ctx, delivery)
		d.registry.RecordSuccess(ctx, webhook.ID)
		d.metrics.AttemptsTotal.WithLabelValues("success").Inc()
		d.metrics.DeliveriesTotal.WithLabelValues(models.DeliveryStatusSuccess).Inc()
		d.logger.Info("Webhook delivery succeeded",
			zap.String("delivery_id", delivery.ID.String()),
			zap.String("webhook_id", webhook.ID.String()),
			zap.Int("http_status", resp.StatusCode),
			zap.Int64("duration_ms", delivery.DurationMs),
		)
		return
	}

	var errMsg string
	if err != nil {
		errMsg = err.Error()
	} else {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	delivery.ErrorMessage = &errMsg

	if delivery.RetryCount < webhook.MaxRetries {
		// delay = base * 2^retries-used, so the first retry waits the
		// base delay, the second twice that, and so on. The exponent is
		// capped so an extreme max_retries cannot overflow the shift
		// into a negative delay.
		exp := delivery.RetryCount
		if exp > maxBackoffShift {
			exp = maxBackoffShift
		}
		delay := webhook.RetryBaseDelay() * time.Duration(1<<exp)
		delivery.RetryCount++
		next := time.Now().UTC().Add(delay)
		delivery.NextRetryAt = &next
		delivery.Status = models.DeliveryStatusRetryScheduled
		d.persist(ctx, delivery)
		d.metrics.AttemptsTotal.WithLabelValues("retry").Inc()
		d.logger.Info("Webhook delivery will be retried",
			zap.String("delivery_id", delivery.ID.String()),
			zap.String("webhook_id", webhook.ID.String()),
			zap.Int("retry_count", delivery.RetryCount),
			zap.Time("next_retry_at", next),
			zap.String("error", errMsg),
		)
		return
	}

	delivery.Status = models.DeliveryStatusFailed
	delivery.NextRetryAt = nil
	d.persist(ctx, delivery)
	d.registry.RecordFailure(ctx, webhook.ID, errMsg)
	d.metrics.AttemptsTotal.WithLabelValues("failure").Inc()
	d.metrics.DeliveriesTotal.WithLabelValues(models.DeliveryStatusFailed).Inc()
	d.logger.Warn("Webhook delivery failed, retries exhausted",
		zap.String("delivery_id", delivery.ID.String()),
		zap.String("webhook_id", webhook.ID.String()),
		zap.Int("retry_count", delivery.RetryCount),
		zap.String("error", errMsg),
	)
}

// persist writes the delivery after an attempt. A persistence failure is
// logged and swallowed: the attempt happened, and losing one audit row must
// not take the pipeline down.
func (d *Dispatcher) persist(ctx context.Context, delivery *models.Delivery) {
	if err := d.store.Update(ctx, delivery); err != nil {
		d.logger.Error("Failed to persist delivery outcome",
			zap.String("delivery_id", delivery.ID.String()),
			zap.String("status", delivery.Status),
			zap.Error(err),
		)
	}
}

// Test sends a synthetic webhook.test event through the normal dispatch
// path, bypassing the enabled filter used by event fan-out. The resulting
// delivery is recorded in history like any other.
func (d *Dispatcher) Test(ctx context.Context, webhookID uuid.UUID) (*models.Delivery, error) {
	webhook, err := d.registry.GetByID(ctx, webhookID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"event":     "webhook.test",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"message":   "This is a test delivery from the webhook service",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal test payload: %w", err)
	}

	delivery := &models.Delivery{
		ID:             uuid.New(),
		WebhookID:      webhook.ID,
		EventType:      "webhook.test",
		RequestPayload: payload,
		Status:         models.DeliveryStatusPending,
	}
	if err := d.store.Create(ctx, delivery); err != nil {
		return nil, err
	}

	d.Dispatch(ctx, webhook, delivery)
	return delivery, nil
}
