package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/bpmflow/webhook-svc/internal/config"
	"github.com/bpmflow/webhook-svc/internal/rabbitmq"
	"github.com/bpmflow/webhook-svc/internal/trigger"
)

// EventMessage is the envelope BPM domain services publish to the source
// queue when a lifecycle event occurs.
type EventMessage struct {
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
}

// Consumer feeds domain events from the source queue into the trigger
// facade. It is the AMQP flavor of the trigger entry point; the HTTP flavor
// lives in the handlers package.
type Consumer struct {
	cfg         *config.RabbitMQConfig
	conn        *rabbitmq.Connection
	trigger     *trigger.Trigger
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	consumerTag string
	started     bool
}

func New(cfg *config.RabbitMQConfig, conn *rabbitmq.Connection, trig *trigger.Trigger, logger *zap.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		cfg:         cfg,
		conn:        conn,
		trigger:     trig,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		consumerTag: fmt.Sprintf("webhook-events-%d", time.Now().Unix()),
	}
}

// Start begins consuming from the source queue. The queue is expected to
// exist already.
func (c *Consumer) Start() error {
	if c.cfg.SourceQueue == "" {
		return fmt.Errorf("source queue is required")
	}

	if err := c.conn.SetQoS(16, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := c.startConsuming(); err != nil {
		return err
	}

	c.started = true
	c.logger.Info("Event consumer started",
		zap.String("source_queue", c.cfg.SourceQueue),
		zap.String("consumer_tag", c.consumerTag),
	)
	return nil
}

func (c *Consumer) startConsuming() error {
	messages, err := c.conn.ConsumeMessages(
		c.cfg.SourceQueue,
		c.consumerTag,
		false, // autoAck (we manually ACK)
		false, // exclusive
		false, // noLocal
		false, // noWait
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", c.cfg.SourceQueue, err)
	}

	go c.processMessages(messages)
	return nil
}

// Stop gracefully stops the consumer.
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping event consumer",
		zap.String("consumer_tag", c.consumerTag),
	)
	c.cancel()

	if ch := c.conn.GetChannel(); ch != nil {
		if err := ch.Cancel(c.consumerTag, false); err != nil {
			c.logger.Error("Failed to cancel consumer",
				zap.String("consumer_tag", c.consumerTag),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (c *Consumer) processMessages(messages <-chan amqp.Delivery) {
	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("Consumer context cancelled, stopping message processing")
			return
		case msg, ok := <-messages:
			if !ok {
				c.logger.Warn("Message channel closed, attempting to restart consumer...",
					zap.String("source_queue", c.cfg.SourceQueue),
				)
				// Keep retrying until the connection recovers or we
				// are told to stop.
				for c.started {
					select {
					case <-c.ctx.Done():
						return
					default:
					}

					time.Sleep(2 * time.Second)
					if !c.conn.IsHealthy() {
						continue
					}
					if err := c.startConsuming(); err != nil {
						c.logger.Error("Failed to restart consuming after channel close, will retry",
							zap.String("source_queue", c.cfg.SourceQueue),
							zap.Error(err),
						)
						time.Sleep(5 * time.Second)
						continue
					}
					// A replacement goroutine took over.
					return
				}
				return
			}
			c.handleMessage(msg)
		}
	}
}

// handleMessage decodes one event envelope and fans it out. Malformed
// messages are rejected without requeue; fan-out errors NACK with requeue so
// the event is not lost while the registry is unavailable.
func (c *Consumer) handleMessage(msg amqp.Delivery) {
	var event EventMessage
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error("Failed to unmarshal event message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		c.reject(msg, false)
		return
	}
	if event.EventType == "" {
		c.logger.Error("Event message missing event_type",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
		)
		c.reject(msg, false)
		return
	}

	if err := c.trigger.Trigger(c.ctx, event.EventType, event.Payload); err != nil {
		c.logger.Error("Failed to fan out event, requeueing",
			zap.String("event_type", event.EventType),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		c.reject(msg, true)
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}

func (c *Consumer) reject(msg amqp.Delivery, requeue bool) {
	if err := msg.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to nack message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}
