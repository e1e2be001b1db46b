package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bpmflow/webhook-svc/internal/deliverystore"
)

// DeliveriesHandler exposes the delivery audit trail.
type DeliveriesHandler struct {
	Store  *deliverystore.Store
	Logger *zap.Logger
}

func NewDeliveriesHandler(store *deliverystore.Store, logger *zap.Logger) *DeliveriesHandler {
	return &DeliveriesHandler{Store: store, Logger: logger}
}

// ListByWebhook handles GET /webhooks/:id/deliveries. History remains
// queryable for disabled and soft-deleted webhooks.
func (h *DeliveriesHandler) ListByWebhook(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return nil
	}
	limit, offset, ok := parsePagination(c)
	if !ok {
		return nil
	}

	deliveries, hasMore, err := h.Store.ListByWebhook(c.Context(), id, limit, offset)
	if err != nil {
		h.Logger.Error("Failed to list deliveries",
			zap.String("webhook_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list deliveries",
		})
	}

	return c.JSON(fiber.Map{
		"deliveries": deliveries,
		"has_more":   hasMore,
	})
}

// ListRecent handles GET /deliveries/recent with an optional time window.
// Defaults to the last 24 hours.
func (h *DeliveriesHandler) ListRecent(c *fiber.Ctx) error {
	until := time.Now().UTC()
	since := until.Add(-24 * time.Hour)

	if sinceStr := c.Query("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "since must be an RFC3339 timestamp",
			})
		}
		since = parsed
	}
	if untilStr := c.Query("until"); untilStr != "" {
		parsed, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "until must be an RFC3339 timestamp",
			})
		}
		until = parsed
	}
	if until.Before(since) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "until must not precede since",
		})
	}

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsed
	}

	deliveries, err := h.Store.ListRecent(c.Context(), since, until, limit)
	if err != nil {
		h.Logger.Error("Failed to list recent deliveries", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list recent deliveries",
		})
	}

	return c.JSON(fiber.Map{
		"deliveries": deliveries,
		"since":      since.Format(time.RFC3339),
		"until":      until.Format(time.RFC3339),
	})
}
