package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpmflow/webhook-svc/internal/dispatcher"
	"github.com/bpmflow/webhook-svc/internal/registry"
)

// WebhooksHandler exposes webhook subscription management.
type WebhooksHandler struct {
	Registry   *registry.Registry
	Dispatcher *dispatcher.Dispatcher
	Logger     *zap.Logger
}

func NewWebhooksHandler(reg *registry.Registry, disp *dispatcher.Dispatcher, logger *zap.Logger) *WebhooksHandler {
	return &WebhooksHandler{
		Registry:   reg,
		Dispatcher: disp,
		Logger:     logger,
	}
}

// Create handles POST /webhooks
func (h *WebhooksHandler) Create(c *fiber.Ctx) error {
	var in registry.CreateInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	webhook, err := h.Registry.Create(c.Context(), in)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(webhook)
}

// Get handles GET /webhooks/:id
func (h *WebhooksHandler) Get(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return nil
	}

	webhook, err := h.Registry.GetByID(c.Context(), id)
	if err != nil {
		return h.registryError(c, err)
	}
	return c.JSON(webhook)
}

// List handles GET /webhooks with pagination and optional keyword/enabled filters
func (h *WebhooksHandler) List(c *fiber.Ctx) error {
	limit, offset, ok := parsePagination(c)
	if !ok {
		return nil
	}

	params := registry.SearchParams{
		Keyword: c.Query("q"),
		Limit:   limit,
		Offset:  offset,
	}
	if enabledStr := c.Query("enabled"); enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "enabled must be a boolean",
			})
		}
		params.Enabled = &enabled
	}

	webhooks, hasMore, err := h.Registry.Search(c.Context(), params)
	if err != nil {
		h.Logger.Error("Failed to search webhooks", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list webhooks",
		})
	}

	return c.JSON(fiber.Map{
		"webhooks": webhooks,
		"has_more": hasMore,
	})
}

// Update handles PUT /webhooks/:id with a partial field merge
func (h *WebhooksHandler) Update(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return nil
	}

	var in registry.UpdateInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	webhook, err := h.Registry.Update(c.Context(), id, in)
	if err != nil {
		return h.registryError(c, err)
	}
	return c.JSON(webhook)
}

// Enable handles POST /webhooks/:id/enable
func (h *WebhooksHandler) Enable(c *fiber.Ctx) error {
	return h.setEnabled(c, true)
}

// Disable handles POST /webhooks/:id/disable
func (h *WebhooksHandler) Disable(c *fiber.Ctx) error {
	return h.setEnabled(c, false)
}

func (h *WebhooksHandler) setEnabled(c *fiber.Ctx, enabled bool) error {
	id, ok := parseID(c)
	if !ok {
		return nil
	}
	if err := h.Registry.SetEnabled(c.Context(), id, enabled); err != nil {
		return h.registryError(c, err)
	}
	return c.JSON(fiber.Map{"enabled": enabled})
}

// Delete handles DELETE /webhooks/:id (soft delete)
func (h *WebhooksHandler) Delete(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return nil
	}
	if err := h.Registry.SoftDelete(c.Context(), id); err != nil {
		return h.registryError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Test handles POST /webhooks/:id/test. The test delivery runs through the
// normal dispatch path and is recorded in delivery history; it works on
// disabled webhooks too.
func (h *WebhooksHandler) Test(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return nil
	}

	delivery, err := h.Dispatcher.Test(c.Context(), id)
	if err != nil {
		return h.registryError(c, err)
	}
	return c.JSON(delivery)
}

func (h *WebhooksHandler) registryError(c *fiber.Ctx, err error) error {
	if errors.Is(err, registry.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "webhook not found",
		})
	}
	h.Logger.Error("Webhook operation failed", zap.Error(err))
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// parseID extracts the :id path parameter. On a malformed id the 400
// response is already written and ok is false.
func parseID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid webhook id",
		})
		return uuid.Nil, false
	}
	return id, true
}

func parsePagination(c *fiber.Ctx) (limit, offset int, ok bool) {
	limit = 25
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
			return 0, 0, false
		}
		limit = parsed
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil || parsed < 0 {
			_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "offset must be a non-negative integer",
			})
			return 0, 0, false
		}
		offset = parsed
	}

	return limit, offset, true
}
