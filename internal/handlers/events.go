package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bpmflow/webhook-svc/internal/trigger"
)

// EventsHandler is the HTTP flavor of the trigger entry point, used by
// domain services that are not on the message bus.
type EventsHandler struct {
	Trigger *trigger.Trigger
	Logger  *zap.Logger
}

func NewEventsHandler(trig *trigger.Trigger, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{Trigger: trig, Logger: logger}
}

type triggerRequest struct {
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
}

// HandleTrigger handles POST /events. Fan-out is fire-and-forget: a 202
// means the event was accepted, not that any delivery succeeded.
func (h *EventsHandler) HandleTrigger(c *fiber.Ctx) error {
	var req triggerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.EventType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "event_type is required",
		})
	}

	if err := h.Trigger.Trigger(c.Context(), req.EventType, req.Payload); err != nil {
		h.Logger.Error("Failed to trigger event",
			zap.String("event_type", req.EventType),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to trigger event",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "accepted",
	})
}
