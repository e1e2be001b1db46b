package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bpmflow/webhook-svc/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(
	app *fiber.App,
	healthHandler *handlers.HealthHandler,
	webhooksHandler *handlers.WebhooksHandler,
	deliveriesHandler *handlers.DeliveriesHandler,
	eventsHandler *handlers.EventsHandler,
	promRegistry *prometheus.Registry,
) {
	app.Get("/health", healthHandler.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(
		promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
	))

	api := app.Group("/api/v1")

	api.Post("/webhooks", webhooksHandler.Create)
	api.Get("/webhooks", webhooksHandler.List)
	api.Get("/webhooks/:id", webhooksHandler.Get)
	api.Put("/webhooks/:id", webhooksHandler.Update)
	api.Delete("/webhooks/:id", webhooksHandler.Delete)
	api.Post("/webhooks/:id/enable", webhooksHandler.Enable)
	api.Post("/webhooks/:id/disable", webhooksHandler.Disable)
	api.Post("/webhooks/:id/test", webhooksHandler.Test)
	api.Get("/webhooks/:id/deliveries", deliveriesHandler.ListByWebhook)

	api.Get("/deliveries/recent", deliveriesHandler.ListRecent)

	api.Post("/events", eventsHandler.HandleTrigger)
}
