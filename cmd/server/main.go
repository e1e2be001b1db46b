package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bpmflow/webhook-svc/internal/config"
	"github.com/bpmflow/webhook-svc/internal/consumer"
	"github.com/bpmflow/webhook-svc/internal/database"
	"github.com/bpmflow/webhook-svc/internal/deliverystore"
	"github.com/bpmflow/webhook-svc/internal/dispatcher"
	"github.com/bpmflow/webhook-svc/internal/handlers"
	"github.com/bpmflow/webhook-svc/internal/logger"
	"github.com/bpmflow/webhook-svc/internal/metrics"
	"github.com/bpmflow/webhook-svc/internal/rabbitmq"
	"github.com/bpmflow/webhook-svc/internal/registry"
	"github.com/bpmflow/webhook-svc/internal/routes"
	"github.com/bpmflow/webhook-svc/internal/scheduler"
	"github.com/bpmflow/webhook-svc/internal/transport"
	"github.com/bpmflow/webhook-svc/internal/trigger"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	if err := database.RunMigrations(&cfg.Database, log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	rmq := rabbitmq.NewConnection(&cfg.RabbitMQ, log)
	if err := rmq.Connect(); err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rmq.Close()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promRegistry)

	// Shared HTTP client: the connection pool is reused across all
	// deliveries, per-attempt timeouts come from webhook configuration.
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	client := transport.NewClient(httpClient, cfg.Delivery.UserAgent, cfg.Delivery.MaxResponseBytes)

	reg := registry.New(db, log, cfg.Delivery)
	store := deliverystore.New(db)

	disp := dispatcher.New(cfg.Delivery, store, reg, client, m, log)
	if err := disp.Start(); err != nil {
		log.Fatal("Failed to start dispatcher", zap.Error(err))
	}

	trig := trigger.New(reg, store, disp, log)

	cons := consumer.New(&cfg.RabbitMQ, rmq, trig, log)
	if err := cons.Start(); err != nil {
		log.Fatal("Failed to start event consumer", zap.Error(err))
	}

	sched := scheduler.New(store, reg, disp, m, log, cfg.Delivery.SweepBatchSize)
	sweeper := cron.New()
	_, err = sweeper.AddFunc("@every "+cfg.Delivery.SweepInterval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Delivery.SweepInterval)
		defer cancel()
		if err := sched.Sweep(ctx, time.Now().UTC()); err != nil {
			log.Error("Retry sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("Failed to schedule retry sweep", zap.Error(err))
	}
	sweeper.Start()

	app := fiber.New(fiber.Config{
		AppName:      "Webhook Service",
		ServerHeader: "Fiber",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.SetupRoutes(app,
		handlers.NewHealthHandler(db, rmq),
		handlers.NewWebhooksHandler(reg, disp, log),
		handlers.NewDeliveriesHandler(store, log),
		handlers.NewEventsHandler(trig, log),
		promRegistry,
	)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		log.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		log.Error("Error during server shutdown", zap.Error(err))
	}

	<-sweeper.Stop().Done()

	if err := cons.Stop(); err != nil {
		log.Error("Error stopping event consumer", zap.Error(err))
	}
	if err := disp.Stop(); err != nil {
		log.Error("Error stopping dispatcher", zap.Error(err))
	}

	log.Info("Server stopped")
}
