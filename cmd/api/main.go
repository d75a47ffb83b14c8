package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/your-org/photovault/internal/api"
	"github.com/your-org/photovault/internal/api/handlers"
	"github.com/your-org/photovault/internal/api/ws"
	"github.com/your-org/photovault/internal/app"
	"github.com/your-org/photovault/internal/config"
	"github.com/your-org/photovault/internal/faces"
	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/observability"
	"github.com/your-org/photovault/internal/queue"
	"github.com/your-org/photovault/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting photovault API", "port", cfg.Server.Port, "engine", cfg.Detection.Engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("migrate database", "error", err)
		os.Exit(1)
	}

	blobs, err := app.OpenBlobStore(ctx, cfg)
	if err != nil {
		slog.Error("open blob store", "error", err)
		os.Exit(1)
	}

	checks := []handlers.Check{{Name: "postgres", Pinger: db}, {Name: "blob", Pinger: blobs}}

	statsCache := app.OpenStatsCache(ctx, cfg.Redis)
	if statsCache != nil {
		defer statsCache.Close()
	}

	hub := ws.NewHub()
	go hub.Run()

	// NATS is optional for the API: without it process requests run inline
	// and no events are streamed.
	var (
		taskQueue handlers.TaskQueue
		events    faces.Publisher
	)
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		taskQueue, events = producer, producer
		checks = append(checks, handlers.Check{Name: "nats", Pinger: producer})

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create event consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		hostname, _ := os.Hostname()
		err = consumer.ConsumeEvents(ctx, "api-events-"+hostname, func(_ context.Context, event models.FaceEvent) error {
			hub.BroadcastEvent(event)
			return nil
		})
		if err != nil {
			slog.Warn("start event consumer", "error", err)
		}
	} else {
		slog.Warn("nats not configured, photos are processed inline")
	}

	svc, detector := app.NewFaceService(cfg.Detection, db, blobs, statsCache, events)
	defer detector.Close()

	// Without NATS the hub is fed directly.
	if events == nil {
		svc.WithPublisher(hubPublisher{hub})
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey: cfg.Server.APIKey,
		Faces:  svc,
		Queue:  taskQueue,
		Hub:    hub,
		Checks: checks,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Detection.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

type hubPublisher struct {
	hub *ws.Hub
}

func (p hubPublisher) PublishFaceEvent(_ context.Context, event models.FaceEvent) error {
	p.hub.BroadcastEvent(event)
	return nil
}
