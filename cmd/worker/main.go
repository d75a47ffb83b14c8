package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

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

	slog.Info("starting photovault face worker",
		"workers", cfg.Detection.WorkerCount,
		"max_concurrent", cfg.Detection.MaxConcurrent,
		"engine", cfg.Detection.Engine,
		"cpu_cores", runtime.NumCPU(),
	)

	if cfg.NATS.URL == "" {
		slog.Error("nats.url is required for the worker")
		os.Exit(1)
	}

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

	statsCache := app.OpenStatsCache(ctx, cfg.Redis)
	if statsCache != nil {
		defer statsCache.Close()
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	svc, detector := app.NewFaceService(cfg.Detection, db, blobs, statsCache, producer)
	defer detector.Close()

	// A worker without an engine would drain the queue marking every photo
	// unavailable, so it refuses to start instead.
	if !detector.Available() {
		slog.Error("face detection unavailable, worker not started", "error", detector.LoadError())
		os.Exit(1)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeTasks(ctx, "face-workers", func(ctx context.Context, task models.ProcessTask) error {
		return handleTask(ctx, svc, task)
	}, cfg.Detection.WorkerCount)
	if err != nil {
		slog.Error("start task consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.MetricsPort), Handler: mux}
	go func() {
		slog.Info("worker metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	if !consumer.Wait(cfg.Detection.Timeout + 5*time.Second) {
		slog.Warn("abandoning in-flight tasks")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	slog.Info("worker stopped")
}

// handleTask processes one queued photo. Failures that cannot succeed on
// redelivery are marked permanent so the message is not retried.
func handleTask(ctx context.Context, svc *faces.Service, task models.ProcessTask) error {
	res, err := svc.ProcessPhoto(ctx, task.PhotoID)
	if err == nil {
		slog.Debug("task done", "task_id", task.ID, "photo_id", task.PhotoID, "inserted", res.Inserted)
		return nil
	}
	if !faces.KindOf(err).Retryable() {
		return queue.Permanent(fmt.Errorf("process photo %d: %w", task.PhotoID, err))
	}
	return fmt.Errorf("process photo %d: %w", task.PhotoID, err)
}
