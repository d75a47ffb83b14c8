package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/your-org/photovault/internal/app"
	"github.com/your-org/photovault/internal/config"
	"github.com/your-org/photovault/internal/importer"
	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/observability"
	"github.com/your-org/photovault/internal/queue"
	"github.com/your-org/photovault/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	userID := flag.Int64("user", 0, "owner of the imported photos")
	dir := flag.String("dir", "", "directory of images to import")
	reprocess := flag.Bool("reprocess", false, "resubmit every existing photo of -user")
	flag.Parse()

	_ = godotenv.Load()

	if *userID <= 0 || (*dir == "" && !*reprocess) {
		fmt.Fprintln(os.Stderr, "usage: importer -user N (-dir PATH | -reprocess)")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	var submit importer.SubmitFunc
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

		submit = func(ctx context.Context, photoID int64) error {
			_, err := producer.PublishProcess(ctx, models.ProcessTask{
				ID: uuid.New(), PhotoID: photoID, RequestedAt: time.Now().UTC(),
			})
			return err
		}
	} else {
		slog.Info("nats not configured, processing photos inline")
		svc, detector := app.NewFaceService(cfg.Detection, db, blobs, statsCache, nil)
		defer detector.Close()

		submit = func(ctx context.Context, photoID int64) error {
			_, err := svc.ProcessPhoto(ctx, photoID)
			return err
		}
	}

	im := importer.New(blobs, db, submit)
	if statsCache != nil {
		im.WithStats(statsCache)
	}

	var sum importer.Summary
	if *reprocess {
		sum, err = im.Reprocess(ctx, *userID)
	} else {
		sum, err = im.ImportDir(ctx, *userID, *dir)
	}
	if err != nil {
		slog.Error("import", "error", err)
		os.Exit(1)
	}

	slog.Info("import finished",
		"user_id", *userID,
		"imported", sum.Imported,
		"submitted", sum.Submitted,
		"failed", sum.Failed,
	)
	if sum.Failed > 0 {
		os.Exit(1)
	}
}
