// Package app wires configuration into the services shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/your-org/photovault/internal/cache"
	"github.com/your-org/photovault/internal/config"
	"github.com/your-org/photovault/internal/faces"
	"github.com/your-org/photovault/internal/storage"
	"github.com/your-org/photovault/internal/vision"
	"github.com/your-org/photovault/internal/vision/haar"
	"github.com/your-org/photovault/internal/vision/retina"
)

// EngineLoader returns the loader for the configured detection engine, or
// nil when detection is disabled.
func EngineLoader(cfg config.DetectionConfig) vision.Loader {
	switch cfg.Engine {
	case config.EngineHaar:
		return func() (vision.Engine, error) { return haar.Load(cfg) }
	case config.EngineRetinaFace:
		return func() (vision.Engine, error) { return retina.Load(cfg) }
	default:
		return nil
	}
}

// OpenBlobStore builds the photo blob store. MinIO is used when an endpoint
// is configured and reachable; the local directory always backs it.
func OpenBlobStore(ctx context.Context, cfg *config.Config) (*storage.BlobStore, error) {
	local, err := storage.NewLocalStore(cfg.Storage.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("open local storage: %w", err)
	}

	if cfg.MinIO.Endpoint == "" {
		return storage.NewBlobStore(ctx, nil, local, cfg.Storage.ProbeTimeout), nil
	}

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Warn("create minio client", "error", err)
		return storage.NewBlobStore(ctx, nil, local, cfg.Storage.ProbeTimeout), nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, cfg.Storage.ProbeTimeout)
	defer cancel()
	if err := minioStore.EnsureBucket(probeCtx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}
	return storage.NewBlobStore(ctx, minioStore, local, cfg.Storage.ProbeTimeout), nil
}

// OpenStatsCache connects to Redis when an address is configured. Failures
// are logged and leave the service uncached.
func OpenStatsCache(ctx context.Context, cfg config.RedisConfig) *cache.StatsCache {
	if cfg.Addr == "" {
		return nil
	}
	c, err := cache.NewStatsCache(ctx, cfg)
	if err != nil {
		slog.Warn("stats cache disabled", "addr", cfg.Addr, "error", err)
		return nil
	}
	slog.Info("stats cache enabled", "addr", cfg.Addr, "ttl", cfg.StatsTTL)
	return c
}

// NewFaceService assembles the face pipeline over an open store and blob
// store. statsCache and events may be nil.
func NewFaceService(cfg config.DetectionConfig, db faces.Store, blobs *storage.BlobStore,
	statsCache *cache.StatsCache, events faces.Publisher) (*faces.Service, *vision.Detector) {
	detector := vision.NewDetector(blobs, cfg, EngineLoader(cfg))
	svc := faces.NewService(db, blobs, detector)
	if statsCache != nil {
		svc.WithCache(statsCache)
	}
	if events != nil {
		svc.WithPublisher(events)
	}
	return svc, detector
}
