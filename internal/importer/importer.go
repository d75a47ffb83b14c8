// Package importer loads image files from disk into the photo library and
// submits them for face processing.
package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/your-org/photovault/internal/models"
)

// Blobs is the write side of the photo blob store.
type Blobs interface {
	Put(ctx context.Context, userID int64, filename string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

type Photos interface {
	CreatePhoto(ctx context.Context, userID int64, filePath string) (*models.Photo, error)
	ListPhotoIDs(ctx context.Context, userID int64) ([]int64, error)
}

// StatsInvalidator drops the cached face statistics of a user.
// *cache.StatsCache implements it.
type StatsInvalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// SubmitFunc hands a stored photo to face processing, either by enqueueing
// it or by processing it inline.
type SubmitFunc func(ctx context.Context, photoID int64) error

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// IsImage reports whether name has a supported image extension.
func IsImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

type Summary struct {
	Imported  int
	Submitted int
	Failed    int
}

type Importer struct {
	blobs  Blobs
	photos Photos
	submit SubmitFunc
	stats  StatsInvalidator
}

func New(blobs Blobs, photos Photos, submit SubmitFunc) *Importer {
	return &Importer{blobs: blobs, photos: photos, submit: submit}
}

// WithStats clears a user's cached statistics after each new photo.
func (im *Importer) WithStats(s StatsInvalidator) *Importer {
	im.stats = s
	return im
}

// ImportFile stores one file for userID and submits it. A photo row is only
// kept if its blob was written; a failed row insert removes the blob again.
func (im *Importer) ImportFile(ctx context.Context, userID int64, path string) (*models.Photo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key, err := im.blobs.Put(ctx, userID, filepath.Base(path), data, contentType)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", path, err)
	}

	photo, err := im.photos.CreatePhoto(ctx, userID, key)
	if err != nil {
		if delErr := im.blobs.Delete(ctx, key); delErr != nil {
			slog.Warn("remove orphaned blob", "key", key, "error", delErr)
		}
		return nil, fmt.Errorf("create photo for %s: %w", path, err)
	}

	if im.stats != nil {
		if err := im.stats.Invalidate(ctx, userID); err != nil {
			slog.Warn("invalidate stats cache", "user_id", userID, "error", err)
		}
	}
	return photo, nil
}

// ImportDir walks dir and imports every image file below it. Per-file
// failures are logged and counted; only a walk error aborts the import.
func (im *Importer) ImportDir(ctx context.Context, userID int64, dir string) (Summary, error) {
	var sum Summary
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !IsImage(d.Name()) {
			return nil
		}

		photo, err := im.ImportFile(ctx, userID, path)
		if err != nil {
			slog.Warn("import failed", "path", path, "error", err)
			sum.Failed++
			return nil
		}
		sum.Imported++
		slog.Info("imported photo", "path", path, "photo_id", photo.ID, "key", photo.FilePath)

		if err := im.submit(ctx, photo.ID); err != nil {
			slog.Warn("submit photo", "photo_id", photo.ID, "error", err)
			sum.Failed++
			return nil
		}
		sum.Submitted++
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("walk %s: %w", dir, err)
	}
	return sum, nil
}

// Reprocess submits every existing photo of userID again.
func (im *Importer) Reprocess(ctx context.Context, userID int64) (Summary, error) {
	var sum Summary
	ids, err := im.photos.ListPhotoIDs(ctx, userID)
	if err != nil {
		return sum, fmt.Errorf("list photos: %w", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		if err := im.submit(ctx, id); err != nil {
			slog.Warn("submit photo", "photo_id", id, "error", err)
			sum.Failed++
			continue
		}
		sum.Submitted++
	}
	return sum, nil
}
