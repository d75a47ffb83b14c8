// Package faces records detected face regions, tags them with people and
// reports per-user face statistics.
package faces

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/observability"
	"github.com/your-org/photovault/internal/storage"
	"github.com/your-org/photovault/internal/vision"
)

// Store is the persistence the service needs. *storage.PostgresStore
// implements it. Lookups return (nil, nil) when the row does not exist.
type Store interface {
	GetPhoto(ctx context.Context, id int64) (*models.Photo, error)
	GetPerson(ctx context.Context, id int64) (*models.Person, error)
	GetRegion(ctx context.Context, id int64) (*models.FaceRegion, error)
	ListRegions(ctx context.Context, photoID int64) ([]models.FaceRegion, error)
	RecordRegions(ctx context.Context, photoID int64, fn func(storage.RegionWriter) error) error
	UpdateRegionIdentity(ctx context.Context, regionID, personID int64, verified bool) (*models.FaceRegion, error)
	CountsByUser(ctx context.Context, userID int64) (*models.FaceCounts, error)
}

type Files interface {
	Exists(ctx context.Context, path string) (bool, error)
}

type Detector interface {
	Available() bool
	Detect(ctx context.Context, path string) ([]vision.Candidate, error)
	DetectFaces(ctx context.Context, path string) []vision.Candidate
}

// Cache holds per-user counts. *cache.StatsCache implements it.
//
// Get returns the cached counts, or nil on a miss, together with the user's
// current generation. Set stores counts computed at that generation; an
// Invalidate in between bumps the generation so the entry reads as a miss.
type Cache interface {
	Get(ctx context.Context, userID int64) (*models.FaceCounts, int64, error)
	Set(ctx context.Context, userID, generation int64, counts *models.FaceCounts) error
	Invalidate(ctx context.Context, userID int64) error
}

// Publisher announces face data changes. *queue.Producer implements it.
type Publisher interface {
	PublishFaceEvent(ctx context.Context, event models.FaceEvent) error
}

// ProcessResult describes one ProcessPhoto run.
type ProcessResult struct {
	PhotoID     int64 `json:"photo_id"`
	UserID      int64 `json:"user_id"`
	Detected    int   `json:"detected"`
	Inserted    int   `json:"inserted"`
	Skipped     int   `json:"skipped"`
	Undecodable bool  `json:"undecodable"`
}

type Service struct {
	store    Store
	files    Files
	detector Detector
	cache    Cache
	events   Publisher
}

func NewService(store Store, files Files, detector Detector) *Service {
	return &Service{store: store, files: files, detector: detector}
}

// WithCache enables the stats cache.
func (s *Service) WithCache(c Cache) *Service {
	s.cache = c
	return s
}

// WithPublisher enables face events.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.events = p
	return s
}

// DetectionAvailable reports whether the detector engine loaded.
func (s *Service) DetectionAvailable() bool {
	return s.detector.Available()
}

// DetectFaces runs detection on a stored file without recording anything.
// It returns an empty slice when detection is unavailable or fails.
func (s *Service) DetectFaces(ctx context.Context, path string) []vision.Candidate {
	return s.detector.DetectFaces(ctx, path)
}

// ProcessPhoto detects the faces of a photo and records every rectangle not
// already stored for it. Reprocessing the same photo inserts nothing new.
//
// An image that cannot be read or decoded counts as a photo without faces.
// A detection timeout fails with ErrDetectionTimeout so the photo can be
// retried. Any storage error rolls back the whole batch. Every run that
// reaches the photo clears the owner's cached stats.
func (s *Service) ProcessPhoto(ctx context.Context, photoID int64) (ProcessResult, error) {
	res := ProcessResult{PhotoID: photoID}

	if !s.detector.Available() {
		observability.PhotosProcessed.WithLabelValues("unavailable").Inc()
		return res, ErrDetectionUnavailable
	}

	photo, err := s.store.GetPhoto(ctx, photoID)
	if err != nil {
		return s.processFailed(ctx, res, fmt.Errorf("load photo %d: %w", photoID, err))
	}
	if photo == nil {
		slog.Warn("photo not found", "photo_id", photoID)
		return s.processFailed(ctx, res, fmt.Errorf("%w: %d", ErrPhotoNotFound, photoID))
	}
	res.UserID = photo.UserID

	ok, err := s.files.Exists(ctx, photo.FilePath)
	if err != nil {
		return s.processFailed(ctx, res, fmt.Errorf("stat photo file %s: %w", photo.FilePath, err))
	}
	if !ok {
		slog.Warn("photo file not found", "photo_id", photoID, "path", photo.FilePath)
		return s.processFailed(ctx, res, fmt.Errorf("%w: %s", ErrFileMissing, photo.FilePath))
	}

	candidates, err := s.detector.Detect(ctx, photo.FilePath)
	switch {
	case err == nil:
	case errors.Is(err, vision.ErrUnavailable):
		return s.processFailed(ctx, res, ErrDetectionUnavailable)
	case ctx.Err() != nil:
		return s.processFailed(ctx, res, fmt.Errorf("detect faces in photo %d: %w", photoID, ctx.Err()))
	case errors.Is(err, vision.ErrTimeout):
		slog.Warn("face detection timed out", "photo_id", photoID, "path", photo.FilePath, "error", err)
		return s.processFailed(ctx, res, fmt.Errorf("%w: photo %d", ErrDetectionTimeout, photoID))
	default:
		slog.Warn("treating photo as faceless", "photo_id", photoID, "path", photo.FilePath, "error", err)
		res.Undecodable = true
		candidates = nil
	}
	res.Detected = len(candidates)

	if len(candidates) == 0 {
		observability.PhotosProcessed.WithLabelValues("ok").Inc()
		slog.Info("processed photo", "photo_id", photoID, "faces", 0)
		s.invalidate(ctx, photo.UserID)
		return res, nil
	}

	var inserted, skipped int
	err = s.store.RecordRegions(ctx, photoID, func(w storage.RegionWriter) error {
		inserted, skipped = 0, 0
		for _, c := range candidates {
			rect := c.Rect()
			if !rect.Valid() {
				skipped++
				continue
			}
			existing, err := w.FindByGeometry(ctx, photoID, rect)
			if err != nil {
				return err
			}
			if existing != nil {
				skipped++
				continue
			}
			added, err := w.Insert(ctx, &models.FaceRegion{
				PhotoID:    photoID,
				Rect:       rect,
				Confidence: c.Confidence,
			})
			if err != nil {
				return err
			}
			if added {
				inserted++
			} else {
				skipped++
			}
		}
		return nil
	})
	if err != nil {
		return s.processFailed(ctx, res, fmt.Errorf("record faces of photo %d: %w", photoID, err))
	}
	res.Inserted, res.Skipped = inserted, skipped

	observability.PhotosProcessed.WithLabelValues("ok").Inc()
	observability.RegionsInserted.Add(float64(inserted))
	slog.Info("processed photo", "photo_id", photoID, "faces", res.Detected, "inserted", inserted, "skipped", skipped)

	s.invalidate(ctx, photo.UserID)
	if inserted > 0 {
		s.publish(ctx, models.FaceEvent{
			Type:     models.EventFacesDetected,
			UserID:   photo.UserID,
			PhotoID:  photoID,
			Detected: res.Detected,
			Inserted: inserted,
		})
	}
	return res, nil
}

func (s *Service) processFailed(ctx context.Context, res ProcessResult, err error) (ProcessResult, error) {
	if res.UserID != 0 {
		s.invalidate(ctx, res.UserID)
	}
	kind := KindOf(err)
	observability.PhotosProcessed.WithLabelValues(kind.String()).Inc()
	if kind == KindStorage {
		slog.Error("process photo", "photo_id", res.PhotoID, "error", err)
	}
	return res, err
}

// TagFace assigns a person to a face region and marks it verified. Tagging
// an already tagged region overwrites the previous person.
func (s *Service) TagFace(ctx context.Context, regionID, personID int64) (*models.FaceRegion, error) {
	region, err := s.store.GetRegion(ctx, regionID)
	if err != nil {
		return nil, s.tagFailed(regionID, fmt.Errorf("load face region %d: %w", regionID, err))
	}
	if region == nil {
		return nil, s.tagFailed(regionID, fmt.Errorf("%w: %d", ErrRegionNotFound, regionID))
	}

	person, err := s.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, s.tagFailed(regionID, fmt.Errorf("load person %d: %w", personID, err))
	}
	if person == nil {
		return nil, s.tagFailed(regionID, fmt.Errorf("%w: %d", ErrPersonNotFound, personID))
	}

	photo, err := s.store.GetPhoto(ctx, region.PhotoID)
	if err != nil {
		return nil, s.tagFailed(regionID, fmt.Errorf("load photo %d: %w", region.PhotoID, err))
	}
	if photo == nil {
		return nil, s.tagFailed(regionID, fmt.Errorf("%w: %d", ErrPhotoNotFound, region.PhotoID))
	}
	if photo.UserID != person.UserID {
		slog.Warn("refusing cross-user tag",
			"region_id", regionID, "person_id", personID,
			"photo_owner", photo.UserID, "person_owner", person.UserID)
		return nil, s.tagFailed(regionID, fmt.Errorf("%w: person %d", ErrCrossTenant, personID))
	}

	updated, err := s.store.UpdateRegionIdentity(ctx, regionID, personID, true)
	if err != nil {
		return nil, s.tagFailed(regionID, fmt.Errorf("tag face region %d: %w", regionID, err))
	}
	if updated == nil {
		return nil, s.tagFailed(regionID, fmt.Errorf("%w: %d", ErrRegionNotFound, regionID))
	}

	observability.FacesTagged.WithLabelValues("ok").Inc()
	slog.Info("tagged face", "region_id", regionID, "person_id", personID, "photo_id", updated.PhotoID)

	s.invalidate(ctx, photo.UserID)
	s.publish(ctx, models.FaceEvent{
		Type:     models.EventFaceTagged,
		UserID:   photo.UserID,
		PhotoID:  updated.PhotoID,
		RegionID: regionID,
		PersonID: personID,
	})
	return updated, nil
}

func (s *Service) tagFailed(regionID int64, err error) error {
	kind := KindOf(err)
	observability.FacesTagged.WithLabelValues(kind.String()).Inc()
	if kind == KindStorage {
		slog.Error("tag face", "region_id", regionID, "error", err)
	} else {
		slog.Warn("tag face rejected", "region_id", regionID, "error", err)
	}
	return err
}

// Stats returns the face statistics of a user. It never fails: on error the
// counts are zero, detection is reported unavailable and Error is set.
func (s *Service) Stats(ctx context.Context, userID int64) models.FaceStats {
	counts, err := s.counts(ctx, userID)
	if err != nil {
		slog.Error("face stats", "user_id", userID, "error", err)
		return models.FaceStats{Error: err.Error()}
	}
	return models.FaceStats{
		FaceCounts:         *counts,
		DetectionAvailable: s.detector.Available(),
	}
}

func (s *Service) counts(ctx context.Context, userID int64) (*models.FaceCounts, error) {
	var (
		generation int64
		cacheable  bool
	)
	if s.cache != nil {
		cached, gen, err := s.cache.Get(ctx, userID)
		switch {
		case err != nil:
			slog.Warn("stats cache unavailable", "user_id", userID, "error", err)
		case cached != nil:
			return cached, nil
		default:
			generation, cacheable = gen, true
		}
	}

	counts, err := s.store.CountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = &models.FaceCounts{}
	}

	if cacheable {
		if err := s.cache.Set(ctx, userID, generation, counts); err != nil {
			slog.Warn("stats cache unavailable", "user_id", userID, "error", err)
		}
	}
	return counts, nil
}

// ListRegions returns the face regions of a photo ordered by id.
func (s *Service) ListRegions(ctx context.Context, photoID int64) ([]models.FaceRegion, error) {
	photo, err := s.store.GetPhoto(ctx, photoID)
	if err != nil {
		return nil, fmt.Errorf("load photo %d: %w", photoID, err)
	}
	if photo == nil {
		return nil, fmt.Errorf("%w: %d", ErrPhotoNotFound, photoID)
	}
	regions, err := s.store.ListRegions(ctx, photoID)
	if err != nil {
		return nil, fmt.Errorf("list face regions of photo %d: %w", photoID, err)
	}
	if regions == nil {
		regions = []models.FaceRegion{}
	}
	return regions, nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		slog.Warn("invalidate stats cache", "user_id", userID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, event models.FaceEvent) {
	if s.events == nil {
		return
	}
	event.ID = uuid.New()
	event.Timestamp = time.Now().UTC()
	if err := s.events.PublishFaceEvent(ctx, event); err != nil {
		slog.Warn("publish face event", "type", event.Type, "photo_id", event.PhotoID, "error", err)
	}
}
