package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/faces"
	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/vision"
	"github.com/your-org/photovault/pkg/dto"
)

// FaceService is the face pipeline as seen by the HTTP layer.
// *faces.Service implements it.
type FaceService interface {
	ProcessPhoto(ctx context.Context, photoID int64) (faces.ProcessResult, error)
	TagFace(ctx context.Context, regionID, personID int64) (*models.FaceRegion, error)
	Stats(ctx context.Context, userID int64) models.FaceStats
	ListRegions(ctx context.Context, photoID int64) ([]models.FaceRegion, error)
	DetectFaces(ctx context.Context, path string) []vision.Candidate
	DetectionAvailable() bool
}

// TaskQueue enqueues photos for the worker. *queue.Producer implements it.
type TaskQueue interface {
	PublishProcess(ctx context.Context, task models.ProcessTask) (bool, error)
}

type FaceHandler struct {
	svc   FaceService
	queue TaskQueue
}

// NewFaceHandler builds the face endpoints. With a nil queue every process
// request runs inline.
func NewFaceHandler(svc FaceService, queue TaskQueue) *FaceHandler {
	return &FaceHandler{svc: svc, queue: queue}
}

func statusFor(err error) int {
	switch faces.KindOf(err) {
	case faces.KindOK:
		return http.StatusOK
	case faces.KindUnavailable:
		return http.StatusServiceUnavailable
	case faces.KindNotFound:
		return http.StatusNotFound
	case faces.KindForbidden:
		return http.StatusForbidden
	case faces.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// publicError hides storage details from clients.
func publicError(err error) string {
	if faces.KindOf(err) == faces.KindStorage {
		return "internal error"
	}
	return err.Error()
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func regionResponse(r models.FaceRegion) dto.RegionResponse {
	return dto.RegionResponse{
		ID:         r.ID,
		PhotoID:    r.PhotoID,
		PersonID:   r.PersonID,
		X:          r.Rect.X,
		Y:          r.Rect.Y,
		Width:      r.Rect.Width,
		Height:     r.Rect.Height,
		Confidence: r.Confidence,
		Verified:   r.Verified,
		CreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Process handles POST /v1/photos/:id/process. The photo is queued for the
// worker unless ?sync=true is given or no queue is configured.
func (h *FaceHandler) Process(c *gin.Context) {
	photoID, ok := idParam(c, "id")
	if !ok {
		return
	}

	if h.queue != nil && c.Query("sync") != "true" {
		task := models.ProcessTask{ID: uuid.New(), PhotoID: photoID, RequestedAt: time.Now().UTC()}
		duplicate, err := h.queue.PublishProcess(c.Request.Context(), task)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, dto.ProcessResponse{PhotoID: photoID, Error: "queue unavailable"})
			return
		}
		c.JSON(http.StatusAccepted, dto.ProcessResponse{
			Success:   true,
			Queued:    true,
			Duplicate: duplicate,
			TaskID:    task.ID.String(),
			PhotoID:   photoID,
		})
		return
	}

	res, err := h.svc.ProcessPhoto(c.Request.Context(), photoID)
	if err != nil {
		c.JSON(statusFor(err), dto.ProcessResponse{PhotoID: photoID, Error: publicError(err)})
		return
	}
	c.JSON(http.StatusOK, dto.ProcessResponse{
		Success:     true,
		PhotoID:     photoID,
		Detected:    res.Detected,
		Inserted:    res.Inserted,
		Undecodable: res.Undecodable,
	})
}

// Tag handles POST /v1/faces/:id/tag.
func (h *FaceHandler) Tag(c *gin.Context) {
	regionID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req dto.TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.TagResponse{Error: err.Error()})
		return
	}

	region, err := h.svc.TagFace(c.Request.Context(), regionID, req.PersonID)
	if err != nil {
		c.JSON(statusFor(err), dto.TagResponse{Error: publicError(err)})
		return
	}
	resp := regionResponse(*region)
	c.JSON(http.StatusOK, dto.TagResponse{Success: true, Region: &resp})
}

// Regions handles GET /v1/photos/:id/faces.
func (h *FaceHandler) Regions(c *gin.Context) {
	photoID, ok := idParam(c, "id")
	if !ok {
		return
	}

	regions, err := h.svc.ListRegions(c.Request.Context(), photoID)
	if err != nil {
		c.JSON(statusFor(err), dto.RegionListResponse{Regions: []dto.RegionResponse{}, Error: publicError(err)})
		return
	}

	resp := make([]dto.RegionResponse, 0, len(regions))
	for _, r := range regions {
		resp = append(resp, regionResponse(r))
	}
	c.JSON(http.StatusOK, dto.RegionListResponse{Success: true, Regions: resp})
}

// Stats handles GET /v1/users/:id/face-stats. The body is always a complete
// stats object; failures are reported in it, not through the status code.
func (h *FaceHandler) Stats(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}

	s := h.svc.Stats(c.Request.Context(), userID)
	c.JSON(http.StatusOK, dto.StatsResponse{
		Success:            s.Error == "",
		UserID:             userID,
		TotalPhotos:        s.TotalPhotos,
		PhotosWithFaces:    s.PhotosWithFaces,
		VerifiedTags:       s.VerifiedTags,
		UnverifiedTags:     s.UnverifiedTags,
		UniquePeople:       s.UniquePeople,
		DetectionAvailable: s.DetectionAvailable,
		Error:              s.Error,
	})
}

// Detect handles GET /v1/detect?path=... and previews detection on a stored
// file without recording anything.
func (h *FaceHandler) Detect(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, dto.DetectResponse{Faces: []dto.CandidateResponse{}, Error: "path is required"})
		return
	}

	found := h.svc.DetectFaces(c.Request.Context(), path)
	resp := make([]dto.CandidateResponse, 0, len(found))
	for _, f := range found {
		resp = append(resp, dto.CandidateResponse{
			X: f.X, Y: f.Y, Width: f.Width, Height: f.Height, Confidence: f.Confidence,
		})
	}
	c.JSON(http.StatusOK, dto.DetectResponse{
		Success:   true,
		Available: h.svc.DetectionAvailable(),
		Faces:     resp,
	})
}
