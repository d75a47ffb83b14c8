package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/your-org/photovault/internal/faces"
	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/vision"
)

type staticFaces struct{}

func (staticFaces) ProcessPhoto(context.Context, int64) (faces.ProcessResult, error) {
	return faces.ProcessResult{}, faces.ErrDetectionUnavailable
}

func (staticFaces) TagFace(context.Context, int64, int64) (*models.FaceRegion, error) {
	return nil, faces.ErrRegionNotFound
}

func (staticFaces) Stats(context.Context, int64) models.FaceStats { return models.FaceStats{} }

func (staticFaces) ListRegions(context.Context, int64) ([]models.FaceRegion, error) {
	return []models.FaceRegion{}, nil
}

func (staticFaces) DetectFaces(context.Context, string) []vision.Candidate { return []vision.Candidate{} }
func (staticFaces) DetectionAvailable() bool                               { return false }

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(RouterConfig{APIKey: "k", Faces: staticFaces{}})

	tests := []struct {
		method, path string
		key          string
		want         int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/v1/users/1/face-stats", "", http.StatusUnauthorized},
		{http.MethodGet, "/v1/users/1/face-stats", "k", http.StatusOK},
		{http.MethodGet, "/v1/photos/1/faces", "k", http.StatusOK},
		{http.MethodPost, "/v1/photos/1/process", "k", http.StatusServiceUnavailable},
		{http.MethodGet, "/v1/detect?path=a.jpg", "k", http.StatusOK},
		{http.MethodGet, "/v1/ws", "k", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
