package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/photovault/internal/api/handlers"
	"github.com/your-org/photovault/internal/api/ws"
	"github.com/your-org/photovault/internal/auth"
)

type RouterConfig struct {
	APIKey string
	Faces  handlers.FaceService
	// Queue is optional; without it process requests run inline.
	Queue  handlers.TaskQueue
	Hub    *ws.Hub
	Checks []handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Faces.DetectionAvailable, cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	faceH := handlers.NewFaceHandler(cfg.Faces, cfg.Queue)
	v1.GET("/users/:id/face-stats", faceH.Stats)
	v1.POST("/photos/:id/process", faceH.Process)
	v1.GET("/photos/:id/faces", faceH.Regions)
	v1.POST("/faces/:id/tag", faceH.Tag)
	v1.GET("/detect", faceH.Detect)

	return r
}
