package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhotosProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pv",
		Name:      "photos_processed_total",
		Help:      "Total number of process-photo attempts by outcome",
	}, []string{"outcome"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pv",
		Name:      "faces_detected_total",
		Help:      "Total number of face candidates returned by the detector",
	})

	RegionsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pv",
		Name:      "face_regions_inserted_total",
		Help:      "Total number of new face regions persisted",
	})

	FacesTagged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pv",
		Name:      "faces_tagged_total",
		Help:      "Total number of tag attempts by outcome",
	}, []string{"outcome"})

	DetectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pv",
		Name:      "detection_duration_seconds",
		Help:      "Duration of face detection per image",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"engine"})

	DetectionAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pv",
		Name:      "detection_available",
		Help:      "1 if the face detection engine loaded, 0 otherwise",
	})

	BlobFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pv",
		Name:      "blob_fallback_total",
		Help:      "Blob operations served by the local store instead of the object store",
	}, []string{"op"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pv",
		Name:      "queue_depth",
		Help:      "Number of pending process-photo tasks",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pv",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pv",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
