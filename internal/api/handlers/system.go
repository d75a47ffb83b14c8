package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check names one readiness dependency.
type Check struct {
	Name   string
	Pinger Pinger
}

type SystemHandler struct {
	checks    []Check
	detection func() bool
}

// NewSystemHandler builds the health endpoints. detection reports whether
// face detection is available; it is informational and never fails readiness.
func NewSystemHandler(detection func() bool, checks ...Check) *SystemHandler {
	sort.SliceStable(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return &SystemHandler{checks: checks, detection: detection}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for _, chk := range h.checks {
		if chk.Pinger == nil {
			continue
		}
		if err := chk.Pinger.Ping(ctx); err != nil {
			checks[chk.Name] = err.Error()
			healthy = false
		} else {
			checks[chk.Name] = "ok"
		}
	}

	if h.detection != nil {
		checks["detection"] = map[bool]string{true: "available", false: "unavailable"}[h.detection()]
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}
