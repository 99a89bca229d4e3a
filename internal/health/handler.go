package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// LivenessHandler reports that the process is serving HTTP.
func (h *Handler) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    StatusOK,
			"timestamp": time.Now().UTC(),
		})
	}
}

// ReadinessHandler runs the checks and answers 503 if any fails.
func (h *Handler) ReadinessHandler() gin.HandlerFunc {
	return h.probe(func() time.Duration { return h.readinessTimeout }, false)
}

// HealthHandler runs the checks and includes uptime in the body.
func (h *Handler) HealthHandler() gin.HandlerFunc {
	return h.probe(func() time.Duration { return h.healthTimeout }, true)
}

func (h *Handler) probe(timeout func() time.Duration, withUptime bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout())
		defer cancel()

		status := h.Run(ctx)
		if withUptime {
			status.Uptime = time.Since(h.startTime).Round(time.Second).String()
		}

		code := http.StatusOK
		if status.Status != StatusOK {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}

// RegisterRoutes mounts the probe endpoints on r.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.HealthHandler())
	r.GET("/healthz", h.LivenessHandler())
	r.GET("/livez", h.LivenessHandler())
	r.GET("/live", h.LivenessHandler())
	r.GET("/readyz", h.ReadinessHandler())
	r.GET("/ready", h.ReadinessHandler())
}
