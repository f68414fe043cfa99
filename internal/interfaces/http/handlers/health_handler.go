package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// HealthChecker is a named dependency probe.
type HealthChecker struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler exposes liveness and readiness probes.
type HealthHandler struct {
	checks []HealthChecker
	log    logger.Logger
}

// NewHealthHandler creates the handler with the given dependency probes.
func NewHealthHandler(log logger.Logger, checks ...HealthChecker) *HealthHandler {
	return &HealthHandler{checks: checks, log: log.WithComponent("health")}
}

// Liveness handles GET /health/live. The process is up.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness handles GET /health/ready. Every dependency probe must pass.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx := c.Request.Context()
	result := gin.H{}
	healthy := true

	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			h.log.Warn(ctx, "Readiness probe failed",
				logger.String("dependency", check.Name), logger.Error(err))
			result[check.Name] = "unavailable"
			healthy = false
			continue
		}
		result[check.Name] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": result})
}
