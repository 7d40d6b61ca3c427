package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/pkg/logger"
)

const readinessTimeout = 3 * time.Second

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetReadiness handles GET /health/ready. Any failing check makes the
// service unready.
func (s *Server) GetReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	allHealthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "error"
			allHealthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, httpStatus := "ok", http.StatusOK
	if !allHealthy {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{"status": status, "checks": checks})
}
