// Package handlers implements the registry's HTTP API on gin.
//
// Handlers translate requests into ingestion and archiving calls. Business
// outcomes are returned as response bodies; request errors go through
// c.Error so the error middleware renders them.
//
// Import Path: dsr.gov.ph/registry/internal/api/handlers
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"dsr.gov.ph/registry/internal/archiving"
	"dsr.gov.ph/registry/internal/ingestion"
)

// DefaultMaxUploadBytes caps a multipart legacy file upload.
const DefaultMaxUploadBytes int64 = 256 << 20

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server holds the API handlers.
type Server struct {
	ingestion      ingestion.Service
	archiving      archiving.Service
	checks         map[string]HealthCheck
	uploadDir      string
	maxUploadBytes int64
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Ingestion ingestion.Service
	Archiving archiving.Service
	// Checks are run by the readiness probe, keyed by dependency name.
	Checks map[string]HealthCheck
	// UploadDir receives multipart uploads. Empty means the OS temp dir.
	UploadDir      string
	MaxUploadBytes int64
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{
		ingestion:      deps.Ingestion,
		archiving:      deps.Archiving,
		checks:         deps.Checks,
		uploadDir:      deps.UploadDir,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// RegisterHealth mounts the probes. They stay outside authentication.
func (s *Server) RegisterHealth(r gin.IRoutes) {
	r.GET("/health/live", s.GetLiveness)
	r.GET("/health/ready", s.GetReadiness)
}

// RegisterRoutes mounts the ingestion and archiving API on rg.
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	ing := rg.Group("/ingestion")
	ing.POST("", s.IngestData)
	ing.POST("/validate", s.ValidateData)
	ing.POST("/batch", s.IngestBatch)
	ing.POST("/legacy", s.ProcessLegacyFile)
	ing.GET("/statistics", s.GetIngestionStatistics)
	ing.GET("/batches", s.ListBatches)
	ing.GET("/reviews", s.ListReviewItems)
	ing.POST("/reviews/:id/resolve", s.ResolveReviewItem)
	ing.GET("/:id", s.GetIngestionStatus)

	arc := rg.Group("/archiving")
	arc.GET("", s.GetArchivedData)
	arc.POST("/sweep", s.RunRetentionSweep)
	arc.POST("/bulk", s.ArchiveOldData)
	arc.POST("/entities", s.ArchiveEntity)
	arc.GET("/entities/:type/:id/archived", s.IsEntityArchived)
	arc.POST("/:archiveId/restore", s.RestoreArchivedData)
	arc.GET("/policies", s.GetRetentionPolicies)
	arc.PUT("/policies/:entityType", s.ConfigureRetentionPolicy)
	arc.GET("/statistics", s.GetArchivingStatistics)
}
