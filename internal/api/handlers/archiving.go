package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
)

type archiveEntityRequest struct {
	EntityID   string `json:"entityId" binding:"required"`
	EntityType string `json:"entityType" binding:"required"`
	Reason     string `json:"reason"`
}

type archiveOldDataRequest struct {
	EntityType string    `json:"entityType" binding:"required"`
	CutoffDate time.Time `json:"cutoffDate" binding:"required"`
}

type retentionPolicyRequest struct {
	RetentionDays      int   `json:"retentionDays" binding:"required,min=1"`
	AutoArchiveEnabled *bool `json:"autoArchiveEnabled"`
}

type sweepReport struct {
	EntityType domain.EntityType       `json:"entityType"`
	Cutoff     time.Time               `json:"cutoff"`
	Result     *domain.ArchivingResult `json:"result,omitempty"`
}

// ArchiveOldData handles POST /archiving/bulk.
func (s *Server) ArchiveOldData(c *gin.Context) {
	var body archiveOldDataRequest
	if !bind(c, &body) {
		return
	}
	res := s.archiving.ArchiveOldData(c.Request.Context(), entityTypeParam(body.EntityType), body.CutoffDate)
	c.JSON(http.StatusOK, res)
}

// ArchiveEntity handles POST /archiving/entities.
func (s *Server) ArchiveEntity(c *gin.Context) {
	var body archiveEntityRequest
	if !bind(c, &body) {
		return
	}
	res := s.archiving.ArchiveEntity(c.Request.Context(),
		strings.TrimSpace(body.EntityID), entityTypeParam(body.EntityType),
		strings.TrimSpace(body.Reason), submitter(c, ""))
	status := http.StatusOK
	if res.Success {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// RestoreArchivedData handles POST /archiving/:archiveId/restore.
func (s *Server) RestoreArchivedData(c *gin.Context) {
	res := s.archiving.RestoreArchivedData(c.Request.Context(), c.Param("archiveId"))
	c.JSON(http.StatusOK, res)
}

// IsEntityArchived handles GET /archiving/entities/:type/:id/archived.
func (s *Server) IsEntityArchived(c *gin.Context) {
	t := entityTypeParam(c.Param("type"))
	id := c.Param("id")
	archived, err := s.archiving.IsEntityArchived(c.Request.Context(), id, t)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entityId": id, "entityType": t, "archived": archived})
}

// GetArchivedData handles GET /archiving?entityType=&from=&to=&limit=.
func (s *Server) GetArchivedData(c *gin.Context) {
	var filter domain.ArchiveFilter
	if raw := c.Query("entityType"); raw != "" {
		t := entityTypeParam(raw)
		filter.EntityType = &t
	}
	var err error
	if filter.From, err = queryTime(c, "from"); err != nil {
		_ = c.Error(err)
		return
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		_ = c.Error(err)
		return
	}
	if filter.Limit, err = queryLimit(c); err != nil {
		_ = c.Error(err)
		return
	}

	records, err := s.archiving.GetArchivedData(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": records, "count": len(records)})
}

// GetRetentionPolicies handles GET /archiving/policies.
func (s *Server) GetRetentionPolicies(c *gin.Context) {
	policies := s.archiving.GetRetentionPolicies(c.Request.Context())
	if policies == nil {
		policies = []domain.RetentionPolicy{}
	}
	c.JSON(http.StatusOK, gin.H{"items": policies, "count": len(policies)})
}

// ConfigureRetentionPolicy handles PUT /archiving/policies/:entityType.
// autoArchiveEnabled defaults to true.
func (s *Server) ConfigureRetentionPolicy(c *gin.Context) {
	var body retentionPolicyRequest
	if !bind(c, &body) {
		return
	}
	auto := true
	if body.AutoArchiveEnabled != nil {
		auto = *body.AutoArchiveEnabled
	}
	p, err := s.archiving.ConfigureRetentionPolicy(c.Request.Context(),
		entityTypeParam(c.Param("entityType")), body.RetentionDays, auto)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetArchivingStatistics handles GET /archiving/statistics.
func (s *Server) GetArchivingStatistics(c *gin.Context) {
	stats, err := s.archiving.GetArchivingStatistics(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RunRetentionSweep handles POST /archiving/sweep. It runs synchronously;
// the periodic job is the usual trigger.
func (s *Server) RunRetentionSweep(c *gin.Context) {
	reports, err := s.archiving.RunRetentionSweep(c.Request.Context())
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeInternal, "Retention sweep interrupted", http.StatusServiceUnavailable))
		return
	}
	out := make([]sweepReport, 0, len(reports))
	for _, r := range reports {
		out = append(out, sweepReport{EntityType: r.EntityType, Cutoff: r.Cutoff, Result: r.Result})
	}
	c.JSON(http.StatusOK, gin.H{"reports": out})
}
