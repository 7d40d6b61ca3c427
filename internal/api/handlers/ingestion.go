package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/ingestion"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

type ingestDataRequest struct {
	SourceSystem       string         `json:"sourceSystem" binding:"required"`
	DataType           string         `json:"dataType" binding:"required"`
	SubmittedBy        string         `json:"submittedBy"`
	SubmissionDate     *time.Time     `json:"submissionDate"`
	DataPayload        domain.Payload `json:"dataPayload" binding:"required"`
	ValidateOnly       bool           `json:"validateOnly"`
	SkipDuplicateCheck bool           `json:"skipDuplicateCheck"`
}

func (r ingestDataRequest) toDomain(c *gin.Context) domain.IngestionRequest {
	req := domain.IngestionRequest{
		SourceSystem:       strings.TrimSpace(r.SourceSystem),
		DataType:           domain.ParseDataType(r.DataType),
		SubmittedBy:        submitter(c, r.SubmittedBy),
		DataPayload:        r.DataPayload,
		ValidateOnly:       r.ValidateOnly,
		SkipDuplicateCheck: r.SkipDuplicateCheck,
	}
	if r.SubmissionDate != nil {
		req.SubmissionDate = *r.SubmissionDate
	}
	return req
}

type ingestBatchRequest struct {
	BatchID string              `json:"batchId"`
	Records []ingestDataRequest `json:"records" binding:"required,min=1,dive"`
}

type legacyFileRequest struct {
	SourceSystem string `json:"sourceSystem" form:"sourceSystem" binding:"required"`
	FilePath     string `json:"filePath" form:"filePath"`
	DataType     string `json:"dataType" form:"dataType" binding:"required"`
	SubmittedBy  string `json:"submittedBy" form:"submittedBy"`
	Async        bool   `json:"async" form:"async"`
}

type resolveReviewRequest struct {
	Decision string `json:"decision" binding:"required,oneof=ACCEPTED REJECTED"`
}

// IngestData handles POST /ingestion.
func (s *Server) IngestData(c *gin.Context) {
	var body ingestDataRequest
	if !bind(c, &body) {
		return
	}
	resp := s.ingestion.IngestData(c.Request.Context(), body.toDomain(c))
	c.JSON(http.StatusCreated, resp)
}

// ValidateData handles POST /ingestion/validate: validation only, nothing is
// stored.
func (s *Server) ValidateData(c *gin.Context) {
	var body ingestDataRequest
	if !bind(c, &body) {
		return
	}
	req := body.toDomain(c)
	req.ValidateOnly = true
	c.JSON(http.StatusOK, s.ingestion.IngestData(c.Request.Context(), req))
}

// IngestBatch handles POST /ingestion/batch.
func (s *Server) IngestBatch(c *gin.Context) {
	var body ingestBatchRequest
	if !bind(c, &body) {
		return
	}
	reqs := make([]domain.IngestionRequest, 0, len(body.Records))
	for _, r := range body.Records {
		reqs = append(reqs, r.toDomain(c))
	}
	resp := s.ingestion.IngestBatch(c.Request.Context(), reqs, strings.TrimSpace(body.BatchID))
	c.JSON(http.StatusCreated, resp)
}

// GetIngestionStatus handles GET /ingestion/:id.
func (s *Server) GetIngestionStatus(c *gin.Context) {
	resp := s.ingestion.GetIngestionStatus(c.Request.Context(), c.Param("id"))
	c.JSON(responseStatus(resp, http.StatusOK), resp)
}

// GetIngestionStatistics handles GET /ingestion/statistics?batchId=.
func (s *Server) GetIngestionStatistics(c *gin.Context) {
	var batchID *string
	if id := strings.TrimSpace(c.Query("batchId")); id != "" {
		batchID = &id
	}
	resp := s.ingestion.GetIngestionStatistics(c.Request.Context(), batchID)
	c.JSON(responseStatus(resp, http.StatusOK), resp)
}

// ListBatches handles GET /ingestion/batches.
func (s *Server) ListBatches(c *gin.Context) {
	filter := domain.BatchFilter{
		SourceSystem: strings.TrimSpace(c.Query("sourceSystem")),
		Status:       domain.Status(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
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
	if filter.Offset, err = queryInt(c, "offset", 0); err != nil {
		_ = c.Error(err)
		return
	}

	batches, err := s.ingestion.ListBatches(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": batches, "count": len(batches)})
}

// ProcessLegacyFile handles POST /ingestion/legacy. The file is either a
// multipart upload ("file") or a path inside the upload directory. With
// async the batch is only queued and the response carries its id; the
// upload is removed when the queued batch finishes.
func (s *Server) ProcessLegacyFile(c *gin.Context) {
	var body legacyFileRequest
	uploaded := false

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)
		if err := c.ShouldBind(&body); err != nil {
			_ = c.Error(apperrors.Wrap(err, apperrors.CodeInvalidRequestField, "Invalid legacy file form", http.StatusBadRequest))
			return
		}
		path, err := s.saveUpload(c)
		if err != nil {
			_ = c.Error(err)
			return
		}
		body.FilePath = path
		uploaded = true
	} else if !bind(c, &body) {
		return
	}

	if strings.TrimSpace(body.FilePath) == "" {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequestField, "filePath or a file upload is required").
			WithFieldErrors([]apperrors.FieldError{{Field: "filePath", Code: "required"}}))
		return
	}
	if !uploaded {
		path, ok := ingestion.ResolveUpload(ingestion.UploadRoot(s.uploadDir), body.FilePath)
		if !ok {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequestField, "filePath must be inside the upload directory").
				WithFieldErrors([]apperrors.FieldError{{Field: "filePath", Code: "outside_upload_dir"}}))
			return
		}
		body.FilePath = path
	}
	if q := c.Query("async"); q != "" {
		body.Async, _ = strconv.ParseBool(q)
	}

	req := ingestion.FileRequest{
		SourceSystem: strings.TrimSpace(body.SourceSystem),
		FilePath:     body.FilePath,
		DataType:     domain.ParseDataType(body.DataType),
		SubmittedBy:  submitter(c, body.SubmittedBy),
		Uploaded:     uploaded,
	}

	if body.Async {
		resp := s.ingestion.ProcessLegacyDataFileAsync(c.Request.Context(), req)
		status := http.StatusAccepted
		if resp.Status != domain.StatusReceived {
			status = http.StatusCreated
			if uploaded {
				removeUpload(req.FilePath)
			}
		}
		c.JSON(status, resp)
		return
	}

	resp := s.ingestion.ProcessLegacyDataFile(c.Request.Context(), req)
	if uploaded {
		removeUpload(req.FilePath)
	}
	c.JSON(http.StatusCreated, resp)
}

// saveUpload stores the multipart file under the upload directory. The
// original extension is kept since the parser picks the format from it.
func (s *Server) saveUpload(c *gin.Context) (string, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInvalidRequestField, "file upload is missing", http.StatusBadRequest)
	}

	dir := ingestion.UploadRoot(s.uploadDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "Upload directory unavailable", http.StatusInternalServerError)
	}

	id, _ := uuid.NewV7()
	dst, ok := ingestion.ResolveUpload(dir, id.String()+strings.ToLower(filepath.Ext(fh.Filename)))
	if !ok {
		return "", apperrors.Internal(apperrors.CodeInternal, "Upload directory unavailable")
	}
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "Failed to store upload", http.StatusInternalServerError)
	}
	logger.Info("legacy file uploaded",
		zap.String("filename", fh.Filename),
		zap.String("path", dst),
		zap.Int64("size", fh.Size),
	)
	return dst, nil
}

func removeUpload(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove upload", zap.String("path", path), zap.Error(err))
	}
}

// ListReviewItems handles GET /ingestion/reviews?status=&limit=.
func (s *Server) ListReviewItems(c *gin.Context) {
	status := domain.ReviewStatus(strings.ToUpper(strings.TrimSpace(c.DefaultQuery("status", string(domain.ReviewPending)))))
	limit, err := queryLimit(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	items, err := s.ingestion.ListReviewItems(c.Request.Context(), status, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if items == nil {
		items = []*domain.ReviewItem{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// ResolveReviewItem handles POST /ingestion/reviews/:id/resolve.
func (s *Server) ResolveReviewItem(c *gin.Context) {
	var body resolveReviewRequest
	if !bind(c, &body) {
		return
	}
	item, err := s.ingestion.ResolveReviewItem(c.Request.Context(), c.Param("id"),
		domain.ReviewStatus(body.Decision), submitter(c, ""))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, item)
}
