package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

func serve(t *testing.T, h gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.Use(RequestID(), ErrorHandler())
	router.GET("/x", h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w
}

func TestErrorHandler_NoErrors(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestErrorHandler_AppError(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		_ = c.Error(apperrors.ErrArchiveNotFoundf("a-1"))
	})
	require.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeArchiveNotFound, body["code"])
	assert.Equal(t, "Archive ID not found: a-1", body["message"])
	assert.Equal(t, map[string]any{"archive_id": "a-1"}, body["params"])
}

func TestErrorHandler_FieldErrors(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequestField, "invalid request").
			WithFieldErrors([]apperrors.FieldError{{Field: "retentionDays", Code: "min"}}))
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Code        string                 `json:"code"`
		FieldErrors []apperrors.FieldError `json:"field_errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, apperrors.CodeInvalidRequestField, body.Code)
	require.Len(t, body.FieldErrors, 1)
	assert.Equal(t, "retentionDays", body.FieldErrors[0].Field)
}

func TestErrorHandler_WrappedAppError(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("load: %w", apperrors.ErrBatchNotFoundf("B1")))
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorHandler_GenericError(t *testing.T) {
	w := serve(t, func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("boom"))
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
}

func TestRequestID_PropagatesHeader(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	var seen string
	router.GET("/x", func(c *gin.Context) {
		seen = GetRequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "rid-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "rid-42", seen)
	assert.Equal(t, "rid-42", w.Header().Get(RequestIDHeader))
}
