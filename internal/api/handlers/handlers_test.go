package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsr.gov.ph/registry/internal/api/middleware"
	"dsr.gov.ph/registry/internal/archiving"
	"dsr.gov.ph/registry/internal/batch"
	"dsr.gov.ph/registry/internal/dedup"
	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/ingestion"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/repository/memory"
	"dsr.gov.ph/registry/internal/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

type testAPI struct {
	router   *gin.Engine
	registry *memory.Registry
	batches  *memory.BatchStore
	uploads  string
}

func newTestAPI(t *testing.T, checks map[string]HealthCheck, mw ...gin.HandlerFunc) *testAPI {
	t.Helper()
	reg := memory.NewRegistry()
	batches := memory.NewBatchStore()

	orch := ingestion.NewOrchestrator(ingestion.Deps{
		Validator: validation.NewRuleEngine(),
		Finder:    dedup.NewEngine(reg, dedup.DefaultConfig()),
		Persister: reg,
		Tracker:   batch.NewTracker(batches, nil),
		Reviews:   memory.NewReviewQueue(),
	}, ingestion.Config{Parallelism: 2})

	policies := archiving.NewPolicyStore(memory.NewPolicyRepository())
	require.NoError(t, policies.Load(context.Background()))
	arc := archiving.NewService(archiving.Deps{Store: reg, Policies: policies}, archiving.Config{})

	uploads := t.TempDir()
	srv := NewServer(ServerDeps{
		Ingestion: orch,
		Archiving: arc,
		Checks:    checks,
		UploadDir: uploads,
	})

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.ErrorHandler())
	srv.RegisterHealth(r)
	v1 := r.Group("/api/v1", mw...)
	srv.RegisterRoutes(v1)
	return &testAPI{router: r, registry: reg, batches: batches, uploads: uploads}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body=%s", w.Body.String())
	return v
}

func member(psn, first, last string) map[string]any {
	return map[string]any{
		"sourceSystem": domain.SourceManualEntry,
		"dataType":     "INDIVIDUAL",
		"dataPayload": map[string]any{
			"psn":         psn,
			"firstName":   first,
			"lastName":    last,
			"dateOfBirth": "1990-05-15",
			"sex":         "M",
		},
	}
}

type errorBody struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	FieldErrors []apperrors.FieldError `json:"field_errors"`
}

func TestIngestData(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodPost, "/api/v1/ingestion", member("1234-5678-9012", "Juan", "Dela Cruz"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[domain.IngestionResponse](t, w)
	assert.Equal(t, domain.StatusSuccess, resp.Status)
	assert.Equal(t, 1, resp.SuccessfulRecords)

	w = api.do(t, http.MethodGet, "/api/v1/ingestion/"+resp.IngestionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[domain.IngestionResponse](t, w)
	assert.Equal(t, domain.StatusSuccess, status.Status)
	assert.Equal(t, resp.BatchID, status.BatchID)

	t.Run("anonymous submitter is recorded", func(t *testing.T) {
		b, err := api.batches.FindByBatchID(context.Background(), resp.BatchID)
		require.NoError(t, err)
		assert.Equal(t, middleware.AnonymousActor, b.SubmittedBy)
	})
}

func TestIngestData_BindingErrors(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodPost, "/api/v1/ingestion", map[string]any{"dataType": "INDIVIDUAL"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, apperrors.CodeInvalidRequestField, body.Code)
	fields := map[string]string{}
	for _, fe := range body.FieldErrors {
		fields[fe.Field] = fe.Code
	}
	assert.Equal(t, "required", fields["sourceSystem"])
	assert.Equal(t, "required", fields["dataPayload"])

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingestion", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateData_StoresNothing(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodPost, "/api/v1/ingestion/validate", member("1234-5678-9012", "Juan", "Dela Cruz"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.StatusValid, decode[domain.IngestionResponse](t, w).Status)

	_, members, _ := api.registry.Counts()
	assert.Zero(t, members)
}

func TestIngestBatch(t *testing.T) {
	api := newTestAPI(t, nil)

	bad := member("", "Pedro", "Santos")
	w := api.do(t, http.MethodPost, "/api/v1/ingestion/batch", map[string]any{
		"batchId": "B-API-1",
		"records": []any{
			member("1234-5678-9012", "Juan", "Dela Cruz"),
			member("2234-5678-9012", "Maria", "Reyes"),
			bad,
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[domain.IngestionResponse](t, w)
	assert.Equal(t, "B-API-1", resp.BatchID)
	assert.Equal(t, domain.StatusPartial, resp.Status)
	assert.Equal(t, 3, resp.TotalRecords)
	assert.Equal(t, 2, resp.SuccessfulRecords)
	assert.Equal(t, 1, resp.FailedRecords)

	w = api.do(t, http.MethodGet, "/api/v1/ingestion/statistics?batchId=B-API-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[domain.IngestionResponse](t, w).TotalRecords)

	w = api.do(t, http.MethodGet, "/api/v1/ingestion/batches?status=partial", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Count int `json:"count"`
	}](t, w)
	assert.Equal(t, 1, list.Count)

	w = api.do(t, http.MethodPost, "/api/v1/ingestion/batch", map[string]any{"records": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetIngestionStatus_NotFound(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodGet, "/api/v1/ingestion/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.StatusNotFound, decode[domain.IngestionResponse](t, w).Status)

	w = api.do(t, http.MethodGet, "/api/v1/ingestion/statistics?batchId=nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListBatches_InvalidQuery(t *testing.T) {
	api := newTestAPI(t, nil)

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/v1/ingestion/batches?from=yesterday", nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/v1/ingestion/batches?limit=-3", nil).Code)
}

const peopleCSV = "psn,firstName,lastName,dateOfBirth,sex\n" +
	"1234-5678-9012,Juan,Dela Cruz,1990-05-15,M\n" +
	"2234-5678-9012,Maria,Reyes,1988-02-01,F\n"

func TestProcessLegacyFile_ServerPath(t *testing.T) {
	api := newTestAPI(t, nil)
	path := filepath.Join(api.uploads, "people.csv")
	require.NoError(t, os.WriteFile(path, []byte(peopleCSV), 0o600))

	w := api.do(t, http.MethodPost, "/api/v1/ingestion/legacy", map[string]any{
		"sourceSystem": domain.SourceListahanan,
		"filePath":     path,
		"dataType":     "INDIVIDUAL",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[domain.IngestionResponse](t, w)
	assert.Equal(t, domain.StatusSuccess, resp.Status)
	assert.Equal(t, 2, resp.SuccessfulRecords)

	w = api.do(t, http.MethodPost, "/api/v1/ingestion/legacy", map[string]any{
		"sourceSystem": domain.SourceListahanan,
		"dataType":     "INDIVIDUAL",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "filePath", decode[errorBody](t, w).FieldErrors[0].Field)

	relative := api.do(t, http.MethodPost, "/api/v1/ingestion/legacy", map[string]any{
		"sourceSystem": domain.SourceListahanan,
		"filePath":     "people.csv",
		"dataType":     "INDIVIDUAL",
	})
	require.Equal(t, http.StatusCreated, relative.Code, relative.Body.String())
	assert.FileExists(t, path, "server-side files are not removed")
}

func TestProcessLegacyFile_PathOutsideUploadDir(t *testing.T) {
	api := newTestAPI(t, nil)
	outside := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(outside, []byte(peopleCSV), 0o600))

	for _, p := range []string{outside, "../people.csv", "/etc/passwd"} {
		w := api.do(t, http.MethodPost, "/api/v1/ingestion/legacy", map[string]any{
			"sourceSystem": domain.SourceListahanan,
			"filePath":     p,
			"dataType":     "INDIVIDUAL",
		})
		require.Equal(t, http.StatusBadRequest, w.Code, p)
		body := decode[errorBody](t, w)
		require.Len(t, body.FieldErrors, 1)
		assert.Equal(t, "outside_upload_dir", body.FieldErrors[0].Code)
	}
	listed, err := api.batches.List(context.Background(), domain.BatchFilter{})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestProcessLegacyFile_Upload(t *testing.T) {
	api := newTestAPI(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("sourceSystem", domain.SourceListahanan))
	require.NoError(t, mw.WriteField("dataType", "INDIVIDUAL"))
	fw, err := mw.CreateFormFile("file", "people.CSV")
	require.NoError(t, err)
	_, err = fw.Write([]byte(peopleCSV))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingestion/legacy", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[domain.IngestionResponse](t, w)
	assert.Equal(t, 2, resp.TotalRecords)
	assert.Equal(t, domain.StatusSuccess, resp.Status)

	left, err := os.ReadDir(api.uploads)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestProcessLegacyFile_AsyncNotConfigured(t *testing.T) {
	api := newTestAPI(t, nil)
	path := filepath.Join(api.uploads, "people.csv")
	require.NoError(t, os.WriteFile(path, []byte(peopleCSV), 0o600))

	w := api.do(t, http.MethodPost, "/api/v1/ingestion/legacy?async=true", map[string]any{
		"sourceSystem": domain.SourceListahanan,
		"filePath":     path,
		"dataType":     "INDIVIDUAL",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, domain.StatusFailed, decode[domain.IngestionResponse](t, w).Status)
}

func TestReviewRoutes(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodGet, "/api/v1/ingestion/reviews", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"count":0}`, w.Body.String())

	w = api.do(t, http.MethodPost, "/api/v1/ingestion/reviews/missing/resolve", map[string]string{"decision": "ACCEPTED"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.CodeReviewNotFound, decode[errorBody](t, w).Code)

	w = api.do(t, http.MethodPost, "/api/v1/ingestion/reviews/missing/resolve", map[string]string{"decision": "MAYBE"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "oneof", decode[errorBody](t, w).FieldErrors[0].Code)
}

func TestArchivingRoutes(t *testing.T) {
	api := newTestAPI(t, nil)
	w := api.do(t, http.MethodPost, "/api/v1/ingestion", member("1234-5678-9012", "Juan", "Dela Cruz"))
	require.Equal(t, http.StatusCreated, w.Code)

	refs, err := api.registry.ListOlderThan(context.Background(), domain.EntityHouseholdMember, time.Now().Add(time.Hour), "", 10)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	memberID := refs[0].ID

	w = api.do(t, http.MethodPost, "/api/v1/archiving/entities", map[string]any{
		"entityId":   memberID,
		"entityType": "household_member",
		"reason":     "Deceased",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	archived := decode[domain.ArchivingResult](t, w)
	require.True(t, archived.Success)

	w = api.do(t, http.MethodGet, "/api/v1/archiving/entities/HOUSEHOLD_MEMBER/"+memberID+"/archived", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["archived"])

	w = api.do(t, http.MethodGet, "/api/v1/archiving?entityType=HOUSEHOLD_MEMBER", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["count"])

	w = api.do(t, http.MethodPost, "/api/v1/archiving/entities", map[string]any{
		"entityId":   memberID,
		"entityType": "HOUSEHOLD_MEMBER",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[domain.ArchivingResult](t, w).Success)

	w = api.do(t, http.MethodPost, "/api/v1/archiving/"+archived.ArchiveID+"/restore", nil)
	require.Equal(t, http.StatusOK, w.Code)
	restored := decode[domain.RestoreResult](t, w)
	assert.True(t, restored.Success)
	assert.Equal(t, 1, restored.RestoredCount)

	w = api.do(t, http.MethodPost, "/api/v1/archiving/unknown/restore", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Archive not found", decode[domain.RestoreResult](t, w).Message)

	w = api.do(t, http.MethodGet, "/api/v1/archiving/statistics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[domain.ArchivingStatistics](t, w)
	assert.Equal(t, 1, stats.TotalArchived)
	assert.Equal(t, 1, stats.TotalRestored)
}

func TestArchivingRoutes_Errors(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodGet, "/api/v1/archiving?from=2025-02-01&to=2025-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/archiving/bulk", map[string]any{
		"entityType": "HOUSEHOLD",
		"cutoffDate": "2020-01-01T00:00:00Z",
	})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[domain.ArchivingResult](t, w)
	assert.False(t, res.Success)
	assert.Equal(t, "No active retention policy found for entity type: HOUSEHOLD", res.Message)
}

func TestRetentionPolicyRoutes(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodPut, "/api/v1/archiving/policies/household", map[string]any{"retentionDays": 365})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decode[domain.RetentionPolicy](t, w)
	assert.Equal(t, domain.EntityHousehold, p.EntityType)
	assert.Equal(t, 365, p.RetentionDays)
	assert.True(t, p.AutoArchiveEnabled)

	w = api.do(t, http.MethodPut, "/api/v1/archiving/policies/HOUSEHOLD", map[string]any{"retentionDays": 0})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/archiving/policies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["count"])

	w = api.do(t, http.MethodPost, "/api/v1/archiving/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"entityType":"HOUSEHOLD"`)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	})
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/health/live", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/health/ready", nil).Code)

	down := newTestAPI(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	w := down.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "error", decode[map[string]any](t, w)["checks"].(map[string]any)["redis"])
}

func TestAuthenticatedSubmitter(t *testing.T) {
	cfg := middleware.JWTConfig{SigningKey: []byte("test-signing-key-1234567890123456"), ExpiresIn: time.Hour}
	api := newTestAPI(t, nil, middleware.JWTAuth(cfg))

	w := api.do(t, http.MethodPost, "/api/v1/ingestion", member("1234-5678-9012", "Juan", "Dela Cruz"))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	token, _, err := middleware.GenerateToken(cfg, "encoder-9", "ana", nil)
	require.NoError(t, err)
	body := member("1234-5678-9012", "Juan", "Dela Cruz")
	body["submittedBy"] = "spoofed"
	w = api.do(t, http.MethodPost, "/api/v1/ingestion", body, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode[domain.IngestionResponse](t, w)
	b, err := api.batches.FindByBatchID(context.Background(), resp.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "encoder-9", b.SubmittedBy)
}
