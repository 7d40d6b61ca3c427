package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsr.gov.ph/registry/internal/config"
	"dsr.gov.ph/registry/internal/domain"
	"dsr.gov.ph/registry/internal/ingestion"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080},
		Database: config.DatabaseConfig{InMemory: true},
		Worker:   config.WorkerConfig{IngestPoolSize: 2, ArchivePoolSize: 1},
		Ingestion: config.IngestionConfig{
			Parallelism: 2,
			FileTimeout: time.Minute,
			UploadDir:   t.TempDir(),
			Dedup:       config.DedupConfig{RejectThreshold: 0.9, MergeThreshold: 0.75, MaxCandidates: 50},
			Retry:       config.RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		},
		Archiving: config.ArchivingConfig{DefaultRetentionDays: 2555, BatchSize: 100},
	}
}

func newInMemoryApp(t *testing.T, mutate func(*config.Config)) *Application {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	app, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))
	t.Cleanup(app.Shutdown)
	return app
}

func TestBootstrap_NoDB(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     65432,
		User:     "test",
		Password: "test",
		Database: "test",
		SSLMode:  "disable",
		MaxConns: 5,
		MinConns: 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app, err := Bootstrap(ctx, cfg)
	require.Error(t, err, "Bootstrap should fail without database")
	assert.Nil(t, app)
}

func TestBootstrap_InMemoryServesAPI(t *testing.T) {
	app := newInMemoryApp(t, nil)
	require.Nil(t, app.DB)
	require.NotNil(t, app.Ingestion)
	require.NotNil(t, app.Archiving)

	body, _ := json.Marshal(map[string]any{
		"sourceSystem": domain.SourceManualEntry,
		"dataType":     "INDIVIDUAL",
		"dataPayload": map[string]any{
			"psn":         "1234-5678-9012",
			"firstName":   "Juan",
			"lastName":    "Dela Cruz",
			"dateOfBirth": "1990-05-15",
			"sex":         "M",
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingestion", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp domain.IngestionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.StatusSuccess, resp.Status)
}

func TestBootstrap_InMemoryAsyncFileUsesPools(t *testing.T) {
	app := newInMemoryApp(t, nil)

	path := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(path, []byte("psn,firstName,lastName,dateOfBirth,sex\n"+
		"1234-5678-9012,Juan,Dela Cruz,1990-05-15,M\n"), 0o600))

	ctx := context.Background()
	resp := app.Ingestion.ProcessLegacyDataFileAsync(ctx, ingestion.FileRequest{
		SourceSystem: domain.SourceListahanan,
		FilePath:     path,
		DataType:     domain.DataTypeIndividual,
	})
	require.Equal(t, domain.StatusReceived, resp.Status, resp.Message)

	require.Eventually(t, func() bool {
		return app.Ingestion.GetIngestionStatus(ctx, resp.BatchID).Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.StatusSuccess, app.Ingestion.GetIngestionStatus(ctx, resp.BatchID).Status)
}

func TestApplication_Shutdown_Nil(t *testing.T) {
	app := &Application{}
	assert.NotPanics(t, app.Shutdown)
}

func TestApplicationMode_InMemory(t *testing.T) {
	app := newInMemoryApp(t, func(c *config.Config) { c.Security.AuthEnabled = false })

	mode := app.Mode()
	assert.Equal(t, Mode{Storage: "memory", JobQueue: "ingest_pool", Locker: "memory", Events: "log"}, mode)
	assert.Len(t, mode.Fields(), 5)
}
