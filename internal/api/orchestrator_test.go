package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rvhonorato/orchestrator/internal/artifact"
	"github.com/rvhonorato/orchestrator/internal/config"
	"github.com/rvhonorato/orchestrator/internal/db"
	"github.com/rvhonorato/orchestrator/internal/repositories"
)

type orchestratorFixture struct {
	router http.Handler
	jobs   repositories.JobRepository
	gormDB *gorm.DB
	store  *artifact.Store
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	database, err := db.New(db.Config{Driver: "sqlite", DSN: ":memory:", Logger: zap.NewNop()})
	require.NoError(t, err)

	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		Services: map[string]config.Service{
			"test-service": {
				Name:        "test-service",
				UploadURL:   "http://dest/upload",
				DownloadURL: "http://dest/download",
				RunsPerUser: 5,
			},
		},
	}

	jobs := repositories.NewJobRepository(database)
	router := NewOrchestratorRouter(OrchestratorRouterConfig{
		Jobs:   jobs,
		Store:  store,
		Config: cfg,
		DB:     database,
		Logger: zap.NewNop(),
	})

	return &orchestratorFixture{router: router, jobs: jobs, gormDB: database, store: store}
}

// multipartUpload builds a POST /upload body with the given text fields and
// files.
func multipartUpload(t *testing.T, fields map[string]string, files map[string][]byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, value := range fields {
		require.NoError(t, w.WriteField(name, value))
	}
	for name, content := range files {
		fw, err := w.CreateFormFile(name, name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadQueuesJob(t *testing.T) {
	fx := newOrchestratorFixture(t)

	req := multipartUpload(t,
		map[string]string{"user_id": "42", "service": "test-service"},
		map[string][]byte{"test.txt": []byte("alpha"), "test01.txt": []byte("beta")},
	)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var job db.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, int64(1), job.ID)
	assert.Equal(t, int64(42), job.UserID)
	assert.Equal(t, "test-service", job.Service)
	assert.Equal(t, db.StatusQueued, job.Status)

	// Submitted bytes landed under loc with their original basenames.
	first, err := os.ReadFile(filepath.Join(job.Loc, "test.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(first))
	second, err := os.ReadFile(filepath.Join(job.Loc, "test01.txt"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(second))

	stored, err := fx.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusQueued, stored.Status)
}

func TestUploadUnknownService(t *testing.T) {
	fx := newOrchestratorFixture(t)

	req := multipartUpload(t,
		map[string]string{"user_id": "42", "service": "not-configured"},
		map[string][]byte{"test.txt": []byte("alpha")},
	)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The staging directory was removed and no job row was written.
	entries, err := os.ReadDir(fx.store.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = fx.jobs.GetByID(context.Background(), 1)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestUploadInvalidUserID(t *testing.T) {
	fx := newOrchestratorFixture(t)

	req := multipartUpload(t,
		map[string]string{"user_id": "not-a-number", "service": "test-service"},
		map[string][]byte{"test.txt": []byte("alpha")},
	)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	entries, err := os.ReadDir(fx.store.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadMissingService(t *testing.T) {
	fx := newOrchestratorFixture(t)

	req := multipartUpload(t,
		map[string]string{"user_id": "42"},
		map[string][]byte{"test.txt": []byte("alpha")},
	)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadNotMultipart(t *testing.T) {
	fx := newOrchestratorFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString(`{"user_id":42}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadSanitizesFilenames(t *testing.T) {
	fx := newOrchestratorFixture(t)

	req := multipartUpload(t,
		map[string]string{"user_id": "1", "service": "test-service"},
		map[string][]byte{"../../etc/passwd": []byte("nope")},
	)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var job db.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.FileExists(t, filepath.Join(job.Loc, "passwd"))
}

func TestDownloadStates(t *testing.T) {
	fx := newOrchestratorFixture(t)
	ctx := context.Background()

	// Completed job with an output archive on disk.
	completedLoc := t.TempDir()
	archive := []byte("zip-bytes")
	require.NoError(t, os.WriteFile(filepath.Join(completedLoc, "output.zip"), archive, 0o644))
	completed := &db.Job{UserID: 1, Service: "test-service", Status: db.StatusCompleted, Loc: completedLoc}
	require.NoError(t, fx.jobs.Create(ctx, completed))

	failed := &db.Job{UserID: 1, Service: "test-service", Status: db.StatusFailed, Loc: t.TempDir()}
	require.NoError(t, fx.jobs.Create(ctx, failed))

	queued := &db.Job{UserID: 1, Service: "test-service", Status: db.StatusQueued, Loc: t.TempDir()}
	require.NoError(t, fx.jobs.Create(ctx, queued))

	get := func(id string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		fx.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/"+id, nil))
		return rec
	}

	rec := get("1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, archive, rec.Body.Bytes())

	assert.Equal(t, http.StatusNoContent, get("2").Code)
	assert.Equal(t, http.StatusAccepted, get("3").Code)
	assert.Equal(t, http.StatusNotFound, get("999").Code)
	assert.Equal(t, http.StatusNotFound, get("abc").Code)
}

func TestDownloadServesStreamingArchive(t *testing.T) {
	fx := newOrchestratorFixture(t)
	ctx := context.Background()

	// The streaming adapter saves download.zip instead of output.zip.
	loc := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(loc, "download.zip"), []byte("streamed"), 0o644))
	job := &db.Job{UserID: 1, Service: "test-service", Status: db.StatusCompleted, Loc: loc}
	require.NoError(t, fx.jobs.Create(ctx, job))

	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "streamed", rec.Body.String())
}

func TestHealth(t *testing.T) {
	fx := newOrchestratorFixture(t)

	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
}

func TestPing(t *testing.T) {
	fx := newOrchestratorFixture(t)

	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pong", body["message"])
}
