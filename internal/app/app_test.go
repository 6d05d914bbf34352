package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightpulse/internal/config"
	"insightpulse/internal/jobs"
)

func newTestApp(t *testing.T) *Application {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimit.Enabled = false
	cfg.Pipeline.StageDelay = time.Millisecond

	app, err := NewApplicationWithConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(app.Hub.Stop)
	return app
}

func TestApplication_HealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestApplication_MetricsEndpoint(t *testing.T) {
	app := newTestApp(t)

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestApplication_UploadThenQueryJob(t *testing.T) {
	app := newTestApp(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "sales.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("region,amount\nwest,120\neast,90\n"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("domain", "retail"))
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/datasets", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code)

	var upload struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &upload))
	require.NotEmpty(t, upload.JobID)

	// Dataset stored, no run started yet
	_, ok := app.Datasets.Get(upload.JobID)
	assert.True(t, ok)
	assert.Equal(t, 0, app.Orchestrator.ActiveRuns())

	// The job record does not exist until the first subscription
	w = httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs/"+upload.JobID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApplication_PipelineRunsToCompletion(t *testing.T) {
	app := newTestApp(t)

	jobID := "app-test-job"
	uploadDataset(t, app, jobID)

	require.NoError(t, app.Orchestrator.EnsureStarted(context.Background(), jobID, "retail"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Orchestrator.Wait(ctx, jobID))

	job, ok := app.Registry.Get(jobID)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotNil(t, job.Result)

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "completed")
}

func TestApplication_CancelEndpoint(t *testing.T) {
	app := newTestApp(t)

	jobID := "cancel-me"
	app.Registry.Create(jobID, "retail")

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func uploadDataset(t *testing.T, app *Application, jobID string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "data.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("region,amount\nwest,120\neast,90\n"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("domain", "retail"))
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/datasets", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var upload struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &upload))

	// Re-key the stored dataset under the fixed test job id
	ds, ok := app.Datasets.Get(upload.JobID)
	require.True(t, ok)
	app.Datasets.Put(jobID, ds)
	app.Datasets.Delete(upload.JobID)
}
