package jobs

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestCreate(t *testing.T) {
	r := newTestRegistry()

	job := r.Create("job_1", "financial")

	assert.Equal(t, "job_1", job.ID)
	assert.Equal(t, "financial", job.Domain)
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Empty(t, job.Stage)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Nil(t, job.CompletedAt)
}

func TestCreateIsIdempotent(t *testing.T) {
	r := newTestRegistry()

	r.Create("job_1", "financial")
	progress := 40
	stage := "csv_parsing"
	r.Update("job_1", Patch{Progress: &progress, Stage: &stage})

	// A second create for the same id must not reset the job
	again := r.Create("job_1", "retail")

	assert.Equal(t, "financial", again.Domain)
	assert.Equal(t, 40, again.Progress)
	assert.Equal(t, "csv_parsing", again.Stage)
	assert.Equal(t, 1, r.Count())
}

func TestUpdateMergesFields(t *testing.T) {
	r := newTestRegistry()
	r.Create("job_1", "financial")

	status := StatusAnalyzing
	stage := "ai_analysis"
	progress := 80
	message := "Running AI analysis"
	r.Update("job_1", Patch{Status: &status, Stage: &stage, Progress: &progress, Message: &message})

	job, found := r.Get("job_1")
	require.True(t, found)
	assert.Equal(t, StatusAnalyzing, job.Status)
	assert.Equal(t, "ai_analysis", job.Stage)
	assert.Equal(t, 80, job.Progress)
	assert.Equal(t, "Running AI analysis", job.Message)
}

func TestUpdatePartialPatch(t *testing.T) {
	r := newTestRegistry()
	r.Create("job_1", "financial")

	stage := "uploading"
	progress := 10
	r.Update("job_1", Patch{Stage: &stage, Progress: &progress})

	// A later patch without progress leaves progress untouched
	stage2 := "encoding_detection"
	r.Update("job_1", Patch{Stage: &stage2})

	job, _ := r.Get("job_1")
	assert.Equal(t, "encoding_detection", job.Stage)
	assert.Equal(t, 10, job.Progress)
}

func TestUpdateUnknownJobIsNoOp(t *testing.T) {
	r := newTestRegistry()

	progress := 50
	r.Update("missing", Patch{Progress: &progress})

	_, found := r.Get("missing")
	assert.False(t, found)
}

func TestProgressNeverRegresses(t *testing.T) {
	r := newTestRegistry()
	r.Create("job_1", "financial")

	high := 60
	r.Update("job_1", Patch{Progress: &high})
	low := 20
	r.Update("job_1", Patch{Progress: &low})

	job, _ := r.Get("job_1")
	assert.Equal(t, 60, job.Progress)
}

func TestComplete(t *testing.T) {
	r := newTestRegistry()
	r.Create("job_1", "financial")

	r.Complete("job_1", map[string]interface{}{"kpi": 42.0})

	job, found := r.Get("job_1")
	require.True(t, found)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, map[string]interface{}{"kpi": 42.0}, job.Result)
	assert.Empty(t, job.Error)
	require.NotNil(t, job.CompletedAt)
}

func TestFail(t *testing.T) {
	r := newTestRegistry()
	r.Create("job_1", "financial")

	r.Fail("job_1", "csv parsing failed")

	job, found := r.Get("job_1")
	require.True(t, found)
	assert.Equal(t, StatusError, job.Status)
	assert.Equal(t, "csv parsing failed", job.Error)
	assert.Nil(t, job.Result)
	require.NotNil(t, job.CompletedAt)
}

func TestTerminalStateIsExclusive(t *testing.T) {
	r := newTestRegistry()
	r.Create("job_1", "financial")
	r.Fail("job_1", "boom")

	// No transition out of error
	r.Complete("job_1", map[string]interface{}{"kpi": 1.0})
	stage := "ai_analysis"
	r.Update("job_1", Patch{Stage: &stage})

	job, _ := r.Get("job_1")
	assert.Equal(t, StatusError, job.Status)
	assert.Empty(t, job.Stage)
	assert.Nil(t, job.Result)
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := newTestRegistry()
	r.Create("job_1", "financial")
	r.Complete("job_1", map[string]interface{}{"kpi": 1.0})

	job, _ := r.Get("job_1")
	job.Result["kpi"] = 999.0
	job.Stage = "tampered"

	fresh, _ := r.Get("job_1")
	assert.Equal(t, 1.0, fresh.Result["kpi"])
	assert.Empty(t, fresh.Stage)
}

func TestConcurrentAccess(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("job_%d", n)
			r.Create(id, "financial")
			for p := 0; p <= 100; p += 10 {
				progress := p
				r.Update(id, Patch{Progress: &progress})
				r.Get(id)
			}
			r.Complete(id, map[string]interface{}{"done": true})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, r.Count())
	for _, job := range r.List() {
		assert.Equal(t, StatusCompleted, job.Status)
		assert.Equal(t, 100, job.Progress)
	}
}
