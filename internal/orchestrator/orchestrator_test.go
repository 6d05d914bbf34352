package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightpulse/internal/config"
	"insightpulse/internal/jobs"
	"insightpulse/pkg/contracts/events"
)

// eventSink records broadcasts in delivery order
type eventSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *eventSink) BroadcastToJob(jobID string, ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) all() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out
}

// fakeProcessor counts calls and optionally fails or blocks
type fakeProcessor struct {
	calls   int32
	err     error
	blockOn bool
}

func (p *fakeProcessor) ProcessFile(ctx context.Context, data []byte, filename, domain string) (map[string]interface{}, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.blockOn {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	return map[string]interface{}{"rows": 4, "filename": filename}, nil
}

type fakeAnalyzer struct {
	calls   int32
	err     error
	blockOn bool
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, dataset map[string]interface{}, domain string) (map[string]interface{}, error) {
	atomic.AddInt32(&a.calls, 1)
	if a.blockOn {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.err != nil {
		return nil, a.err
	}
	return map[string]interface{}{"headline": "looks healthy", "domain": domain}, nil
}

type fakeDatasets struct {
	data map[string][]byte
}

func (d *fakeDatasets) Dataset(jobID string) ([]byte, string, bool) {
	b, ok := d.data[jobID]
	return b, "test.csv", ok
}

type fixture struct {
	registry  *jobs.Registry
	sink      *eventSink
	processor *fakeProcessor
	analyzer  *fakeAnalyzer
	datasets  *fakeDatasets
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		registry:  jobs.NewRegistry(logger),
		sink:      &eventSink{},
		processor: &fakeProcessor{},
		analyzer:  &fakeAnalyzer{},
		datasets:  &fakeDatasets{data: map[string][]byte{}},
	}
	cfg := config.PipelineConfig{
		StageDelay:     time.Millisecond,
		ProcessTimeout: time.Second,
		AnalyzeTimeout: time.Second,
	}
	f.orch = New(f.registry, f.sink, f.processor, f.analyzer, f.datasets, cfg, logger)
	return f
}

func (f *fixture) await(t *testing.T, jobID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.orch.Wait(ctx, jobID))
}

func TestOrchestrator_FullPipeline(t *testing.T) {
	f := newFixture(t)
	f.datasets.data["job-1"] = []byte("a,b\n1,2\n")

	require.NoError(t, f.orch.EnsureStarted(context.Background(), "job-1", "retail"))
	f.await(t, "job-1")

	captured := f.sink.all()
	require.Len(t, captured, len(pipelineStages)+1)

	lastProgress := 0
	for i, st := range pipelineStages {
		ev := captured[i]
		assert.Equal(t, events.TypeJobUpdate, ev.Type)
		assert.Equal(t, "job-1", ev.JobID)
		assert.Equal(t, st.Name, ev.Stage)
		require.NotNil(t, ev.Progress)
		assert.Greater(t, *ev.Progress, lastProgress, "progress must increase")
		lastProgress = *ev.Progress
	}
	assert.Equal(t, 100, lastProgress)

	final := captured[len(captured)-1]
	assert.Equal(t, events.TypeJobComplete, final.Type)
	assert.Equal(t, "insights_ready", final.Stage)
	assert.Equal(t, "looks healthy", final.Insights["headline"])

	job, ok := f.registry.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotNil(t, job.CompletedAt)
}

func TestOrchestrator_StatusSwitchesToAnalyzing(t *testing.T) {
	f := newFixture(t)
	f.datasets.data["job-1"] = []byte("a,b\n1,2\n")

	require.NoError(t, f.orch.EnsureStarted(context.Background(), "job-1", "generic"))
	f.await(t, "job-1")

	for _, ev := range f.sink.all() {
		if ev.Type != events.TypeJobUpdate {
			continue
		}
		switch ev.Stage {
		case "ai_analysis", "sweetviz_report", "insights_ready":
			assert.Equal(t, string(jobs.StatusAnalyzing), ev.Status, "stage %s", ev.Stage)
		default:
			assert.Equal(t, string(jobs.StatusProcessing), ev.Status, "stage %s", ev.Stage)
		}
	}
}

func TestOrchestrator_AtMostOneRun(t *testing.T) {
	f := newFixture(t)
	f.datasets.data["job-1"] = []byte("a,b\n1,2\n")
	f.processor.blockOn = true

	ctx := context.Background()
	require.NoError(t, f.orch.EnsureStarted(ctx, "job-1", "retail"))
	require.NoError(t, f.orch.EnsureStarted(ctx, "job-1", "retail"))
	require.NoError(t, f.orch.EnsureStarted(ctx, "job-1", "financial"))

	assert.Equal(t, 1, f.orch.ActiveRuns())

	f.orch.Cancel("job-1")
	f.await(t, "job-1")
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.processor.calls))
}

func TestOrchestrator_TerminalJobNotRestarted(t *testing.T) {
	f := newFixture(t)
	f.datasets.data["job-1"] = []byte("a,b\n1,2\n")

	require.NoError(t, f.orch.EnsureStarted(context.Background(), "job-1", "retail"))
	f.await(t, "job-1")
	require.Equal(t, int32(1), atomic.LoadInt32(&f.processor.calls))

	// Re-subscribing after completion must not launch a second run
	require.NoError(t, f.orch.EnsureStarted(context.Background(), "job-1", "retail"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.processor.calls))
	assert.Equal(t, 0, f.orch.ActiveRuns())
}

func TestOrchestrator_MissingDataset(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.EnsureStarted(context.Background(), "job-1", "retail"))
	f.await(t, "job-1")

	captured := f.sink.all()
	require.NotEmpty(t, captured)
	final := captured[len(captured)-1]
	assert.Equal(t, events.TypeJobError, final.Type)
	assert.Contains(t, final.Error, "no dataset uploaded")

	job, ok := f.registry.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, jobs.StatusError, job.Status)
}

func TestOrchestrator_ProcessorFailureStopsPipeline(t *testing.T) {
	f := newFixture(t)
	f.datasets.data["job-1"] = []byte("not,really\ncsv")
	f.processor.err = errors.New("malformed row 2")

	require.NoError(t, f.orch.EnsureStarted(context.Background(), "job-1", "retail"))
	f.await(t, "job-1")

	captured := f.sink.all()
	final := captured[len(captured)-1]
	assert.Equal(t, events.TypeJobError, final.Type)
	assert.Contains(t, final.Error, "malformed row 2")

	// No stage beyond csv_parsing was ever announced
	for _, ev := range captured[:len(captured)-1] {
		assert.Equal(t, events.TypeJobUpdate, ev.Type)
		assert.NotEqual(t, "ai_analysis", ev.Stage)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.analyzer.calls))

	job, _ := f.registry.Get("job-1")
	assert.Equal(t, jobs.StatusError, job.Status)
	assert.Nil(t, job.Result)
}

func TestOrchestrator_AnalyzerTimeout(t *testing.T) {
	f := newFixture(t)
	f.datasets.data["job-1"] = []byte("a,b\n1,2\n")
	f.analyzer.blockOn = true
	f.orch.cfg.AnalyzeTimeout = 20 * time.Millisecond

	require.NoError(t, f.orch.EnsureStarted(context.Background(), "job-1", "retail"))
	f.await(t, "job-1")

	captured := f.sink.all()
	final := captured[len(captured)-1]
	require.Equal(t, events.TypeJobError, final.Type)
	assert.Contains(t, final.Error, "timeout")

	job, _ := f.registry.Get("job-1")
	assert.Equal(t, jobs.StatusError, job.Status)
}

func TestOrchestrator_CancelMidRun(t *testing.T) {
	f := newFixture(t)
	f.datasets.data["job-1"] = []byte("a,b\n1,2\n")
	f.processor.blockOn = true

	require.NoError(t, f.orch.EnsureStarted(context.Background(), "job-1", "retail"))
	f.orch.Cancel("job-1")
	f.await(t, "job-1")

	captured := f.sink.all()
	final := captured[len(captured)-1]
	assert.Equal(t, events.TypeJobError, final.Type)
	assert.Contains(t, final.Error, "cancelled")

	job, _ := f.registry.Get("job-1")
	assert.Equal(t, jobs.StatusError, job.Status)
	assert.Equal(t, 0, f.orch.ActiveRuns())
}

func TestOrchestrator_CancelUnknownJob(t *testing.T) {
	f := newFixture(t)

	// Must not panic or create state
	f.orch.Cancel("never-started")
	assert.Equal(t, 0, f.orch.ActiveRuns())
}

func TestOrchestrator_EmptyJobID(t *testing.T) {
	f := newFixture(t)

	err := f.orch.EnsureStarted(context.Background(), "", "retail")
	assert.Error(t, err)
}

func TestOrchestrator_Shutdown(t *testing.T) {
	f := newFixture(t)
	f.processor.blockOn = true
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		f.datasets.data[id] = []byte("a,b\n1,2\n")
		require.NoError(t, f.orch.EnsureStarted(context.Background(), id, "retail"))
	}
	require.Equal(t, 3, f.orch.ActiveRuns())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.orch.Shutdown(ctx))
	assert.Equal(t, 0, f.orch.ActiveRuns())
}

func TestOrchestrator_JobStatus(t *testing.T) {
	f := newFixture(t)
	f.datasets.data["job-1"] = []byte("a,b\n1,2\n")

	_, ok := f.orch.JobStatus("job-1")
	assert.False(t, ok)

	require.NoError(t, f.orch.EnsureStarted(context.Background(), "job-1", "retail"))
	f.await(t, "job-1")

	job, ok := f.orch.JobStatus("job-1")
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
}

func TestStageNames_Order(t *testing.T) {
	names := StageNames()
	assert.Equal(t, []string{
		"uploading",
		"encoding_detection",
		"csv_parsing",
		"data_quality_analysis",
		"column_labeling",
		"ai_analysis",
		"sweetviz_report",
		"insights_ready",
	}, names)
}
