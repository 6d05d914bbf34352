// Package orchestrator runs the staged analysis pipeline for uploaded
// datasets. Each job gets at most one background run which walks the
// fixed stage table, updating the job registry and broadcasting
// progress after every transition.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"insightpulse/internal/config"
	"insightpulse/internal/infrastructure"
	"insightpulse/internal/jobs"
	"insightpulse/pkg/contracts/events"
)

// Broadcaster delivers events to every subscriber of a job
type Broadcaster interface {
	BroadcastToJob(jobID string, event events.Event)
}

// Processor turns a raw upload into a structured dataset payload
type Processor interface {
	ProcessFile(ctx context.Context, data []byte, filename, domain string) (map[string]interface{}, error)
}

// Analyzer derives insights from a processed dataset
type Analyzer interface {
	Analyze(ctx context.Context, dataset map[string]interface{}, domain string) (map[string]interface{}, error)
}

// DatasetSource resolves the uploaded payload for a job
type DatasetSource interface {
	Dataset(jobID string) (data []byte, filename string, ok bool)
}

// handle tracks one in-flight pipeline run
type handle struct {
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator owns the lifecycle of analysis runs. It implements the
// job service contract consumed by the WebSocket layer.
type Orchestrator struct {
	registry    *jobs.Registry
	broadcaster Broadcaster
	processor   Processor
	analyzer    Analyzer
	datasets    DatasetSource
	cfg         config.PipelineConfig
	logger      *slog.Logger
	metrics     *infrastructure.BusinessMetrics

	mu      sync.Mutex
	handles map[string]*handle
}

// New creates an orchestrator with its collaborators injected.
func New(
	registry *jobs.Registry,
	broadcaster Broadcaster,
	processor Processor,
	analyzer Analyzer,
	datasets DatasetSource,
	cfg config.PipelineConfig,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry:    registry,
		broadcaster: broadcaster,
		processor:   processor,
		analyzer:    analyzer,
		datasets:    datasets,
		cfg:         cfg,
		logger:      logger,
		handles:     make(map[string]*handle),
	}
}

// SetMetrics attaches business metrics instruments. Optional.
func (o *Orchestrator) SetMetrics(m *infrastructure.BusinessMetrics) {
	o.metrics = m
}

// EnsureStarted creates the job if it does not exist and launches the
// pipeline run, unless one is already running or the job has reached a
// terminal state. Safe to call repeatedly for the same job.
func (o *Orchestrator) EnsureStarted(ctx context.Context, jobID, domain string) error {
	if jobID == "" {
		return errors.New("job id is required")
	}

	job := o.registry.Create(jobID, domain)
	if job.Status.IsTerminal() {
		o.logger.Debug("job already terminal, not restarting",
			"job_id", jobID, "status", string(job.Status))
		return nil
	}

	o.mu.Lock()
	if _, running := o.handles[jobID]; running {
		o.mu.Unlock()
		return nil
	}

	// The run outlives the subscribing connection; it is cancelled
	// explicitly, never by the caller's context.
	runCtx, cancel := context.WithCancel(context.Background())
	if traceID := infrastructure.GetTraceID(ctx); traceID != "" {
		runCtx = infrastructure.WithTraceID(runCtx, traceID)
	}
	runCtx = infrastructure.EnsureTraceID(runCtx)

	h := &handle{
		jobID:  jobID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.handles[jobID] = h
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.JobsStarted.Add(runCtx, 1)
		o.metrics.ActiveJobs.Add(runCtx, 1)
	}

	o.logger.Info("starting analysis pipeline",
		"job_id", jobID, "domain", job.Domain)

	go o.run(runCtx, h, jobID, job.Domain)
	return nil
}

// JobStatus returns a snapshot of the job state
func (o *Orchestrator) JobStatus(jobID string) (jobs.Job, bool) {
	return o.registry.Get(jobID)
}

// Cancel requests a stop of the job's run. The run finishes its
// current stage and then records a cancellation error. Cancelling a
// job with no active run is a no-op.
func (o *Orchestrator) Cancel(jobID string) {
	o.mu.Lock()
	h, ok := o.handles[jobID]
	o.mu.Unlock()
	if !ok {
		return
	}

	o.logger.Info("cancelling analysis pipeline", "job_id", jobID)
	h.cancel()
}

// ActiveRuns returns the number of in-flight pipeline runs
func (o *Orchestrator) ActiveRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
}

// Wait blocks until the job's run finishes or ctx expires. Returns
// immediately when no run is active for the job.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) error {
	o.mu.Lock()
	h, ok := o.handles[jobID]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels all active runs and waits for them to drain, up to
// the context deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	active := make([]*handle, 0, len(o.handles))
	for _, h := range o.handles {
		h.cancel()
		active = append(active, h)
	}
	o.mu.Unlock()

	for _, h := range active {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// run walks the stage table for one job. It is the only goroutine that
// writes this job's registry entry while active.
func (o *Orchestrator) run(ctx context.Context, h *handle, jobID, domain string) {
	defer func() {
		o.mu.Lock()
		delete(o.handles, jobID)
		o.mu.Unlock()
		close(h.done)
		if o.metrics != nil {
			o.metrics.ActiveJobs.Add(ctx, -1)
		}
	}()

	var (
		dataset  map[string]interface{}
		insights map[string]interface{}
	)

	for _, st := range pipelineStages {
		if ctx.Err() != nil {
			o.failJob(ctx, jobID, NewCancellationError(st.Name))
			return
		}

		o.advance(jobID, st)

		started := time.Now()
		var err error
		switch st.Kind {
		case kindProcess:
			dataset, err = o.processStage(ctx, jobID, domain, st)
		case kindAnalyze:
			insights, err = o.analyzeStage(ctx, dataset, domain, st)
		default:
			err = o.sleepStage(ctx)
		}
		if o.metrics != nil {
			o.metrics.RecordStageDuration(ctx, domain, st.Name, time.Since(started))
		}
		if err != nil {
			o.failJob(ctx, jobID, err)
			return
		}
	}

	o.completeJob(ctx, jobID, insights)
}

// advance records the stage transition and fans it out to subscribers
func (o *Orchestrator) advance(jobID string, st stage) {
	status := st.Status
	o.registry.Update(jobID, jobs.Patch{
		Status:   &status,
		Stage:    &st.Name,
		Progress: &st.Progress,
		Message:  &st.Message,
	})

	o.broadcaster.BroadcastToJob(jobID,
		events.NewJobUpdate(jobID, string(st.Status), st.Progress, st.Name, st.Message))

	o.logger.Debug("pipeline stage advanced",
		"job_id", jobID, "stage", st.Name, "progress", st.Progress)
}

// processStage parses the uploaded file under the processing timeout
func (o *Orchestrator) processStage(ctx context.Context, jobID, domain string, st stage) (map[string]interface{}, error) {
	data, filename, ok := o.datasets.Dataset(jobID)
	if !ok {
		return nil, NewDatasetNotFoundError(jobID)
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.ProcessTimeout)
	defer cancel()

	dataset, err := o.processor.ProcessFile(stageCtx, data, filename, domain)
	if err != nil {
		return nil, o.classify(ctx, stageCtx, st.Name, o.cfg.ProcessTimeout, err)
	}
	return dataset, nil
}

// analyzeStage derives insights under the analysis timeout
func (o *Orchestrator) analyzeStage(ctx context.Context, dataset map[string]interface{}, domain string, st stage) (map[string]interface{}, error) {
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.AnalyzeTimeout)
	defer cancel()

	insights, err := o.analyzer.Analyze(stageCtx, dataset, domain)
	if err != nil {
		return nil, o.classify(ctx, stageCtx, st.Name, o.cfg.AnalyzeTimeout, err)
	}
	return insights, nil
}

// sleepStage pauses between report-only stages, waking early on cancel
func (o *Orchestrator) sleepStage(ctx context.Context) error {
	if o.cfg.StageDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(o.cfg.StageDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		// The cancellation is reported at the top of the next
		// iteration so the current stage stays fully recorded.
		return nil
	}
}

// classify maps a collaborator error to a stage error, distinguishing
// run cancellation from stage timeout.
func (o *Orchestrator) classify(runCtx, stageCtx context.Context, stageName string, timeout time.Duration, err error) error {
	switch {
	case runCtx.Err() != nil:
		return NewCancellationError(stageName)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		return NewTimeoutError(stageName, timeout)
	default:
		return NewExecutionError(stageName, err)
	}
}

// failJob marks the job failed and notifies subscribers
func (o *Orchestrator) failJob(ctx context.Context, jobID string, err error) {
	o.registry.Fail(jobID, err.Error())
	o.broadcaster.BroadcastToJob(jobID, events.NewJobError(jobID, err.Error()))

	if IsCancellation(err) {
		o.logger.Info("analysis pipeline cancelled", "job_id", jobID)
		if o.metrics != nil {
			o.metrics.JobsCancelled.Add(ctx, 1)
		}
		return
	}

	o.logger.Error("analysis pipeline failed", "job_id", jobID, "error", err)
	if o.metrics != nil {
		o.metrics.JobsFailed.Add(ctx, 1)
	}
}

// completeJob records the final result and emits the completion event
func (o *Orchestrator) completeJob(ctx context.Context, jobID string, insights map[string]interface{}) {
	o.registry.Complete(jobID, insights)
	o.broadcaster.BroadcastToJob(jobID,
		events.NewJobComplete(jobID, "insights_ready", "Analysis complete", insights))

	o.logger.Info("analysis pipeline completed", "job_id", jobID)
	if o.metrics != nil {
		o.metrics.JobsCompleted.Add(ctx, 1)
	}
}
