package jobs

import (
	"log/slog"
	"sync"
	"time"
)

// Registry is the authoritative in-memory store of job state.
// All operations are atomic with respect to each other; reads return
// snapshots and never observe a partially applied update.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	logger *slog.Logger
}

// NewRegistry creates a new job registry with dependency injection
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		jobs:   make(map[string]*Job),
		logger: logger.With(slog.String("component", "jobs.registry")),
	}
}

// Create inserts a new job with the initial processing state. If the id
// already exists the existing job is returned unchanged; a repeated
// create never resets progress or stage.
func (r *Registry) Create(id, domain string) Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[id]; ok {
		return existing.Clone()
	}

	now := time.Now()
	job := &Job{
		ID:        id,
		Domain:    domain,
		Status:    StatusProcessing,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.jobs[id] = job

	r.logger.Info("job created",
		slog.String("job_id", id),
		slog.String("domain", domain))

	return job.Clone()
}

// Update merges the given patch into the job. An unknown id is logged
// and ignored. Progress never regresses while the job is not in error.
func (r *Registry) Update(id string, patch Patch) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		r.logger.Warn("update for unknown job ignored", slog.String("job_id", id))
		return
	}
	if job.Status.IsTerminal() {
		r.logger.Warn("update for terminal job ignored",
			slog.String("job_id", id),
			slog.String("status", string(job.Status)))
		return
	}

	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Stage != nil {
		job.Stage = *patch.Stage
	}
	if patch.Progress != nil && *patch.Progress > job.Progress {
		job.Progress = *patch.Progress
	}
	if patch.Message != nil {
		job.Message = *patch.Message
	}
	job.UpdatedAt = time.Now()
}

// Get returns a snapshot of the job state
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.Clone(), true
}

// List returns snapshots of all tracked jobs
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		list = append(list, job.Clone())
	}
	return list
}

// Complete moves the job to its terminal success state
func (r *Registry) Complete(id string, result map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		r.logger.Warn("complete for unknown job ignored", slog.String("job_id", id))
		return
	}
	if job.Status.IsTerminal() {
		return
	}

	now := time.Now()
	job.Status = StatusCompleted
	job.Progress = 100
	job.Result = result
	job.Error = ""
	job.UpdatedAt = now
	job.CompletedAt = &now
}

// Fail moves the job to its terminal error state
func (r *Registry) Fail(id string, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		r.logger.Warn("fail for unknown job ignored", slog.String("job_id", id))
		return
	}
	if job.Status.IsTerminal() {
		return
	}

	now := time.Now()
	job.Status = StatusError
	job.Error = errMsg
	job.Result = nil
	job.UpdatedAt = now
	job.CompletedAt = &now
}

// Count returns the number of tracked jobs
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
