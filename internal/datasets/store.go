// Package datasets holds uploaded dataset payloads in memory, keyed by
// the job they belong to. A dataset is written once at upload time and
// read once by the analysis pipeline.
package datasets

import (
	"log/slog"
	"sync"
	"time"
)

// Dataset is one uploaded file awaiting or undergoing analysis.
type Dataset struct {
	Filename   string
	Domain     string
	Data       []byte
	UploadedAt time.Time
}

// Store is a concurrency-safe in-memory dataset table.
type Store struct {
	mu     sync.RWMutex
	items  map[string]Dataset
	logger *slog.Logger
}

// NewStore creates an empty dataset store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		items:  make(map[string]Dataset),
		logger: logger,
	}
}

// Put stores the dataset for a job, replacing any previous upload.
func (s *Store) Put(jobID string, ds Dataset) {
	if ds.UploadedAt.IsZero() {
		ds.UploadedAt = time.Now()
	}

	s.mu.Lock()
	s.items[jobID] = ds
	s.mu.Unlock()

	s.logger.Debug("dataset stored",
		"job_id", jobID,
		"filename", ds.Filename,
		"size", len(ds.Data))
}

// Get returns the dataset for a job, if one was uploaded.
func (s *Store) Get(jobID string) (Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.items[jobID]
	return ds, ok
}

// Dataset returns the raw payload and filename for a job. It satisfies
// the orchestrator's dataset source contract.
func (s *Store) Dataset(jobID string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.items[jobID]
	if !ok {
		return nil, "", false
	}
	return ds.Data, ds.Filename, true
}

// Delete removes the dataset for a job. Safe to call for unknown ids.
func (s *Store) Delete(jobID string) {
	s.mu.Lock()
	delete(s.items, jobID)
	s.mu.Unlock()
}

// Count returns the number of stored datasets.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
