package websocket

import (
	"context"
	"time"

	"insightpulse/internal/jobs"
)

// Connection abstracts the underlying websocket connection so the
// client pumps can be tested against a mock.
type Connection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	RemoteAddr() string
}

// JobService is what the session handler needs from the orchestration
// layer: start a run if none is active for the job, and answer status
// queries.
type JobService interface {
	// EnsureStarted creates the job if needed and starts an
	// orchestration run unless one is already active or the job is
	// terminal. It must not block on the pipeline.
	EnsureStarted(ctx context.Context, jobID, domain string) error

	// JobStatus returns a snapshot of the job state
	JobStatus(jobID string) (jobs.Job, bool)
}
