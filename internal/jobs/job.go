package jobs

import (
	"time"
)

// Status represents the overall job status enum
type Status string

const (
	StatusProcessing Status = "processing"
	StatusAnalyzing  Status = "analyzing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsTerminal reports whether the status admits no further transitions
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Job represents one tracked analysis run
type Job struct {
	ID          string                 `json:"id"`
	Domain      string                 `json:"domain"`
	Status      Status                 `json:"status"`
	Stage       string                 `json:"stage"`
	Progress    int                    `json:"progress"`
	Message     string                 `json:"message,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to callers
func (j *Job) Clone() Job {
	clone := *j
	if j.Result != nil {
		clone.Result = make(map[string]interface{}, len(j.Result))
		for k, v := range j.Result {
			clone.Result[k] = v
		}
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		clone.CompletedAt = &t
	}
	return clone
}

// Patch carries the mutable fields of a job state update.
// Nil fields are left untouched by Registry.Update.
type Patch struct {
	Status   *Status
	Stage    *string
	Progress *int
	Message  *string
}
