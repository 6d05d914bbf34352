// Package events contains the WebSocket wire contracts shared by the
// hub, the orchestrator and clients of the insightpulse API.
package events

import (
	"encoding/json"
	"time"
)

// Type defines the type of an outbound WebSocket event
type Type string

const (
	TypePong        Type = "pong"
	TypeSubscribed  Type = "subscribed"
	TypeJobUpdate   Type = "job_update"
	TypeJobComplete Type = "job_complete"
	TypeJobError    Type = "job_error"
	TypeJobStatus   Type = "job_status"
	TypeEcho        Type = "echo"
)

// Event is the single outbound envelope. Fields not used by a given
// event type are omitted from the JSON encoding.
type Event struct {
	Type      Type                   `json:"type"`
	JobID     string                 `json:"job_id,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Progress  *int                   `json:"progress,omitempty"`
	Stage     string                 `json:"stage,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Insights  map[string]interface{} `json:"insights,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Data      json.RawMessage        `json:"data,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

func now() string {
	return time.Now().Format(time.RFC3339)
}

// NewPong builds the reply to an inbound ping
func NewPong() Event {
	return Event{Type: TypePong, Timestamp: now()}
}

// NewSubscribed acknowledges a subscription
func NewSubscribed(jobID string) Event {
	return Event{Type: TypeSubscribed, JobID: jobID, Timestamp: now()}
}

// NewJobUpdate reports a stage transition of a running job
func NewJobUpdate(jobID, status string, progress int, stage, message string) Event {
	p := progress
	return Event{
		Type:      TypeJobUpdate,
		JobID:     jobID,
		Status:    status,
		Progress:  &p,
		Stage:     stage,
		Message:   message,
		Timestamp: now(),
	}
}

// NewJobComplete reports terminal success with the accumulated insights
func NewJobComplete(jobID, stage, message string, insights map[string]interface{}) Event {
	p := 100
	return Event{
		Type:      TypeJobComplete,
		JobID:     jobID,
		Status:    "completed",
		Progress:  &p,
		Stage:     stage,
		Message:   message,
		Insights:  insights,
		Timestamp: now(),
	}
}

// NewJobError reports terminal failure
func NewJobError(jobID, errMsg string) Event {
	return Event{
		Type:      TypeJobError,
		JobID:     jobID,
		Status:    "error",
		Error:     errMsg,
		Timestamp: now(),
	}
}

// NewJobStatus is the reply to a get_status request
func NewJobStatus(jobID, status string, progress *int, stage string) Event {
	return Event{
		Type:      TypeJobStatus,
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		Stage:     stage,
		Timestamp: now(),
	}
}

// NewEcho wraps an unrecognized inbound payload so the sender can see
// what the server received
func NewEcho(raw json.RawMessage) Event {
	return Event{Type: TypeEcho, Data: raw, Timestamp: now()}
}
