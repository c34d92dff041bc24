package model

import (
	"fmt"
	"time"
)

// EventName is the top-level envelope discriminator on the event bus.
type EventName string

const (
	// EventTaskUpdate carries per-job progress and stage updates, routed to the
	// job's room.
	EventTaskUpdate EventName = "task_update"
	// EventUserNotification carries terminal summaries routed to the owner's
	// personal room.
	EventUserNotification EventName = "user_notification"
)

// EventType is the fine-grained update kind inside the envelope data.
type EventType string

const (
	EventTypeProgress      EventType = "progress"
	EventTypeStageStart    EventType = "stage_start"
	EventTypeStageComplete EventType = "stage_complete"
	EventTypeComplete      EventType = "complete"
	EventTypeError         EventType = "error"
)

// Envelope is the wire format published on the event bus and forwarded to
// WebSocket rooms. Exactly one of JobID or UserID is set, matching Event.
type Envelope struct {
	Event  EventName `json:"event"`
	JobID  string    `json:"job_id,omitempty"`
	UserID string    `json:"user_id,omitempty"`
	Data   EventData `json:"data"`
	// EmittedAt is unix milliseconds at publish time. Informational only; room
	// delivery order follows bus order.
	EmittedAt int64 `json:"emitted_at"`
}

// Room returns the gateway room this envelope fans out to.
func (e *Envelope) Room() string {
	if e.Event == EventUserNotification {
		return UserRoom(e.UserID)
	}
	return JobRoom(e.JobID)
}

// EventData is the envelope payload. Fields are populated per Type; absent
// fields are omitted on the wire.
type EventData struct {
	Type     EventType `json:"type"`
	Stage    string    `json:"stage,omitempty"`
	Progress int       `json:"progress,omitempty"`
	Message  string    `json:"message,omitempty"`
	// Description is the human-readable stage label shown in progress UIs.
	Description string     `json:"description,omitempty"`
	Error       string     `json:"error,omitempty"`
	Status      JobStatus  `json:"status,omitempty"`
	Filename    string     `json:"filename,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
}

// JobRoom names the gateway room for one job's live updates.
func JobRoom(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// UserRoom names the gateway room for one user's notifications.
func UserRoom(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// NewTaskUpdate builds a task_update envelope for a job.
func NewTaskUpdate(jobID string, data EventData) Envelope {
	return Envelope{
		Event:     EventTaskUpdate,
		JobID:     jobID,
		Data:      data,
		EmittedAt: time.Now().UnixMilli(),
	}
}

// NewUserNotification builds a user_notification envelope for an owner.
func NewUserNotification(userID string, data EventData) Envelope {
	return Envelope{
		Event:     EventUserNotification,
		UserID:    userID,
		Data:      data,
		EmittedAt: time.Now().UnixMilli(),
	}
}
