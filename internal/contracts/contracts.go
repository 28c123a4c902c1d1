// Package contracts defines the versioned event envelope and payload shapes
// shared by the publisher and every consumer service. The wire format follows
// the CloudEvents JSON convention used by the pub/sub gateway.
package contracts

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event types (closed enumeration).
const (
	EventTaskCreated       = "task.created"
	EventTaskUpdated       = "task.updated"
	EventTaskDeleted       = "task.deleted"
	EventTaskCompleted     = "task.completed"
	EventTaskUncompleted   = "task.uncompleted"
	EventReminderScheduled = "reminder.scheduled"
	EventReminderTriggered = "reminder.triggered"
)

// Topics (closed enumeration). Routing of event types to topics is owned by
// the publisher's call sites, not by the envelope.
const (
	TopicTaskEvents  = "task-events"
	TopicReminders   = "reminders"
	TopicTaskUpdates = "task-updates"
)

const (
	SpecVersion     = "1.0"
	SchemaVersion   = "1.0"
	Source          = "todo-backend"
	DataContentType = "application/json"
)

var ErrTaskIDRequired = errors.New("task_id is required")
var ErrUserIDRequired = errors.New("user_id is required")
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Envelope wraps a single domain event for transport. It is immutable once
// constructed; retries of the same logical event reuse the same ID.
type Envelope struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	DataContentType string          `json:"datacontenttype"`
	Time            string          `json:"time"`
	SchemaVersion   string          `json:"version"`
	Data            json.RawMessage `json:"data"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// KnownEventType reports whether t belongs to the closed event enumeration.
// Consumers treat unknown types as forward-compatible no-ops rather than
// errors, so parsing does not enforce this.
func KnownEventType(t string) bool {
	switch t {
	case EventTaskCreated, EventTaskUpdated, EventTaskDeleted,
		EventTaskCompleted, EventTaskUncompleted,
		EventReminderScheduled, EventReminderTriggered:
		return true
	default:
		return false
	}
}

// TaskSnapshot is the payload of task.created events.
type TaskSnapshot struct {
	TaskID      int64   `json:"task_id"`
	UserID      string  `json:"user_id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Priority    string  `json:"priority"`
	Category    string  `json:"category"`
	Status      string  `json:"status"`
	DueDate     *string `json:"due_date,omitempty"`
	Completed   bool    `json:"completed"`
}

// FieldChange records one field of an update-event change-set.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ChangeSet maps field names to their before/after values. An empty
// change-set is a legal no-op update.
type ChangeSet map[string]FieldChange

// TaskChangeData is the payload of task.updated events.
type TaskChangeData struct {
	TaskID  int64     `json:"task_id"`
	UserID  string    `json:"user_id"`
	Changes ChangeSet `json:"changes"`
}

// TaskRefData is the payload of task.deleted events.
type TaskRefData struct {
	TaskID int64  `json:"task_id"`
	UserID string `json:"user_id"`
}

// TaskCompletionData is the payload of task.completed and task.uncompleted
// events.
type TaskCompletionData struct {
	TaskID    int64  `json:"task_id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// ReminderData is the payload of reminder.scheduled and reminder.triggered
// events.
type ReminderData struct {
	TaskID   int64  `json:"task_id"`
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	DueDate  string `json:"due_date"`
	RemindAt string `json:"remind_at"`
}

func NewTaskCreated(snapshot TaskSnapshot) (Envelope, error) {
	if snapshot.TaskID == 0 {
		return Envelope{}, ErrTaskIDRequired
	}
	if snapshot.UserID == "" {
		return Envelope{}, ErrUserIDRequired
	}
	return newEnvelope(EventTaskCreated, snapshot)
}

func NewTaskUpdated(taskID int64, userID string, changes ChangeSet) (Envelope, error) {
	if taskID == 0 {
		return Envelope{}, ErrTaskIDRequired
	}
	if userID == "" {
		return Envelope{}, ErrUserIDRequired
	}
	if changes == nil {
		changes = ChangeSet{}
	}
	return newEnvelope(EventTaskUpdated, TaskChangeData{TaskID: taskID, UserID: userID, Changes: changes})
}

func NewTaskDeleted(taskID int64, userID string) (Envelope, error) {
	if taskID == 0 {
		return Envelope{}, ErrTaskIDRequired
	}
	if userID == "" {
		return Envelope{}, ErrUserIDRequired
	}
	return newEnvelope(EventTaskDeleted, TaskRefData{TaskID: taskID, UserID: userID})
}

// NewTaskCompleted produces a task.completed envelope, or task.uncompleted
// when the task was reopened.
func NewTaskCompleted(taskID int64, userID, title string, completed bool) (Envelope, error) {
	if taskID == 0 {
		return Envelope{}, ErrTaskIDRequired
	}
	if userID == "" {
		return Envelope{}, ErrUserIDRequired
	}
	eventType := EventTaskCompleted
	if !completed {
		eventType = EventTaskUncompleted
	}
	return newEnvelope(eventType, TaskCompletionData{TaskID: taskID, UserID: userID, Title: title, Completed: completed})
}

func NewReminderScheduled(reminder ReminderData) (Envelope, error) {
	if reminder.TaskID == 0 {
		return Envelope{}, ErrTaskIDRequired
	}
	if reminder.UserID == "" {
		return Envelope{}, ErrUserIDRequired
	}
	return newEnvelope(EventReminderScheduled, reminder)
}

func newEnvelope(eventType string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		SpecVersion:     SpecVersion,
		ID:              uuid.NewString(),
		Source:          Source,
		Type:            eventType,
		DataContentType: DataContentType,
		Time:            time.Now().UTC().Format(time.RFC3339),
		SchemaVersion:   SchemaVersion,
		Data:            data,
	}, nil
}

// Wire serializes the envelope for transport. Pure and deterministic for a
// given envelope value.
func (e Envelope) Wire() ([]byte, error) {
	return json.Marshal(e)
}

// Parse deserializes a wire-form envelope, requiring the fields every
// delivery must carry. The event type is not checked against the closed
// enumeration here so that consumers can skip future types gracefully.
func Parse(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, ErrInvalidEnvelope
	}
	if e.ID == "" || e.Type == "" {
		return Envelope{}, ErrInvalidEnvelope
	}
	return e, nil
}

// DecodeData unmarshals the event payload into the shape implied by Type.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return ErrInvalidEnvelope
	}
	return json.Unmarshal(e.Data, v)
}

// OccurredAt returns the envelope construction time, falling back to the
// supplied default when the timestamp is absent or malformed.
func (e Envelope) OccurredAt(fallback time.Time) time.Time {
	if e.Time == "" {
		return fallback
	}
	ts, err := time.Parse(time.RFC3339, e.Time)
	if err != nil {
		return fallback
	}
	return ts
}
