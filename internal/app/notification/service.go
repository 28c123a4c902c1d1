package notification

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/todostream/platform/internal/consumer"
	"github.com/todostream/platform/internal/contracts"
)

// Sender abstracts the connection registry for handler tests.
type Sender interface {
	SendToUser(userID string, payload any) int
}

// Notification is the message pushed to clients.
type Notification struct {
	Type      string              `json:"type"`
	Title     string              `json:"title"`
	Message   string              `json:"message"`
	TaskID    int64               `json:"task_id,omitempty"`
	DueDate   string              `json:"due_date,omitempty"`
	Changes   contracts.ChangeSet `json:"changes,omitempty"`
	Action    string              `json:"action,omitempty"`
	Timestamp string              `json:"timestamp"`
}

type Service struct {
	Connections Sender
	Now         func() time.Time
}

func NewService(connections Sender) *Service {
	return &Service{
		Connections: connections,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// HandleTaskEvents maps task lifecycle events to pushes. Events with no
// mapped template or no user are acknowledged without a push; only payload
// decode failures ask for redelivery.
func (s *Service) HandleTaskEvents(_ context.Context, envelope contracts.Envelope) consumer.Outcome {
	switch envelope.Type {
	case contracts.EventTaskCreated:
		var snapshot contracts.TaskSnapshot
		if err := envelope.DecodeData(&snapshot); err != nil {
			log.Printf("undecodable %s payload for event %s: %v", envelope.Type, envelope.ID, err)
			return consumer.Retry
		}
		return s.push(snapshot.UserID, Notification{
			Type:    "task_created",
			Title:   "New Task Created",
			Message: fmt.Sprintf("Task '%s' has been created", snapshot.Title),
			TaskID:  snapshot.TaskID,
		})

	case contracts.EventTaskUpdated:
		var change contracts.TaskChangeData
		if err := envelope.DecodeData(&change); err != nil {
			log.Printf("undecodable %s payload for event %s: %v", envelope.Type, envelope.ID, err)
			return consumer.Retry
		}
		if len(change.Changes) == 0 {
			return consumer.Success
		}
		return s.push(change.UserID, Notification{
			Type:    "task_updated",
			Title:   "Task Updated",
			Message: fmt.Sprintf("Task changed: %s", summarizeChanges(change.Changes)),
			TaskID:  change.TaskID,
			Changes: change.Changes,
		})

	case contracts.EventTaskCompleted, contracts.EventTaskUncompleted:
		var completion contracts.TaskCompletionData
		if err := envelope.DecodeData(&completion); err != nil {
			log.Printf("undecodable %s payload for event %s: %v", envelope.Type, envelope.ID, err)
			return consumer.Retry
		}
		notification := Notification{
			Type:    "task_completed",
			Title:   "Task Completed",
			Message: fmt.Sprintf("Task '%s' has been completed", completion.Title),
			TaskID:  completion.TaskID,
		}
		if !completion.Completed {
			notification.Type = "task_uncompleted"
			notification.Title = "Task Reopened"
			notification.Message = fmt.Sprintf("Task '%s' has been reopened", completion.Title)
		}
		return s.push(completion.UserID, notification)

	case contracts.EventTaskDeleted:
		var ref contracts.TaskRefData
		if err := envelope.DecodeData(&ref); err != nil {
			log.Printf("undecodable %s payload for event %s: %v", envelope.Type, envelope.ID, err)
			return consumer.Retry
		}
		return s.push(ref.UserID, Notification{
			Type:    "task_deleted",
			Title:   "Task Deleted",
			Message: "A task has been deleted",
			TaskID:  ref.TaskID,
		})

	default:
		// Forward compatibility: unknown types are acknowledged, not retried.
		return consumer.Success
	}
}

// HandleReminders pushes due-soon reminders.
func (s *Service) HandleReminders(_ context.Context, envelope contracts.Envelope) consumer.Outcome {
	var reminder contracts.ReminderData
	if err := envelope.DecodeData(&reminder); err != nil {
		log.Printf("undecodable reminder payload for event %s: %v", envelope.ID, err)
		return consumer.Retry
	}
	return s.push(reminder.UserID, Notification{
		Type:    "reminder",
		Title:   "Task Reminder",
		Message: fmt.Sprintf("Reminder: %s is due soon", reminder.Title),
		TaskID:  reminder.TaskID,
		DueDate: reminder.DueDate,
	})
}

// HandleTaskUpdates tells clients to refresh their local task list.
func (s *Service) HandleTaskUpdates(_ context.Context, envelope contracts.Envelope) consumer.Outcome {
	var ref struct {
		TaskID int64  `json:"task_id"`
		UserID string `json:"user_id"`
	}
	if err := envelope.DecodeData(&ref); err != nil {
		log.Printf("undecodable task update payload for event %s: %v", envelope.ID, err)
		return consumer.Retry
	}
	return s.push(ref.UserID, Notification{
		Type:    "sync",
		Title:   "Tasks Updated",
		Message: "Your task list has changed, refresh to see the latest",
		TaskID:  ref.TaskID,
		Action:  envelope.Type,
	})
}

func (s *Service) push(userID string, notification Notification) consumer.Outcome {
	if userID == "" {
		return consumer.Success
	}
	notification.Timestamp = s.Now().Format(time.RFC3339)
	delivered := s.Connections.SendToUser(userID, notification)
	if delivered == 0 {
		log.Printf("no active connections for user %s, %s notification dropped", userID, notification.Type)
	}
	return consumer.Success
}

func summarizeChanges(changes contracts.ChangeSet) string {
	fields := make([]string, 0, len(changes))
	for field := range changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return strings.Join(fields, ", ")
}
