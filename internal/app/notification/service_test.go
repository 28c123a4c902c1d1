package notification

import (
	"context"
	"testing"
	"time"

	"github.com/todostream/platform/internal/consumer"
	"github.com/todostream/platform/internal/contracts"
)

type fakeSender struct {
	userIDs  []string
	payloads []Notification
}

func (s *fakeSender) SendToUser(userID string, payload any) int {
	s.userIDs = append(s.userIDs, userID)
	s.payloads = append(s.payloads, payload.(Notification))
	return 1
}

func newTestService(sender *fakeSender) *Service {
	service := NewService(sender)
	service.Now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return service
}

func TestHandleTaskEvents_Created(t *testing.T) {
	sender := &fakeSender{}
	service := newTestService(sender)

	env, _ := contracts.NewTaskCreated(contracts.TaskSnapshot{TaskID: 7, UserID: "u1", Title: "buy milk"})
	if outcome := service.HandleTaskEvents(context.Background(), env); outcome != consumer.Success {
		t.Fatalf("expected SUCCESS, got %s", outcome)
	}
	if len(sender.payloads) != 1 {
		t.Fatalf("expected 1 push, got %d", len(sender.payloads))
	}
	push := sender.payloads[0]
	if push.Type != "task_created" || push.Title != "New Task Created" {
		t.Fatalf("unexpected template: %+v", push)
	}
	if push.Message != "Task 'buy milk' has been created" || push.TaskID != 7 {
		t.Fatalf("unexpected content: %+v", push)
	}
	if sender.userIDs[0] != "u1" {
		t.Fatalf("pushed to wrong user: %s", sender.userIDs[0])
	}
	if push.Timestamp != "2026-03-15T12:00:00Z" {
		t.Fatalf("timestamp not stamped: %s", push.Timestamp)
	}
}

func TestHandleTaskEvents_UpdatedSummarizesChanges(t *testing.T) {
	sender := &fakeSender{}
	service := newTestService(sender)

	env, _ := contracts.NewTaskUpdated(3, "u1", contracts.ChangeSet{
		"title":    {Old: "a", New: "b"},
		"priority": {Old: "low", New: "high"},
	})
	service.HandleTaskEvents(context.Background(), env)
	if len(sender.payloads) != 1 {
		t.Fatalf("expected 1 push, got %d", len(sender.payloads))
	}
	if sender.payloads[0].Message != "Task changed: priority, title" {
		t.Fatalf("unexpected change summary: %s", sender.payloads[0].Message)
	}
}

func TestHandleTaskEvents_EmptyChangeSetSkipsPush(t *testing.T) {
	sender := &fakeSender{}
	service := newTestService(sender)

	env, _ := contracts.NewTaskUpdated(3, "u1", contracts.ChangeSet{})
	if outcome := service.HandleTaskEvents(context.Background(), env); outcome != consumer.Success {
		t.Fatalf("expected SUCCESS, got %s", outcome)
	}
	if len(sender.payloads) != 0 {
		t.Fatalf("no-op update must not push, got %d", len(sender.payloads))
	}
}

func TestHandleTaskEvents_CompletionFlagSwitchesTemplate(t *testing.T) {
	sender := &fakeSender{}
	service := newTestService(sender)

	done, _ := contracts.NewTaskCompleted(5, "u1", "ship it", true)
	reopened, _ := contracts.NewTaskCompleted(5, "u1", "ship it", false)
	service.HandleTaskEvents(context.Background(), done)
	service.HandleTaskEvents(context.Background(), reopened)

	if len(sender.payloads) != 2 {
		t.Fatalf("expected 2 pushes, got %d", len(sender.payloads))
	}
	if sender.payloads[0].Title != "Task Completed" {
		t.Fatalf("unexpected completed template: %+v", sender.payloads[0])
	}
	if sender.payloads[1].Type != "task_uncompleted" || sender.payloads[1].Title != "Task Reopened" {
		t.Fatalf("unexpected reopened template: %+v", sender.payloads[1])
	}
}

func TestHandleTaskEvents_MissingUserAcksWithoutPush(t *testing.T) {
	sender := &fakeSender{}
	service := newTestService(sender)

	env := contracts.Envelope{ID: "evt-1", Type: contracts.EventTaskDeleted, Data: []byte(`{"task_id":1}`)}
	if outcome := service.HandleTaskEvents(context.Background(), env); outcome != consumer.Success {
		t.Fatalf("expected SUCCESS, got %s", outcome)
	}
	if len(sender.payloads) != 0 {
		t.Fatalf("userless event must not push")
	}
}

func TestHandleTaskEvents_UnknownTypeAcked(t *testing.T) {
	sender := &fakeSender{}
	service := newTestService(sender)

	env := contracts.Envelope{ID: "evt-1", Type: "task.archived", Data: []byte(`{}`)}
	if outcome := service.HandleTaskEvents(context.Background(), env); outcome != consumer.Success {
		t.Fatalf("unknown types must be acked, got %s", outcome)
	}
}

func TestHandleTaskEvents_UndecodablePayloadAsksRetry(t *testing.T) {
	sender := &fakeSender{}
	service := newTestService(sender)

	env := contracts.Envelope{ID: "evt-1", Type: contracts.EventTaskCreated, Data: []byte(`"not an object"`)}
	if outcome := service.HandleTaskEvents(context.Background(), env); outcome != consumer.Retry {
		t.Fatalf("expected RETRY for undecodable payload, got %s", outcome)
	}
}

func TestHandleReminders(t *testing.T) {
	sender := &fakeSender{}
	service := newTestService(sender)

	env, _ := contracts.NewReminderScheduled(contracts.ReminderData{
		TaskID:  4,
		UserID:  "u1",
		Title:   "pay rent",
		DueDate: "2026-04-01",
	})
	if outcome := service.HandleReminders(context.Background(), env); outcome != consumer.Success {
		t.Fatalf("expected SUCCESS, got %s", outcome)
	}
	push := sender.payloads[0]
	if push.Type != "reminder" || push.Title != "Task Reminder" {
		t.Fatalf("unexpected reminder template: %+v", push)
	}
	if push.Message != "Reminder: pay rent is due soon" || push.DueDate != "2026-04-01" {
		t.Fatalf("unexpected reminder content: %+v", push)
	}
}

func TestHandleTaskUpdates(t *testing.T) {
	sender := &fakeSender{}
	service := newTestService(sender)

	env := contracts.Envelope{
		ID:   "evt-1",
		Type: contracts.EventTaskUpdated,
		Data: []byte(`{"task_id":2,"user_id":"u1"}`),
	}
	if outcome := service.HandleTaskUpdates(context.Background(), env); outcome != consumer.Success {
		t.Fatalf("expected SUCCESS, got %s", outcome)
	}
	push := sender.payloads[0]
	if push.Type != "sync" || push.Action != contracts.EventTaskUpdated {
		t.Fatalf("unexpected sync push: %+v", push)
	}
}
