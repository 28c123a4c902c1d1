// Package audit derives an immutable log entry from every delivered event.
// Duplicates are appended, not deduplicated: the log is the system's raw
// permanent record and dedup is a query-time concern.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/todostream/platform/internal/consumer"
	"github.com/todostream/platform/internal/contracts"
)

// Entry is one append-only audit log row.
type Entry struct {
	ID         int64           `json:"id"`
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Topic      string          `json:"topic"`
	UserID     *string         `json:"user_id"`
	EntityType string          `json:"entity_type"`
	EntityID   *int64          `json:"entity_id"`
	Action     string          `json:"action"`
	OldData    json.RawMessage `json:"old_data,omitempty"`
	NewData    json.RawMessage `json:"new_data,omitempty"`
	Metadata   json.RawMessage `json:"event_metadata,omitempty"`
	Source     string          `json:"source"`
	OccurredAt time.Time       `json:"timestamp"`
}

type Store interface {
	Insert(ctx context.Context, entry Entry) error
}

// Service consumes deliveries and appends entries. A nil Store is the
// degraded no-database mode: events are accepted and acknowledged, with a
// logged warning per event, so a store outage never blocks the stream.
type Service struct {
	Store Store
	Now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{
		Store: store,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// HandleTopic returns the delivery handler for one subscribed topic.
func (s *Service) HandleTopic(topic string) consumer.HandlerFunc {
	return func(ctx context.Context, envelope contracts.Envelope) consumer.Outcome {
		entry := EntryFromEnvelope(envelope, topic, s.Now())
		if s.Store == nil {
			log.Printf("audit store unavailable, event %s not persisted", envelope.ID)
			return consumer.Success
		}
		if err := s.Store.Insert(ctx, entry); err != nil {
			log.Printf("audit insert failed for event %s: %v", envelope.ID, err)
			return consumer.Retry
		}
		return consumer.Success
	}
}

// EntryFromEnvelope maps an envelope to a log entry. Action and entity type
// are derived by substring inspection of the event type so that unrecognized
// future types still produce a row.
func EntryFromEnvelope(envelope contracts.Envelope, topic string, now time.Time) Entry {
	entry := Entry{
		EventID:    envelope.ID,
		EventType:  envelope.Type,
		Topic:      topic,
		EntityType: deriveEntityType(envelope.Type),
		Action:     deriveAction(envelope.Type),
		Metadata:   envelope.Metadata,
		Source:     envelope.Source,
		OccurredAt: envelope.OccurredAt(now),
	}
	if entry.Source == "" {
		entry.Source = contracts.Source
	}

	var payload struct {
		TaskID   *int64                           `json:"task_id"`
		EntityID *int64                           `json:"entity_id"`
		UserID   *string                          `json:"user_id"`
		Changes  map[string]contracts.FieldChange `json:"changes"`
	}
	if len(envelope.Data) > 0 {
		// Best-effort: an unparseable payload still yields an entry.
		_ = json.Unmarshal(envelope.Data, &payload)
	}

	if payload.UserID != nil && *payload.UserID != "" {
		entry.UserID = payload.UserID
	}
	if payload.TaskID != nil {
		entry.EntityID = payload.TaskID
	} else if payload.EntityID != nil {
		entry.EntityID = payload.EntityID
	}

	switch entry.Action {
	case "updated":
		if len(payload.Changes) > 0 {
			oldValues := make(map[string]any, len(payload.Changes))
			newValues := make(map[string]any, len(payload.Changes))
			for field, change := range payload.Changes {
				oldValues[field] = change.Old
				newValues[field] = change.New
			}
			entry.OldData, _ = json.Marshal(oldValues)
			entry.NewData, _ = json.Marshal(newValues)
		}
	case "created":
		entry.NewData = envelope.Data
	}

	return entry
}

func deriveAction(eventType string) string {
	switch {
	case strings.Contains(eventType, "uncompleted"):
		return "uncompleted"
	case strings.Contains(eventType, "completed"):
		return "completed"
	case strings.Contains(eventType, "created"):
		return "created"
	case strings.Contains(eventType, "updated"):
		return "updated"
	case strings.Contains(eventType, "deleted"):
		return "deleted"
	default:
		return "unknown"
	}
}

func deriveEntityType(eventType string) string {
	switch {
	case strings.Contains(eventType, "task"):
		return "task"
	case strings.Contains(eventType, "reminder"):
		return "reminder"
	case strings.Contains(eventType, "conversation"):
		return "conversation"
	default:
		return "unknown"
	}
}
