package audit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createAuditTableSQL = `
CREATE TABLE IF NOT EXISTS audit_log (
  id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
  event_id text NOT NULL,
  event_type text NOT NULL,
  topic text NOT NULL,
  user_id text,
  entity_type text NOT NULL,
  entity_id bigint,
  action text NOT NULL,
  old_data jsonb,
  new_data jsonb,
  event_metadata jsonb,
  source text NOT NULL DEFAULT 'todo-backend',
  occurred_at timestamptz NOT NULL,
  recorded_at timestamptz NOT NULL DEFAULT now()
)`

const createAuditEventIDIndexSQL = `
CREATE INDEX IF NOT EXISTS audit_log_event_id_idx ON audit_log (event_id)`

const createAuditUserIndexSQL = `
CREATE INDEX IF NOT EXISTS audit_log_user_id_idx ON audit_log (user_id)`

const createAuditEntityIndexSQL = `
CREATE INDEX IF NOT EXISTS audit_log_entity_idx ON audit_log (entity_type, entity_id)`

const createAuditOccurredIndexSQL = `
CREATE INDEX IF NOT EXISTS audit_log_occurred_at_idx ON audit_log (occurred_at)`

const insertEntrySQL = `
INSERT INTO audit_log (
  event_id, event_type, topic, user_id, entity_type, entity_id,
  action, old_data, new_data, event_metadata, source, occurred_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

const selectEntryColumns = `
SELECT id, event_id, event_type, topic, user_id, entity_type, entity_id,
       action, old_data, new_data, event_metadata, source, occurred_at
FROM audit_log`

// Filter narrows an audit query. Zero values mean "no constraint".
type Filter struct {
	UserID     string
	EntityType string
	EntityID   *int64
	EventType  string
	Action     string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Stats is the aggregate view over the audited window.
type Stats struct {
	TotalEvents    int            `json:"total_events"`
	EventsByType   map[string]int `json:"events_by_type"`
	EventsByAction map[string]int `json:"events_by_action"`
	EventsToday    int            `json:"events_today"`
	UniqueUsers    int            `json:"unique_users"`
}

type Repository struct {
	Pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		createAuditTableSQL,
		createAuditEventIDIndexSQL,
		createAuditUserIndexSQL,
		createAuditEntityIndexSQL,
		createAuditOccurredIndexSQL,
	}
	for _, stmt := range statements {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Insert(ctx context.Context, entry Entry) error {
	_, err := r.Pool.Exec(ctx, insertEntrySQL,
		entry.EventID,
		entry.EventType,
		entry.Topic,
		entry.UserID,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		entry.OldData,
		entry.NewData,
		entry.Metadata,
		entry.Source,
		entry.OccurredAt,
	)
	return err
}

// Query returns entries matching filter, newest first.
func (r *Repository) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	var sb strings.Builder
	sb.WriteString(selectEntryColumns)

	args := make([]any, 0, 8)
	conditions := make([]string, 0, 8)
	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, clause+" $"+strconv.Itoa(len(args)))
	}

	if filter.UserID != "" {
		addCondition("user_id =", filter.UserID)
	}
	if filter.EntityType != "" {
		addCondition("entity_type =", filter.EntityType)
	}
	if filter.EntityID != nil {
		addCondition("entity_id =", *filter.EntityID)
	}
	if filter.EventType != "" {
		addCondition("event_type =", filter.EventType)
	}
	if filter.Action != "" {
		addCondition("action =", filter.Action)
	}
	if filter.From != nil {
		addCondition("occurred_at >=", *filter.From)
	}
	if filter.To != nil {
		addCondition("occurred_at <=", *filter.To)
	}
	if len(conditions) > 0 {
		sb.WriteString("\nWHERE ")
		sb.WriteString(strings.Join(conditions, " AND "))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit)
	sb.WriteString("\nORDER BY occurred_at DESC\nLIMIT $" + strconv.Itoa(len(args)))
	args = append(args, offset)
	sb.WriteString(" OFFSET $" + strconv.Itoa(len(args)))

	rows, err := r.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID,
			&e.EventID,
			&e.EventType,
			&e.Topic,
			&e.UserID,
			&e.EntityType,
			&e.EntityID,
			&e.Action,
			&e.OldData,
			&e.NewData,
			&e.Metadata,
			&e.Source,
			&e.OccurredAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Stats aggregates over the last `days` days via a full scan of the filtered
// window. Acceptable at the log's expected scale; not a streaming aggregate.
func (r *Repository) Stats(ctx context.Context, userID string, days int, now time.Time) (Stats, error) {
	if days <= 0 || days > 90 {
		days = 7
	}
	since := now.AddDate(0, 0, -days)

	var sb strings.Builder
	sb.WriteString("SELECT event_type, action, user_id, occurred_at FROM audit_log WHERE occurred_at >= $1")
	args := []any{since}
	if userID != "" {
		args = append(args, userID)
		sb.WriteString(" AND user_id = $2")
	}

	rows, err := r.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	stats := Stats{
		EventsByType:   map[string]int{},
		EventsByAction: map[string]int{},
	}
	users := map[string]struct{}{}
	today := now.UTC().Truncate(24 * time.Hour)

	for rows.Next() {
		var eventType, action string
		var rowUser *string
		var occurredAt time.Time
		if err := rows.Scan(&eventType, &action, &rowUser, &occurredAt); err != nil {
			return Stats{}, err
		}
		stats.TotalEvents++
		stats.EventsByType[eventType]++
		stats.EventsByAction[action]++
		if rowUser != nil && *rowUser != "" {
			users[*rowUser] = struct{}{}
		}
		if occurredAt.UTC().Truncate(24 * time.Hour).Equal(today) {
			stats.EventsToday++
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	stats.UniqueUsers = len(users)
	return stats, nil
}
