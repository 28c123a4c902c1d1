// Package recurrence spawns the next occurrence of a repeating task when the
// current one is completed. Schedules live in the gateway state store keyed by
// the task id of the occurrence currently waiting to be completed.
package recurrence

import (
	"errors"
	"time"
)

type Pattern string

const (
	Daily    Pattern = "daily"
	Weekly   Pattern = "weekly"
	Biweekly Pattern = "biweekly"
	Monthly  Pattern = "monthly"
	Yearly   Pattern = "yearly"
)

var ErrUnknownPattern = errors.New("unknown recurrence pattern")

func ParsePattern(raw string) (Pattern, error) {
	switch Pattern(raw) {
	case Daily, Weekly, Biweekly, Monthly, Yearly:
		return Pattern(raw), nil
	default:
		return "", ErrUnknownPattern
	}
}

// NextDueDate advances current by interval steps of the pattern. Monthly and
// yearly steps keep the day of month, clamped to the target month's last day,
// so Jan 31 + 1 month is Feb 28 (or 29), never Mar 2.
func NextDueDate(current time.Time, pattern Pattern, interval int) (time.Time, error) {
	if interval < 1 {
		interval = 1
	}
	switch pattern {
	case Daily:
		return current.AddDate(0, 0, interval), nil
	case Weekly:
		return current.AddDate(0, 0, 7*interval), nil
	case Biweekly:
		return current.AddDate(0, 0, 14*interval), nil
	case Monthly:
		return addMonthsClamped(current, interval), nil
	case Yearly:
		return addMonthsClamped(current, 12*interval), nil
	default:
		return time.Time{}, ErrUnknownPattern
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	// Normalize the target month first with day 1, then clamp the day.
	anchor := time.Date(year, month, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	anchor = anchor.AddDate(0, months, 0)
	if last := daysIn(anchor.Year(), anchor.Month()); day > last {
		day = last
	}
	return time.Date(anchor.Year(), anchor.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Config describes how a task repeats.
type Config struct {
	Pattern            Pattern `json:"pattern"`
	Interval           int     `json:"interval"`
	EndDate            string  `json:"end_date,omitempty"`
	MaxOccurrences     int     `json:"max_occurrences,omitempty"`
	OccurrencesCreated int     `json:"occurrences_created"`
}

// TaskTemplate is the shape of the task spawned for each occurrence.
type TaskTemplate struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Priority    string  `json:"priority"`
	Category    string  `json:"category"`
	DueDate     string  `json:"due_date"`
}

// State is the stored schedule for one pending occurrence.
type State struct {
	Config       Config       `json:"config"`
	TaskData     TaskTemplate `json:"task_data"`
	ParentTaskID int64        `json:"parent_task_id,omitempty"`
}
