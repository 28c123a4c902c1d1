package recurrence

import (
	"context"
	"log"
	"time"

	"github.com/todostream/platform/internal/consumer"
	"github.com/todostream/platform/internal/contracts"
)

const dateLayout = "2006-01-02"

// Service reacts to task completions. When the completed task has a schedule,
// it spawns the next occurrence and re-keys the schedule to the new task.
//
// The re-keying is write-new then delete-old, so a redelivery between the two
// writes can spawn one extra occurrence. At-least-once delivery makes that
// window unavoidable without a transactional store.
type Service struct {
	States *Store
	Tasks  TaskCreator
	Today  func() time.Time
}

func NewService(states *Store, tasks TaskCreator) *Service {
	return &Service{
		States: states,
		Tasks:  tasks,
		Today:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) HandleTaskEvents(ctx context.Context, envelope contracts.Envelope) consumer.Outcome {
	if envelope.Type != contracts.EventTaskCompleted {
		return consumer.Success
	}

	var completion contracts.TaskCompletionData
	if err := envelope.DecodeData(&completion); err != nil {
		log.Printf("undecodable completion payload for event %s: %v", envelope.ID, err)
		return consumer.Retry
	}
	if !completion.Completed || completion.TaskID == 0 || completion.UserID == "" {
		return consumer.Success
	}

	state, found, err := s.States.Get(ctx, completion.TaskID)
	if err != nil {
		log.Printf("reading schedule for task %d: %v", completion.TaskID, err)
		return consumer.Retry
	}
	if !found {
		return consumer.Success
	}

	today := s.Today()
	if expired, err := s.scheduleExpired(state.Config, today); err != nil {
		log.Printf("schedule for task %d is corrupt: %v", completion.TaskID, err)
		return consumer.Success
	} else if expired {
		if err := s.States.Delete(ctx, completion.TaskID); err != nil {
			log.Printf("deleting expired schedule for task %d: %v", completion.TaskID, err)
			return consumer.Retry
		}
		log.Printf("schedule for task %d ended, no further occurrences", completion.TaskID)
		return consumer.Success
	}

	nextDue, err := s.nextDueDate(state, today)
	if err != nil {
		log.Printf("schedule for task %d has pattern %q: %v", completion.TaskID, state.Config.Pattern, err)
		return consumer.Success
	}

	next := state.TaskData
	next.DueDate = nextDue.Format(dateLayout)
	newTaskID, err := s.Tasks.CreateTask(ctx, completion.UserID, NewTask{
		Title:       next.Title,
		Description: next.Description,
		Priority:    next.Priority,
		Category:    next.Category,
		DueDate:     next.DueDate,
	})
	if err != nil {
		log.Printf("creating next occurrence of task %d: %v", completion.TaskID, err)
		return consumer.Retry
	}

	newState := State{
		Config:       state.Config,
		TaskData:     next,
		ParentTaskID: completion.TaskID,
	}
	newState.Config.OccurrencesCreated++
	if err := s.States.Set(ctx, newTaskID, newState); err != nil {
		log.Printf("storing schedule for task %d: %v", newTaskID, err)
		return consumer.Retry
	}

	if err := s.States.Delete(ctx, completion.TaskID); err != nil {
		// The new schedule is live; a stale old key only risks one extra
		// occurrence if the old task is somehow completed again.
		log.Printf("deleting superseded schedule for task %d: %v", completion.TaskID, err)
	}

	log.Printf("task %d completed, spawned occurrence %d as task %d due %s",
		completion.TaskID, newState.Config.OccurrencesCreated, newTaskID, next.DueDate)
	return consumer.Success
}

// scheduleExpired reports whether the schedule has run its course, by end
// date or by occurrence count.
func (s *Service) scheduleExpired(config Config, today time.Time) (bool, error) {
	if config.EndDate != "" {
		end, err := time.Parse(dateLayout, config.EndDate)
		if err != nil {
			return false, err
		}
		if today.UTC().Truncate(24 * time.Hour).After(end) {
			return true, nil
		}
	}
	if config.MaxOccurrences > 0 && config.OccurrencesCreated >= config.MaxOccurrences {
		return true, nil
	}
	return false, nil
}

// nextDueDate advances from the stored due date, or from today when the
// template has no parseable due date.
func (s *Service) nextDueDate(state State, today time.Time) (time.Time, error) {
	base := today
	if state.TaskData.DueDate != "" {
		if parsed, err := time.Parse(dateLayout, state.TaskData.DueDate); err == nil {
			base = parsed
		}
	}
	return NextDueDate(base, state.Config.Pattern, state.Config.Interval)
}
