package recurrence

import (
	"context"
	"encoding/json"
	"strconv"
)

// StateStore is the raw key/value surface of the gateway state API.
type StateStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// Store reads and writes typed schedules, one per pending task id.
type Store struct {
	States StateStore
}

func NewStore(states StateStore) *Store {
	return &Store{States: states}
}

func stateKey(taskID int64) string {
	return "recurrence-" + strconv.FormatInt(taskID, 10)
}

func (s *Store) Get(ctx context.Context, taskID int64) (State, bool, error) {
	raw, found, err := s.States.Get(ctx, stateKey(taskID))
	if err != nil || !found {
		return State{}, false, err
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

func (s *Store) Set(ctx context.Context, taskID int64, state State) error {
	return s.States.Set(ctx, stateKey(taskID), state)
}

func (s *Store) Delete(ctx context.Context, taskID int64) error {
	return s.States.Delete(ctx, stateKey(taskID))
}
