package recurrence

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// API manages schedules directly: register one when a task is made
// recurring, inspect it, or cancel it.
type API struct {
	States *Store
}

func NewAPI(states *Store) *API {
	return &API{States: states}
}

func (a *API) AttachRoutes(r chi.Router) {
	r.Post("/recurrence", a.handleRegister)
	r.Get("/recurrence/{taskID}", a.handleGet)
	r.Delete("/recurrence/{taskID}", a.handleCancel)
	r.Post("/recurring-scheduler", a.handleSchedulerTick)
	r.Get("/health", a.handleHealth)
	r.Get("/status", a.handleHealth)
}

type registerRequest struct {
	TaskID         int64        `json:"task_id"`
	Pattern        string       `json:"pattern"`
	Interval       int          `json:"interval"`
	EndDate        string       `json:"end_date"`
	MaxOccurrences int          `json:"max_occurrences"`
	TaskData       TaskTemplate `json:"task_data"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "request body must be JSON")
		return
	}
	if req.TaskID == 0 {
		writeAPIError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	pattern, err := ParsePattern(req.Pattern)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "pattern must be one of daily, weekly, biweekly, monthly, yearly")
		return
	}
	interval := req.Interval
	if interval < 1 {
		interval = 1
	}

	state := State{
		Config: Config{
			Pattern:        pattern,
			Interval:       interval,
			EndDate:        req.EndDate,
			MaxOccurrences: req.MaxOccurrences,
		},
		TaskData: req.TaskData,
	}
	if err := a.States.Set(r.Context(), req.TaskID, state); err != nil {
		writeAPIError(w, http.StatusBadGateway, "state store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "recurrence registered",
	})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	state, found, err := a.States.Get(r.Context(), taskID)
	if err != nil {
		writeAPIError(w, http.StatusBadGateway, "state store unavailable")
		return
	}
	if !found {
		writeAPIError(w, http.StatusNotFound, "no recurrence found for task")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	if err := a.States.Delete(r.Context(), taskID); err != nil {
		writeAPIError(w, http.StatusBadGateway, "state store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "recurrence cancelled",
	})
}

// handleSchedulerTick acknowledges the gateway's cron binding. Occurrences
// are spawned on completion events, so the tick has nothing to do yet.
// TODO: sweep for overdue uncompleted occurrences once the backend exposes a
// due-date query.
func (a *API) handleSchedulerTick(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "SUCCESS"})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "recurring-service",
		"version": "1.0.0",
	})
}

func taskIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	taskID, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil || taskID == 0 {
		writeAPIError(w, http.StatusBadRequest, "task id must be a positive integer")
		return 0, false
	}
	return taskID, true
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
