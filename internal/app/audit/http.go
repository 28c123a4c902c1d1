package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

var ErrInvalidTimeParam = errors.New("invalid time parameter")

// Reader is the query side of the audit log, separate from Store so HTTP
// handlers can be tested without a database.
type Reader interface {
	Query(ctx context.Context, filter Filter) ([]Entry, error)
	Stats(ctx context.Context, userID string, days int, now time.Time) (Stats, error)
}

// API serves read access to the audit log. A nil Reader answers 503 on the
// query endpoints while the service keeps consuming in degraded mode.
type API struct {
	Reader Reader
	Now    func() time.Time
}

func NewAPI(reader Reader) *API {
	return &API{
		Reader: reader,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *API) AttachRoutes(r chi.Router) {
	r.Get("/audit", a.handleQuery)
	r.Get("/audit/entity/{entityType}/{entityID}", a.handleEntityTrail)
	r.Get("/audit/stats", a.handleStats)
	r.Get("/health", a.handleHealth)
	r.Get("/status", a.handleHealth)
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	if a.Reader == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}

	q := r.URL.Query()
	filter := Filter{
		UserID:     q.Get("user_id"),
		EntityType: q.Get("entity_type"),
		EventType:  q.Get("event_type"),
		Action:     q.Get("action"),
		Limit:      intParam(q.Get("limit"), 100, 1000),
		Offset:     intParam(q.Get("offset"), 0, 1<<30),
	}
	if raw := q.Get("entity_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "entity_id must be an integer")
			return
		}
		filter.EntityID = &id
	}
	var err error
	if filter.From, err = timeParam(q.Get("from_date")); err != nil {
		writeAPIError(w, http.StatusBadRequest, "from_date must be RFC3339 or YYYY-MM-DD")
		return
	}
	if filter.To, err = timeParam(q.Get("to_date")); err != nil {
		writeAPIError(w, http.StatusBadRequest, "to_date must be RFC3339 or YYYY-MM-DD")
		return
	}

	entries, err := a.Reader.Query(r.Context(), filter)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleEntityTrail(w http.ResponseWriter, r *http.Request) {
	if a.Reader == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}

	entityID, err := strconv.ParseInt(chi.URLParam(r, "entityID"), 10, 64)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "entity id must be an integer")
		return
	}
	filter := Filter{
		EntityType: chi.URLParam(r, "entityType"),
		EntityID:   &entityID,
		Limit:      intParam(r.URL.Query().Get("limit"), 50, 500),
	}

	entries, err := a.Reader.Query(r.Context(), filter)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity_type": filter.EntityType,
		"entity_id":   entityID,
		"entries":     entries,
		"count":       len(entries),
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if a.Reader == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}

	q := r.URL.Query()
	days := intParam(q.Get("days"), 7, 90)
	stats, err := a.Reader.Stats(r.Context(), q.Get("user_id"), days, a.Now())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "audit stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	database := "connected"
	if a.Reader == nil {
		database = "unavailable"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"service":  "audit-service",
		"version":  "1.0.0",
		"database": database,
	})
}

// intParam parses raw as an int, substituting fallback when absent or out of
// the (0, max] range.
func intParam(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > max {
		return fallback
	}
	return n
}

func timeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts, nil
		}
	}
	return nil, ErrInvalidTimeParam
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
