package recurrence

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(states *memStateStore) http.Handler {
	r := chi.NewRouter()
	NewAPI(NewStore(states)).AttachRoutes(r)
	return r
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndGet(t *testing.T) {
	states := newMemStateStore()
	handler := newTestRouter(states)

	body := `{
		"task_id": 5,
		"pattern": "weekly",
		"end_date": "2026-12-31",
		"task_data": {"title": "laundry", "priority": "low", "category": "home", "due_date": "2026-03-01"}
	}`
	rec := doRequest(t, handler, http.MethodPost, "/recurrence", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("register answered %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodGet, "/recurrence/5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get answered %d", rec.Code)
	}
	var state State
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("get body not a schedule: %v", err)
	}
	if state.Config.Pattern != Weekly || state.Config.Interval != 1 {
		t.Fatalf("interval not defaulted: %+v", state.Config)
	}
	if state.Config.EndDate != "2026-12-31" || state.TaskData.Title != "laundry" {
		t.Fatalf("schedule not stored faithfully: %+v", state)
	}
}

func TestRegister_Validation(t *testing.T) {
	handler := newTestRouter(newMemStateStore())

	cases := map[string]string{
		"missing task id": `{"pattern": "daily"}`,
		"bad pattern":     `{"task_id": 1, "pattern": "hourly"}`,
		"not json":        `{broken`,
	}
	for name, body := range cases {
		if rec := doRequest(t, handler, http.MethodPost, "/recurrence", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestGet_UnknownTaskAnswers404(t *testing.T) {
	handler := newTestRouter(newMemStateStore())
	rec := doRequest(t, handler, http.MethodGet, "/recurrence/99", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["message"] != "no recurrence found for task" {
		t.Fatalf("unexpected 404 body: %v", resp)
	}
}

func TestCancel(t *testing.T) {
	states := newMemStateStore()
	handler := newTestRouter(states)
	seedSchedule(t, states, 7, dailySchedule("2026-03-01"))

	if rec := doRequest(t, handler, http.MethodDelete, "/recurrence/7", ""); rec.Code != http.StatusOK {
		t.Fatalf("cancel answered %d", rec.Code)
	}
	if _, ok := states.values[stateKey(7)]; ok {
		t.Fatalf("cancelled schedule still stored")
	}
}

func TestSchedulerTickAcks(t *testing.T) {
	handler := newTestRouter(newMemStateStore())
	rec := doRequest(t, handler, http.MethodPost, "/recurring-scheduler", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("tick answered %d", rec.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "SUCCESS" {
		t.Fatalf("tick must answer SUCCESS, got %v", resp)
	}
}

func TestHealth(t *testing.T) {
	handler := newTestRouter(newMemStateStore())
	rec := doRequest(t, handler, http.MethodGet, "/health", "")
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("health body not JSON: %v", err)
	}
	if resp["service"] != "recurring-service" || resp["status"] != "healthy" {
		t.Fatalf("unexpected health body: %v", resp)
	}
}
