package recurrence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGatewayTaskClient_CreateTask(t *testing.T) {
	var gotPath, gotUser string
	var gotTask NewTask
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser = r.Header.Get("X-User-ID")
		_ = json.NewDecoder(r.Body).Decode(&gotTask)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]int64{"id": 77})
	}))
	defer server.Close()

	client := NewGatewayTaskClient(server.URL)
	id, err := client.CreateTask(context.Background(), "u1", NewTask{Title: "laundry", DueDate: "2026-03-01"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id != 77 {
		t.Fatalf("got id %d, want 77", id)
	}
	if gotPath != "/v1.0/invoke/backend/method/api/tasks" {
		t.Fatalf("unexpected invocation path: %s", gotPath)
	}
	if gotUser != "u1" || gotTask.Title != "laundry" {
		t.Fatalf("request not forwarded faithfully: user=%s task=%+v", gotUser, gotTask)
	}
}

func TestGatewayTaskClient_ErrorStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewGatewayTaskClient(server.URL)
	if _, err := client.CreateTask(context.Background(), "u1", NewTask{Title: "x"}); err == nil {
		t.Fatalf("expected error on 502")
	}

	server.Close()
	if _, err := client.CreateTask(context.Background(), "u1", NewTask{Title: "x"}); err == nil {
		t.Fatalf("expected error when the gateway is unreachable")
	}
}

func TestGatewayTaskClient_MissingIDIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewGatewayTaskClient(server.URL)
	if _, err := client.CreateTask(context.Background(), "u1", NewTask{Title: "x"}); err == nil {
		t.Fatalf("expected error when no id is returned")
	}
}
