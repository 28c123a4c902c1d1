package consumer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/todostream/platform/internal/contracts"
)

func newTestRouter(handler HandlerFunc) http.Handler {
	r := chi.NewRouter()
	Mount(r, []Endpoint{
		{
			Subscription: Subscription{PubSubName: "pubsub-kafka", Topic: "task-events", Route: "/events/task-events"},
			Handler:      handler,
		},
		{
			Subscription: Subscription{PubSubName: "pubsub-kafka", Topic: "reminders", Route: "/events/reminders"},
			Handler:      func(context.Context, contracts.Envelope) Outcome { return Success },
		},
	})
	return r
}

func deliverBody(t *testing.T, router http.Handler, route, body string) map[string]string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, route, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delivery answered status %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("delivery response is not JSON: %v", err)
	}
	return resp
}

func TestMount_SubscriptionDescriptor(t *testing.T) {
	router := newTestRouter(func(context.Context, contracts.Envelope) Outcome { return Success })

	req := httptest.NewRequest(http.MethodGet, "/dapr/subscribe", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var subs []Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &subs); err != nil {
		t.Fatalf("descriptor is not JSON: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}
	if subs[0].Topic != "task-events" || subs[0].Route != "/events/task-events" || subs[0].PubSubName != "pubsub-kafka" {
		t.Fatalf("unexpected first subscription: %+v", subs[0])
	}
}

func TestDelivery_PassesEnvelopeAndOutcome(t *testing.T) {
	var got contracts.Envelope
	router := newTestRouter(func(_ context.Context, env contracts.Envelope) Outcome {
		got = env
		return Success
	})

	env, _ := contracts.NewTaskDeleted(9, "u1")
	wire, _ := env.Wire()
	resp := deliverBody(t, router, "/events/task-events", string(wire))
	if resp["status"] != "SUCCESS" {
		t.Fatalf("expected SUCCESS, got %+v", resp)
	}
	if got.ID != env.ID || got.Type != contracts.EventTaskDeleted {
		t.Fatalf("handler received wrong envelope: %+v", got)
	}
}

func TestDelivery_HandlerRetryPropagates(t *testing.T) {
	router := newTestRouter(func(context.Context, contracts.Envelope) Outcome { return Retry })
	env, _ := contracts.NewTaskDeleted(9, "u1")
	wire, _ := env.Wire()
	if resp := deliverBody(t, router, "/events/task-events", string(wire)); resp["status"] != "RETRY" {
		t.Fatalf("expected RETRY, got %+v", resp)
	}
}

func TestDelivery_MalformedBodyAnswersRetry(t *testing.T) {
	router := newTestRouter(func(context.Context, contracts.Envelope) Outcome { return Success })
	if resp := deliverBody(t, router, "/events/task-events", "{not an envelope"); resp["status"] != "RETRY" {
		t.Fatalf("expected RETRY for malformed body, got %+v", resp)
	}
}

func TestDelivery_PanicIsContainedAsRetry(t *testing.T) {
	router := newTestRouter(func(context.Context, contracts.Envelope) Outcome {
		panic("handler exploded")
	})
	env, _ := contracts.NewTaskDeleted(9, "u1")
	wire, _ := env.Wire()
	if resp := deliverBody(t, router, "/events/task-events", string(wire)); resp["status"] != "RETRY" {
		t.Fatalf("expected RETRY after panic, got %+v", resp)
	}
}
