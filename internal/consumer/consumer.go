// Package consumer is the shared delivery surface of every consumer service:
// the subscription descriptor the gateway reads at registration, and one push
// endpoint per subscribed topic. The gateway delivers at-least-once, so
// handlers must tolerate duplicates; a handler outcome of Retry asks the
// gateway to redeliver later.
package consumer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/todostream/platform/internal/contracts"
	"github.com/todostream/platform/internal/platform/metrics"
)

type Outcome string

const (
	Success Outcome = "SUCCESS"
	Retry   Outcome = "RETRY"
)

var deliveries = metrics.NewCounterVec(metrics.Opts{
	Name: "event_deliveries_total",
	Help: "Gateway deliveries by topic and outcome.",
}, []string{"topic", "outcome"})

func init() {
	metrics.Default.MustRegister(deliveries)
}

// Subscription is one entry of the descriptor returned to the gateway.
type Subscription struct {
	PubSubName string `json:"pubsubname"`
	Topic      string `json:"topic"`
	Route      string `json:"route"`
}

// HandlerFunc processes one delivered envelope. It must not panic past the
// framework boundary; panics are contained and answered as Retry.
type HandlerFunc func(ctx context.Context, envelope contracts.Envelope) Outcome

type Endpoint struct {
	Subscription Subscription
	Handler      HandlerFunc
}

// Mount registers the subscription descriptor and every delivery route on r.
func Mount(r chi.Router, endpoints []Endpoint) {
	subscriptions := make([]Subscription, 0, len(endpoints))
	for _, ep := range endpoints {
		subscriptions = append(subscriptions, ep.Subscription)
	}

	r.Get("/dapr/subscribe", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, subscriptions)
	})

	for _, ep := range endpoints {
		r.Post(ep.Subscription.Route, deliveryHandler(ep))
	}
}

func deliveryHandler(ep Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcome := deliver(r, ep)
		deliveries.WithLabelValues(ep.Subscription.Topic, string(outcome)).Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
	}
}

// deliver resolves every fault to an outcome; nothing escapes the boundary.
func deliver(r *http.Request, ep Endpoint) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("panic handling delivery on %s: %v", ep.Subscription.Route, rec)
			outcome = Retry
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("reading delivery body on %s: %v", ep.Subscription.Route, err)
		return Retry
	}
	envelope, err := contracts.Parse(body)
	if err != nil {
		log.Printf("invalid envelope on %s: %v", ep.Subscription.Route, err)
		return Retry
	}
	return ep.Handler(r.Context(), envelope)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
