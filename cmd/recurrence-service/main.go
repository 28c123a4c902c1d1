package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/todostream/platform/internal/app/recurrence"
	"github.com/todostream/platform/internal/consumer"
	"github.com/todostream/platform/internal/contracts"
	"github.com/todostream/platform/internal/events"
	"github.com/todostream/platform/internal/platform/env"
	"github.com/todostream/platform/internal/platform/metrics"
	"github.com/todostream/platform/internal/platform/statestore"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := env.String("RECURRENCE_ADDR", env.DefaultRecurrenceAddr)
	gatewayURL := env.String("GATEWAY_URL", env.DefaultGatewayURL)
	pubsubName := env.String("PUBSUB_NAME", env.DefaultPubSubName)
	storeName := env.String("STATE_STORE_NAME", env.DefaultStateStoreName)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	states := recurrence.NewStore(statestore.New(gatewayURL, storeName))
	tasks := recurrence.NewGatewayTaskClient(gatewayURL)
	service := recurrence.NewService(states, tasks)

	// The gateway starts alongside us; wait for it briefly so the first
	// deliveries do not race its boot, but start regardless.
	probe := events.NewPublisher(gatewayURL, pubsubName, true)
	waitForGateway(runCtx, probe, 20*time.Second)

	r := chi.NewRouter()
	consumer.Mount(r, []consumer.Endpoint{
		{
			Subscription: consumer.Subscription{PubSubName: pubsubName, Topic: contracts.TopicTaskEvents, Route: "/events/task-events"},
			Handler:      service.HandleTaskEvents,
		},
	})
	recurrence.NewAPI(states).AttachRoutes(r)
	r.Method(http.MethodGet, "/metrics", metrics.DefaultHandler())

	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("recurrence service listening on %s", addr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("recurrence service graceful shutdown failed: %v", err)
	}
}

func waitForGateway(ctx context.Context, probe *events.Publisher, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probe.CheckHealth(ctx) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Printf("waiting for gateway readiness at %s", probe.BaseURL)
		time.Sleep(500 * time.Millisecond)
	}
	log.Printf("gateway not ready after %s, starting anyway", timeout)
}
