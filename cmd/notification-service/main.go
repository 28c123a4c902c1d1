package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/todostream/platform/internal/app/notification"
	"github.com/todostream/platform/internal/consumer"
	"github.com/todostream/platform/internal/contracts"
	"github.com/todostream/platform/internal/platform/env"
	"github.com/todostream/platform/internal/platform/metrics"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := env.String("NOTIFICATION_ADDR", env.DefaultNotificationAddr)
	pubsubName := env.String("PUBSUB_NAME", env.DefaultPubSubName)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	registry := notification.NewRegistry()
	service := notification.NewService(registry)

	metrics.Default.MustRegister(metrics.NewGaugeFunc(metrics.Opts{
		Name: "websocket_active_connections",
		Help: "Currently open websocket connections.",
	}, func() float64 {
		return float64(registry.ActiveConnections())
	}))

	r := chi.NewRouter()
	consumer.Mount(r, []consumer.Endpoint{
		{
			Subscription: consumer.Subscription{PubSubName: pubsubName, Topic: contracts.TopicTaskEvents, Route: "/events/task-events"},
			Handler:      service.HandleTaskEvents,
		},
		{
			Subscription: consumer.Subscription{PubSubName: pubsubName, Topic: contracts.TopicReminders, Route: "/events/reminders"},
			Handler:      service.HandleReminders,
		},
		{
			Subscription: consumer.Subscription{PubSubName: pubsubName, Topic: contracts.TopicTaskUpdates, Route: "/events/task-updates"},
			Handler:      service.HandleTaskUpdates,
		},
	})
	r.Get("/ws/{userID}", notification.ServeWS(registry))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"status":  "healthy",
			"service": "notification-service",
			"version": "1.0.0",
		})
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"status":             "healthy",
			"service":            "notification-service",
			"version":            "1.0.0",
			"connected_users":    registry.ConnectedUsers(),
			"active_connections": registry.ActiveConnections(),
		})
	})
	r.Method(http.MethodGet, "/metrics", metrics.DefaultHandler())

	// No WriteTimeout: websocket connections outlive any fixed deadline.
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("notification service listening on %s", addr)
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
		log.Printf("notification service graceful shutdown failed: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}
