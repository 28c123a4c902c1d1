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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/todostream/platform/internal/app/audit"
	"github.com/todostream/platform/internal/consumer"
	"github.com/todostream/platform/internal/contracts"
	"github.com/todostream/platform/internal/platform/dbpool"
	"github.com/todostream/platform/internal/platform/env"
	"github.com/todostream/platform/internal/platform/metrics"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := env.String("AUDIT_ADDR", env.DefaultAuditAddr)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	pubsubName := env.String("PUBSUB_NAME", env.DefaultPubSubName)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	// The audit log degrades rather than blocks: without postgres the
	// service still acknowledges deliveries so the stream keeps flowing.
	var repository *audit.Repository
	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Printf("audit database unavailable, running degraded: %v", err)
	} else {
		defer pool.Close()
		repository = audit.NewRepository(pool)
		if err := waitForAuditSchema(runCtx, pool, repository, 30*time.Second); err != nil {
			log.Printf("audit schema not ready, running degraded: %v", err)
			repository = nil
		}
	}

	var store audit.Store
	var reader audit.Reader
	if repository != nil {
		store = repository
		reader = repository
	}
	service := audit.NewService(store)

	r := chi.NewRouter()
	consumer.Mount(r, []consumer.Endpoint{
		{
			Subscription: consumer.Subscription{PubSubName: pubsubName, Topic: contracts.TopicTaskEvents, Route: "/events/task-events"},
			Handler:      service.HandleTopic(contracts.TopicTaskEvents),
		},
		{
			Subscription: consumer.Subscription{PubSubName: pubsubName, Topic: contracts.TopicReminders, Route: "/events/reminders"},
			Handler:      service.HandleTopic(contracts.TopicReminders),
		},
		{
			Subscription: consumer.Subscription{PubSubName: pubsubName, Topic: contracts.TopicTaskUpdates, Route: "/events/task-updates"},
			Handler:      service.HandleTopic(contracts.TopicTaskUpdates),
		},
	})
	audit.NewAPI(reader).AttachRoutes(r)
	r.Method(http.MethodGet, "/metrics", metrics.DefaultHandler())

	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("audit service listening on %s", addr)
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
		log.Printf("audit service graceful shutdown failed: %v", err)
	}
}

func waitForAuditSchema(ctx context.Context, pool *pgxpool.Pool, repository *audit.Repository, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		if lastErr == nil {
			lastErr = repository.EnsureSchema(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("waiting for postgres readiness: %v", lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}
