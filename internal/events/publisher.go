// Package events delivers event envelopes to the pub/sub gateway. Publishing
// is best-effort: the primary task mutation has already committed by the time
// an event is published, so a broker outage costs the event, never the write.
package events

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/todostream/platform/internal/contracts"
	"github.com/todostream/platform/internal/platform/metrics"
)

const (
	defaultPublishTimeout = 10 * time.Second
	defaultHealthTimeout  = 5 * time.Second
	defaultAttempts       = 3

	contentTypeCloudEvents = "application/cloudevents+json"
)

var publishAttempts = metrics.NewCounterVec(metrics.Opts{
	Name: "event_publish_attempts_total",
	Help: "Publish attempts to the gateway by topic and result.",
}, []string{"topic", "result"})

func init() {
	metrics.Default.MustRegister(publishAttempts)
}

// Publisher posts envelopes to the gateway's publish endpoint. Construct one
// and inject it where events are emitted; there is no package-level instance.
type Publisher struct {
	BaseURL    string
	PubSubName string
	Enabled    bool
	Attempts   int

	Client       *http.Client
	HealthClient *http.Client
}

func NewPublisher(baseURL, pubsubName string, enabled bool) *Publisher {
	return &Publisher{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		PubSubName:   pubsubName,
		Enabled:      enabled,
		Attempts:     defaultAttempts,
		Client:       &http.Client{Timeout: defaultPublishTimeout},
		HealthClient: &http.Client{Timeout: defaultHealthTimeout},
	}
}

// Publish delivers the envelope to topic, retrying transient failures within
// a bounded attempt budget. It reports success but never returns an error or
// panics: a publish failure must not fail the caller's primary operation.
func (p *Publisher) Publish(ctx context.Context, topic string, envelope contracts.Envelope) bool {
	if !p.Enabled {
		return true
	}

	payload, err := envelope.Wire()
	if err != nil {
		log.Printf("event %s not published: serialization failed: %v", envelope.ID, err)
		return false
	}

	attempts := p.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	url := p.BaseURL + "/v1.0/publish/" + p.PubSubName + "/" + topic

	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := p.post(ctx, url, payload)
		if err != nil {
			publishAttempts.WithLabelValues(topic, "error").Inc()
			log.Printf("publish to %s failed (attempt %d/%d): %v", topic, attempt, attempts, err)
			continue
		}
		if status == http.StatusOK || status == http.StatusNoContent {
			publishAttempts.WithLabelValues(topic, "ok").Inc()
			return true
		}
		publishAttempts.WithLabelValues(topic, "rejected").Inc()
		log.Printf("gateway returned status %d for topic %s (attempt %d/%d)", status, topic, attempt, attempts)
	}

	log.Printf("event %s dropped: topic %s unreachable after %d attempts", envelope.ID, topic, attempts)
	return false
}

func (p *Publisher) post(ctx context.Context, url string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", contentTypeCloudEvents)

	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// PublishTaskEvent, PublishReminder and PublishTaskUpdate are the static
// topic routing used by the task API call sites.
func (p *Publisher) PublishTaskEvent(ctx context.Context, envelope contracts.Envelope) bool {
	return p.Publish(ctx, contracts.TopicTaskEvents, envelope)
}

func (p *Publisher) PublishReminder(ctx context.Context, envelope contracts.Envelope) bool {
	return p.Publish(ctx, contracts.TopicReminders, envelope)
}

func (p *Publisher) PublishTaskUpdate(ctx context.Context, envelope contracts.Envelope) bool {
	return p.Publish(ctx, contracts.TopicTaskUpdates, envelope)
}

// CheckHealth probes the gateway with a short timeout. Used at process
// startup and for status reporting; it never blocks a publish.
func (p *Publisher) CheckHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/v1.0/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := p.HealthClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}
