package recurrence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NewTask is the creation request sent to the backend task API.
type NewTask struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Priority    string  `json:"priority"`
	Category    string  `json:"category"`
	DueDate     string  `json:"due_date"`
}

// TaskCreator creates the next occurrence as a real task and returns its id.
type TaskCreator interface {
	CreateTask(ctx context.Context, userID string, task NewTask) (int64, error)
}

// GatewayTaskClient creates tasks through the gateway's service invocation
// endpoint, so the backend is addressed by app id rather than by host.
type GatewayTaskClient struct {
	BaseURL string
	AppID   string
	Client  *http.Client
}

func NewGatewayTaskClient(baseURL string) *GatewayTaskClient {
	return &GatewayTaskClient{
		BaseURL: baseURL,
		AppID:   "backend",
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *GatewayTaskClient) CreateTask(ctx context.Context, userID string, task NewTask) (int64, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/v1.0/invoke/%s/method/api/tasks", c.BaseURL, c.AppID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)

	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("task creation answered status %d", resp.StatusCode)
	}

	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return 0, fmt.Errorf("decoding created task: %w", err)
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("task creation returned no id")
	}
	return created.ID, nil
}
