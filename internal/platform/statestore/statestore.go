// Package statestore is a client for the gateway's key-value state API,
// used by the recurrence service to persist per-task recurrence state.
package statestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

var ErrUnexpectedStatus = errors.New("unexpected state store status")

type Client struct {
	BaseURL   string
	StoreName string
	Client    *http.Client
}

func New(baseURL, storeName string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		StoreName: storeName,
		Client:    &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) keyURL(key string) string {
	return c.BaseURL + "/v1.0/state/" + c.StoreName + "/" + key
}

// Get fetches the value stored under key. The second return value reports
// whether the key exists; the gateway answers an absent key with 204 or an
// empty 200 body.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.keyURL(key), nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		if len(body) == 0 {
			return nil, false, nil
		}
		return body, true, nil
	case http.StatusNoContent, http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("%w: get %s returned %d", ErrUnexpectedStatus, key, resp.StatusCode)
	}
}

// Set stores value under key, replacing any previous value. The state API
// accepts a batch; a single-element batch is posted.
func (c *Client) Set(ctx context.Context, key string, value any) error {
	batch := []map[string]any{{"key": key, "value": value}}
	payload, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1.0/state/"+c.StoreName, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: set %s returned %d", ErrUnexpectedStatus, key, resp.StatusCode)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.keyURL(key), nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: delete %s returned %d", ErrUnexpectedStatus, key, resp.StatusCode)
	}
	return nil
}
