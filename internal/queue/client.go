// Package queue implements the client side of the shared work queue
// protocol: claim, complete, release and release-instance.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/profile-validator/internal/logging"
	"github.com/profile-validator/internal/types"
)

// DefaultQueueName is the queue this worker drains
const DefaultQueueName = "validator"

// DefaultTimeout bounds every queue service request
const DefaultTimeout = 30 * time.Second

// Client speaks to the remote queue service over JSON/HTTP. Every request
// carries the API key header and the worker's instance identity.
type Client struct {
	baseURL    string
	apiKey     string
	queueName  string
	instanceID string
	client     *http.Client
	logger     *logging.Logger
}

// ClientConfig holds queue client configuration
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	QueueName  string
	InstanceID string
	Timeout    time.Duration
	Logger     *logging.Logger
}

// NewClient creates a queue client
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("queue base URL cannot be empty")
	}
	if cfg.InstanceID == "" {
		return nil, fmt.Errorf("instance ID cannot be empty")
	}

	queueName := cfg.QueueName
	if queueName == "" {
		queueName = DefaultQueueName
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		queueName:  queueName,
		instanceID: cfg.InstanceID,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// InstanceID returns the worker identity used for queue attribution
func (c *Client) InstanceID() string {
	return c.instanceID
}

// queueResponse is the common envelope of every queue service response
type queueResponse struct {
	Success       bool                   `json:"success"`
	Items         []types.QueueItem      `json:"items,omitempty"`
	ReleasedCount int                    `json:"released_count,omitempty"`
	Stats         map[string]interface{} `json:"stats,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// doRequest issues one queue service call and enforces the success
// criterion: HTTP 200 and a truthy success field.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*queueResponse, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("queue service request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue service response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("queue service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed queueResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse queue service response: %w", err)
	}
	if !parsed.Success {
		if parsed.Error != "" {
			return nil, fmt.Errorf("queue service reported failure: %s", parsed.Error)
		}
		return nil, fmt.Errorf("queue service reported failure")
	}

	return &parsed, nil
}

// ClaimItems claims up to count items for this instance. Returns an empty
// slice on any error.
func (c *Client) ClaimItems(ctx context.Context, count int) []types.QueueItem {
	resp, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/queue/%s/claim", c.queueName), map[string]interface{}{
		"instance_id": c.instanceID,
		"count":       count,
	})
	if err != nil {
		c.logger.WithError(err).Warn("Failed to claim queue items")
		return []types.QueueItem{}
	}

	c.logger.WithField("count", len(resp.Items)).Debug("Claimed queue items")
	return resp.Items
}

// CompleteItems acknowledges fully processed items. Returns false on error.
func (c *Client) CompleteItems(ctx context.Context, ids []string) bool {
	if len(ids) == 0 {
		return true
	}

	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/queue/%s/complete", c.queueName), map[string]interface{}{
		"instance_id": c.instanceID,
		"items":       ids,
	})
	if err != nil {
		c.logger.WithError(err).WithField("items", ids).Warn("Failed to complete queue items")
		return false
	}
	return true
}

// ReleaseItems returns items to the shared queue without marking success.
// Returns false on error.
func (c *Client) ReleaseItems(ctx context.Context, ids []string) bool {
	if len(ids) == 0 {
		return true
	}

	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/queue/%s/release", c.queueName), map[string]interface{}{
		"instance_id": c.instanceID,
		"items":       ids,
	})
	if err != nil {
		c.logger.WithError(err).WithField("items", ids).Warn("Failed to release queue items")
		return false
	}
	return true
}

// ReleaseInstance returns every item still claimed by this instance,
// typically orphans from a prior crash. Returns 0 on error.
func (c *Client) ReleaseInstance(ctx context.Context) int {
	resp, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/queue/%s/release-instance", c.queueName), map[string]interface{}{
		"instance_id": c.instanceID,
	})
	if err != nil {
		c.logger.WithError(err).Warn("Failed to release instance claims")
		return 0
	}
	return resp.ReleasedCount
}

// Stats fetches queue service statistics. Returns nil on error.
func (c *Client) Stats(ctx context.Context) map[string]interface{} {
	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/queue/%s/stats", c.queueName), nil)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to fetch queue stats")
		return nil
	}
	return resp.Stats
}
