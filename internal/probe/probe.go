// Package probe implements the existence probe against the downstream API
// service, used to suppress inserts for identifiers already recorded there.
package probe

import (
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

// Cache stores probe results so reclaimed identifiers do not re-hit the
// API service.
type Cache interface {
	Get(ctx context.Context, steamID string) (types.ProbeResult, bool)
	Set(ctx context.Context, steamID string, result types.ProbeResult)
}

// Client probes the API service for identifier existence
type Client struct {
	baseURL string
	client  *http.Client
	cache   Cache
	logger  *logging.Logger
}

// ClientConfig holds probe client configuration
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Cache   Cache // optional
	Logger  *logging.Logger
}

// NewClient creates an existence probe client
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("probe base URL cannot be empty")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		cache:   cfg.Cache,
		logger:  logger,
	}, nil
}

// probeResponse is the API service response shape
type probeResponse struct {
	Success bool   `json:"success"`
	Exists  bool   `json:"exists"`
	Error   string `json:"error,omitempty"`
}

// Check reports whether the identifier already exists downstream. Transport
// and parse failures come back as success=false so the caller can decide to
// insert anyway.
func (c *Client) Check(ctx context.Context, steamID string) types.ProbeResult {
	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, steamID); ok {
			c.logger.WithField("steamId", steamID).Debug("Existence probe cache hit")
			return cached
		}
	}

	result := c.check(ctx, steamID)

	// Only conclusive verdicts are worth caching.
	if c.cache != nil && result.Success {
		c.cache.Set(ctx, steamID, result)
	}
	return result
}

func (c *Client) check(ctx context.Context, steamID string) types.ProbeResult {
	url := fmt.Sprintf("%s/profiles/%s/exists", c.baseURL, steamID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.ProbeResult{Success: false, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("steamId", steamID).Warn("Existence probe request failed")
		return types.ProbeResult{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.ProbeResult{Success: false, Error: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return types.ProbeResult{
			Success: false,
			Error:   fmt.Sprintf("API service returned status %d", resp.StatusCode),
		}
	}

	var parsed probeResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return types.ProbeResult{Success: false, Error: err.Error()}
	}
	if !parsed.Success {
		return types.ProbeResult{Success: false, Error: parsed.Error}
	}

	return types.ProbeResult{Success: true, Exists: parsed.Exists}
}
