// Package checks executes the per-profile check battery against the
// rate-limited upstream service. Failures funnel through the cooldown
// controller; the executor reports a terminal or deferred status for every
// check it runs.
package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/profile-validator/internal/config"
	"github.com/profile-validator/internal/cooldown"
	apperrors "github.com/profile-validator/internal/errors"
	"github.com/profile-validator/internal/logging"
	"github.com/profile-validator/internal/types"
)

const (
	// defaultRequestTimeout applies to every endpoint except the inventory
	defaultRequestTimeout = 15 * time.Second
	// inventoryRequestTimeout is longer because inventory payloads are large
	inventoryRequestTimeout = 25 * time.Second
)

// Executor runs individual checks against the upstream service
type Executor struct {
	baseURL          string
	apiKey           string
	client           *http.Client
	limiter          *rate.Limiter
	cooldowns        *cooldown.Controller
	defaultTimeout   time.Duration
	inventoryTimeout time.Duration
	logger           *logging.Logger
}

// ExecutorConfig holds upstream executor configuration
type ExecutorConfig struct {
	Upstream  config.UpstreamConfig
	Cooldowns *cooldown.Controller
	Logger    *logging.Logger
}

// NewExecutor creates an upstream check executor
func NewExecutor(cfg *ExecutorConfig) (*Executor, error) {
	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("upstream base URL cannot be empty")
	}
	if cfg.Cooldowns == nil {
		return nil, fmt.Errorf("cooldown controller cannot be nil")
	}

	defaultTimeout := cfg.Upstream.DefaultTimeout
	if defaultTimeout == 0 {
		defaultTimeout = defaultRequestTimeout
	}
	inventoryTimeout := cfg.Upstream.InventoryTimeout
	if inventoryTimeout == 0 {
		inventoryTimeout = inventoryRequestTimeout
	}
	rps := cfg.Upstream.RequestsPerSecond
	if rps <= 0 {
		rps = 1.0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Executor{
		baseURL:          strings.TrimRight(cfg.Upstream.BaseURL, "/"),
		apiKey:           cfg.Upstream.APIKey,
		client:           &http.Client{},
		limiter:          rate.NewLimiter(rate.Limit(rps), 1),
		cooldowns:        cfg.Cooldowns,
		defaultTimeout:   defaultTimeout,
		inventoryTimeout: inventoryTimeout,
		logger:           logger,
	}, nil
}

// RequestTimeout returns the per-endpoint request timeout
func (e *Executor) RequestTimeout(endpoint types.EndpointName) time.Duration {
	if endpoint == types.EndpointInventory {
		return e.inventoryTimeout
	}
	return e.defaultTimeout
}

// checkURL builds the upstream request URL for one check
func (e *Executor) checkURL(check types.CheckName, steamID string) string {
	switch check {
	case types.CheckFriends:
		return fmt.Sprintf("%s/ISteamUser/GetFriendList/v1/?key=%s&steamid=%s", e.baseURL, e.apiKey, steamID)
	case types.CheckCSGOInventory:
		return fmt.Sprintf("%s/inventory/%s/730/2", e.baseURL, steamID)
	case types.CheckSteamLevel:
		return fmt.Sprintf("%s/IPlayerService/GetSteamLevel/v1/?key=%s&steamid=%s", e.baseURL, e.apiKey, steamID)
	case types.CheckAnimatedAvatar:
		return fmt.Sprintf("%s/IPlayerService/GetAnimatedAvatar/v1/?key=%s&steamid=%s", e.baseURL, e.apiKey, steamID)
	case types.CheckAvatarFrame:
		return fmt.Sprintf("%s/IPlayerService/GetAvatarFrame/v1/?key=%s&steamid=%s", e.baseURL, e.apiKey, steamID)
	case types.CheckMiniProfileBackground:
		return fmt.Sprintf("%s/IPlayerService/GetMiniProfileBackground/v1/?key=%s&steamid=%s", e.baseURL, e.apiKey, steamID)
	case types.CheckProfileBackground:
		return fmt.Sprintf("%s/IPlayerService/GetProfileBackground/v1/?key=%s&steamid=%s", e.baseURL, e.apiKey, steamID)
	default:
		return e.baseURL
	}
}

// Run executes one check and returns its resulting status. Cooldown-worthy
// failures mark the endpoint and come back deferred; deterministic upstream
// rejections come back failed.
func (e *Executor) Run(ctx context.Context, check types.CheckName, steamID string) types.CheckStatus {
	endpoint := types.EndpointForCheck(check)
	if !e.cooldowns.IsEndpointAvailable(endpoint) {
		e.logger.WithFields(map[string]interface{}{
			"check":    check,
			"endpoint": endpoint,
		}).Debug("Endpoint in cooldown, deferring check")
		return types.StatusDeferred
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return types.StatusDeferred
	}

	url := e.checkURL(check, steamID)
	body, err := e.execute(ctx, endpoint, url)
	if err != nil {
		outcome := e.cooldowns.HandleRequestError(err, url)
		if outcome.CooldownApplied {
			e.logger.WithFields(map[string]interface{}{
				"check":    check,
				"steamId":  steamID,
				"endpoint": outcome.Endpoint,
				"reason":   outcome.Reason,
			}).Warn("Check deferred after request error")
			return types.StatusDeferred
		}

		e.logger.WithError(err).WithFields(map[string]interface{}{
			"check":   check,
			"steamId": steamID,
		}).Warn("Check failed on upstream error")
		return types.StatusFailed
	}

	e.cooldowns.ResetOnSuccess(endpoint)

	if e.evaluate(check, body) {
		return types.StatusPassed
	}
	return types.StatusFailed
}

// execute performs the HTTP request with the endpoint's timeout and
// surfaces classifiable errors.
func (e *Executor) execute(ctx context.Context, endpoint types.EndpointName, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.RequestTimeout(endpoint))
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewUpstreamError(string(endpoint), err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		// Transport errors keep their message so the cooldown classifier
		// can match signatures like ECONNRESET or timeout.
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperrors.NewRateLimitedError(string(endpoint))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewUpstreamError(string(endpoint),
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	return data, nil
}

// evaluate interprets a 200 response body for one check. A check passes
// when the upstream reports the verified attribute as present.
func (e *Executor) evaluate(check types.CheckName, body []byte) bool {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		e.logger.WithError(err).WithField("check", check).Warn("Unparseable upstream response")
		return false
	}

	switch check {
	case types.CheckFriends:
		return nestedNonEmpty(parsed, "friendslist", "friends")
	case types.CheckCSGOInventory:
		return nestedNonEmpty(parsed, "assets")
	case types.CheckSteamLevel:
		return nestedNonEmpty(parsed, "response", "player_level")
	default:
		// Avatar and background checks share the IPlayerService response
		// shape: they pass when the response object is non-empty. No
		// specific avatar/background field is examined.
		return nestedNonEmpty(parsed, "response")
	}
}

// nestedNonEmpty walks a key path and reports whether the value is present
// and non-empty.
func nestedNonEmpty(value interface{}, path ...string) bool {
	for _, key := range path {
		object, ok := value.(map[string]interface{})
		if !ok {
			return false
		}
		value, ok = object[key]
		if !ok {
			return false
		}
	}

	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case []interface{}:
		return len(v) > 0
	case map[string]interface{}:
		return len(v) > 0
	default:
		return true
	}
}
