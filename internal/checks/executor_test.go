package checks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profile-validator/internal/config"
	"github.com/profile-validator/internal/cooldown"
	"github.com/profile-validator/internal/logging"
	"github.com/profile-validator/internal/types"
)

func testLogger() *logging.Logger {
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	logger.SetOutput(os.Stderr)
	return logger
}

func newTestController(t *testing.T) *cooldown.Controller {
	t.Helper()
	return cooldown.NewController(
		filepath.Join(t.TempDir(), "cooldowns.json"),
		config.CooldownConfig{BackoffSequence: []int{1, 2}},
		testLogger(),
	)
}

func newTestExecutor(t *testing.T, baseURL string, cooldowns *cooldown.Controller) *Executor {
	t.Helper()
	executor, err := NewExecutor(&ExecutorConfig{
		Upstream: config.UpstreamConfig{
			BaseURL:           baseURL,
			APIKey:            "test-key",
			RequestsPerSecond: 1000, // keep tests fast
		},
		Cooldowns: cooldowns,
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	return executor
}

func TestRunPassAndFailEvaluation(t *testing.T) {
	responses := map[string]interface{}{
		"/ISteamUser/GetFriendList/v1/": map[string]interface{}{
			"friendslist": map[string]interface{}{
				"friends": []interface{}{map[string]interface{}{"steamid": "2"}},
			},
		},
		"/IPlayerService/GetSteamLevel/v1/": map[string]interface{}{
			"response": map[string]interface{}{"player_level": 42},
		},
		"/IPlayerService/GetAnimatedAvatar/v1/": map[string]interface{}{
			"response": map[string]interface{}{},
		},
		"/inventory/76561198000000001/730/2": map[string]interface{}{
			"assets": []interface{}{},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, ok := responses[r.URL.Path]
		require.True(t, ok, "unexpected path %s", r.URL.Path)
		json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(server.Close)

	executor := newTestExecutor(t, server.URL, newTestController(t))
	ctx := context.Background()

	assert.Equal(t, types.StatusPassed, executor.Run(ctx, types.CheckFriends, "76561198000000001"))
	assert.Equal(t, types.StatusPassed, executor.Run(ctx, types.CheckSteamLevel, "76561198000000001"))

	// An empty response object means the attribute is absent.
	assert.Equal(t, types.StatusFailed, executor.Run(ctx, types.CheckAnimatedAvatar, "76561198000000001"))
	assert.Equal(t, types.StatusFailed, executor.Run(ctx, types.CheckCSGOInventory, "76561198000000001"))
}

func TestRunRateLimitDefers(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	cooldowns := newTestController(t)
	executor := newTestExecutor(t, server.URL, cooldowns)
	ctx := context.Background()

	assert.Equal(t, types.StatusDeferred, executor.Run(ctx, types.CheckFriends, "id"))
	assert.False(t, cooldowns.IsEndpointAvailable(types.EndpointFriends))
	level, ok := cooldowns.BackoffLevel(types.EndpointFriends)
	require.True(t, ok)
	assert.Equal(t, 0, level)

	// While the endpoint is cooling down, the check defers without a request.
	assert.Equal(t, types.StatusDeferred, executor.Run(ctx, types.CheckFriends, "id"))
	assert.Equal(t, 1, requests)
}

func TestRunConnectionErrorDefers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close() // connection refused from here on

	cooldowns := newTestController(t)
	executor := newTestExecutor(t, baseURL, cooldowns)

	assert.Equal(t, types.StatusDeferred, executor.Run(context.Background(), types.CheckSteamLevel, "id"))
	assert.False(t, cooldowns.IsEndpointAvailable(types.EndpointSteamLevel))

	// Connectivity cooldowns carry no backoff level.
	_, ok := cooldowns.BackoffLevel(types.EndpointSteamLevel)
	assert.False(t, ok)
}

func TestRunDeterministicUpstreamErrorFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	cooldowns := newTestController(t)
	executor := newTestExecutor(t, server.URL, cooldowns)

	assert.Equal(t, types.StatusFailed, executor.Run(context.Background(), types.CheckFriends, "id"))
	assert.True(t, cooldowns.IsEndpointAvailable(types.EndpointFriends))
}

func TestRunSuccessResetsBackoffLevel(t *testing.T) {
	rateLimited := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rateLimited {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"friendslist": map[string]interface{}{"friends": []interface{}{"x"}},
		})
	}))
	t.Cleanup(server.Close)

	cooldowns := newTestController(t)
	executor := newTestExecutor(t, server.URL, cooldowns)
	ctx := context.Background()

	require.Equal(t, types.StatusDeferred, executor.Run(ctx, types.CheckFriends, "id"))
	_, ok := cooldowns.BackoffLevel(types.EndpointFriends)
	require.True(t, ok)

	// Simulate expiry: a restarted controller rehydrates the level from a
	// persisted 429 record whose deadline has passed. A successful call then
	// clears the level.
	path := filepath.Join(t.TempDir(), "expired_cooldowns.json")
	expired := `{"endpoint_cooldowns":{"friends":{"cooldown_until":1,"reason":"429","backoff_level":0,"duration_minutes":1,"applied_at":0}}}`
	require.NoError(t, os.WriteFile(path, []byte(expired), 0o644))
	cooldowns = cooldown.NewController(path, config.CooldownConfig{BackoffSequence: []int{1, 2}}, testLogger())
	executor = newTestExecutor(t, server.URL, cooldowns)
	_, ok = cooldowns.BackoffLevel(types.EndpointFriends)
	require.True(t, ok)
	require.True(t, cooldowns.IsEndpointAvailable(types.EndpointFriends))

	rateLimited = false
	require.Equal(t, types.StatusPassed, executor.Run(ctx, types.CheckFriends, "id"))
	_, ok = cooldowns.BackoffLevel(types.EndpointFriends)
	assert.False(t, ok)
}

func TestRequestTimeouts(t *testing.T) {
	executor := newTestExecutor(t, "http://upstream.test", newTestController(t))

	assert.Equal(t, 15*time.Second, executor.RequestTimeout(types.EndpointFriends))
	assert.Equal(t, 25*time.Second, executor.RequestTimeout(types.EndpointInventory))
}
