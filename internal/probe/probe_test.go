package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profile-validator/internal/logging"
	"github.com/profile-validator/internal/types"
)

func testLogger() *logging.Logger {
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	logger.SetOutput(os.Stderr)
	return logger
}

// memoryCache is a map-backed Cache for tests
type memoryCache struct {
	entries map[string]types.ProbeResult
	sets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]types.ProbeResult)}
}

func (m *memoryCache) Get(ctx context.Context, steamID string) (types.ProbeResult, bool) {
	result, ok := m.entries[steamID]
	return result, ok
}

func (m *memoryCache) Set(ctx context.Context, steamID string, result types.ProbeResult) {
	m.entries[steamID] = result
	m.sets++
}

func newTestClient(t *testing.T, cache Cache, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&ClientConfig{
		BaseURL: server.URL,
		Cache:   cache,
		Logger:  testLogger(),
	})
	require.NoError(t, err)
	return client
}

func TestCheckExists(t *testing.T) {
	var requests int
	client := newTestClient(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/profiles/76561198000000001/exists", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "exists": true})
	}))

	result := client.Check(context.Background(), "76561198000000001")
	assert.True(t, result.Success)
	assert.True(t, result.Exists)
	assert.Equal(t, 1, requests)
}

func TestCheckFailuresComeBackUnsuccessful(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "down", http.StatusBadGateway)
			},
		},
		{
			name: "success false",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "db offline"})
			},
		},
		{
			name: "unparseable body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, nil, tt.handler)
			result := client.Check(context.Background(), "id")
			assert.False(t, result.Success)
			assert.NotEmpty(t, result.Error)
		})
	}
}

func TestCheckCacheHitSuppressesRequest(t *testing.T) {
	var requests int
	cache := newMemoryCache()
	client := newTestClient(t, cache, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "exists": true})
	}))

	first := client.Check(context.Background(), "id")
	require.True(t, first.Success)
	assert.Equal(t, 1, requests)
	assert.Equal(t, 1, cache.sets)

	second := client.Check(context.Background(), "id")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, requests, "cache hit must not issue a second request")
}

func TestCheckFailedProbeNotCached(t *testing.T) {
	cache := newMemoryCache()
	client := newTestClient(t, cache, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))

	result := client.Check(context.Background(), "id")
	assert.False(t, result.Success)
	assert.Equal(t, 0, cache.sets)
}
