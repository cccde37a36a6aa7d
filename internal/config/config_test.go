package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Queue.QueueName != "validator" {
		t.Errorf("Queue.QueueName = %v, want validator", cfg.Queue.QueueName)
	}
	if cfg.Queue.Timeout != 30*time.Second {
		t.Errorf("Queue.Timeout = %v, want 30s", cfg.Queue.Timeout)
	}
	if cfg.Worker.ClaimBatchSize != 5 {
		t.Errorf("Worker.ClaimBatchSize = %v, want 5", cfg.Worker.ClaimBatchSize)
	}
	if cfg.Worker.InstanceID == "" {
		t.Error("Worker.InstanceID should be generated when unset")
	}
	if cfg.Upstream.DefaultTimeout != 15*time.Second {
		t.Errorf("Upstream.DefaultTimeout = %v, want 15s", cfg.Upstream.DefaultTimeout)
	}
	if cfg.Upstream.InventoryTimeout != 25*time.Second {
		t.Errorf("Upstream.InventoryTimeout = %v, want 25s", cfg.Upstream.InventoryTimeout)
	}
	if cfg.Cooldown.BackoffSequence != nil {
		t.Errorf("Cooldown.BackoffSequence = %v, want nil so the controller substitutes its default", cfg.Cooldown.BackoffSequence)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	if err := os.Setenv("QUEUE_BASE_URL", "http://queue.test"); err != nil {
		t.Fatalf("Failed to set QUEUE_BASE_URL: %v", err)
	}
	if err := os.Setenv("INSTANCE_ID", "validator-test-1"); err != nil {
		t.Fatalf("Failed to set INSTANCE_ID: %v", err)
	}
	if err := os.Setenv("BACKOFF_SEQUENCE", "1, 2, 4"); err != nil {
		t.Fatalf("Failed to set BACKOFF_SEQUENCE: %v", err)
	}
	if err := os.Setenv("POLL_INTERVAL", "2s"); err != nil {
		t.Fatalf("Failed to set POLL_INTERVAL: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("QUEUE_BASE_URL")
		_ = os.Unsetenv("INSTANCE_ID")
		_ = os.Unsetenv("BACKOFF_SEQUENCE")
		_ = os.Unsetenv("POLL_INTERVAL")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Queue.BaseURL != "http://queue.test" {
		t.Errorf("Queue.BaseURL = %v, want http://queue.test", cfg.Queue.BaseURL)
	}
	if cfg.Worker.InstanceID != "validator-test-1" {
		t.Errorf("Worker.InstanceID = %v, want validator-test-1", cfg.Worker.InstanceID)
	}
	if cfg.Worker.PollInterval != 2*time.Second {
		t.Errorf("Worker.PollInterval = %v, want 2s", cfg.Worker.PollInterval)
	}

	want := []int{1, 2, 4}
	if len(cfg.Cooldown.BackoffSequence) != len(want) {
		t.Fatalf("Cooldown.BackoffSequence = %v, want %v", cfg.Cooldown.BackoffSequence, want)
	}
	for i, minutes := range want {
		if cfg.Cooldown.BackoffSequence[i] != minutes {
			t.Errorf("Cooldown.BackoffSequence[%d] = %v, want %v", i, cfg.Cooldown.BackoffSequence[i], minutes)
		}
	}
}

func TestGetEnvAsIntSlice(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue []int
		want         []int
	}{
		{
			name:         "unset returns default",
			envValue:     "",
			defaultValue: []int{1, 2},
			want:         []int{1, 2},
		},
		{
			name:         "parses comma separated values",
			envValue:     "5,10,20",
			defaultValue: nil,
			want:         []int{5, 10, 20},
		},
		{
			name:         "malformed value returns default",
			envValue:     "5,abc",
			defaultValue: []int{1},
			want:         []int{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv("TEST_INT_SLICE", tt.envValue); err != nil {
					t.Fatalf("Failed to set TEST_INT_SLICE: %v", err)
				}
				defer os.Unsetenv("TEST_INT_SLICE")
			}

			got := getEnvAsIntSlice("TEST_INT_SLICE", tt.defaultValue)
			if len(got) != len(tt.want) {
				t.Fatalf("getEnvAsIntSlice() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("getEnvAsIntSlice()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
