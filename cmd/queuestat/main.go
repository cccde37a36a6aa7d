// Package main provides a one-shot operator tool that prints queue service
// statistics plus local store and cooldown state.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/profile-validator/internal/config"
	"github.com/profile-validator/internal/cooldown"
	"github.com/profile-validator/internal/logging"
	"github.com/profile-validator/internal/queue"
	"github.com/profile-validator/internal/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Keep structured output on stdout clean; logs go to stderr.
	logger := logging.NewLogger(logging.LevelWarn, logging.FormatText)
	logger.SetOutput(os.Stderr)

	cooldowns := cooldown.NewController(cfg.Files.CooldownPath, cfg.Cooldown, logger)
	checkStore := store.NewStore(cfg.Files.CheckStorePath, nil, logger)

	report := map[string]interface{}{
		"instanceId": cfg.Worker.InstanceID,
		"store":      checkStore.Stats(),
		"deferred":   checkStore.DeferredStats(),
		"cooldowns":  cooldowns.Status(),
	}

	if cfg.Queue.BaseURL != "" {
		client, err := queue.NewClient(&queue.ClientConfig{
			BaseURL:    cfg.Queue.BaseURL,
			APIKey:     cfg.Queue.APIKey,
			QueueName:  cfg.Queue.QueueName,
			InstanceID: cfg.Worker.InstanceID,
			Timeout:    cfg.Queue.Timeout,
			Logger:     logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create queue client: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		report["queue"] = client.Stats(ctx)
	}

	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
}
