// Package main provides the profile validator worker entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/profile-validator/internal/api"
	"github.com/profile-validator/internal/checks"
	"github.com/profile-validator/internal/config"
	"github.com/profile-validator/internal/cooldown"
	"github.com/profile-validator/internal/logging"
	"github.com/profile-validator/internal/probe"
	"github.com/profile-validator/internal/queue"
	"github.com/profile-validator/internal/retry"
	"github.com/profile-validator/internal/storage"
	"github.com/profile-validator/internal/store"
	"github.com/profile-validator/internal/worker"
)

func main() {
	fmt.Println("Profile Validator Worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.WithField("instanceId", cfg.Worker.InstanceID).Info("Worker starting")

	cooldowns := cooldown.NewController(cfg.Files.CooldownPath, cfg.Cooldown, logger)

	// The queue client is optional; without it the worker only drains
	// whatever is already in the local store.
	var queueClient *queue.Client
	if cfg.Queue.BaseURL != "" {
		queueClient, err = queue.NewClient(&queue.ClientConfig{
			BaseURL:    cfg.Queue.BaseURL,
			APIKey:     cfg.Queue.APIKey,
			QueueName:  cfg.Queue.QueueName,
			InstanceID: cfg.Worker.InstanceID,
			Timeout:    cfg.Queue.Timeout,
			Logger:     logger,
		})
		if err != nil {
			logger.Fatalf("Failed to create queue client: %v", err)
		}
	} else {
		logger.Warn("No queue base URL configured, running without the shared queue")
	}

	var completer store.QueueCompleter
	if queueClient != nil {
		completer = queueClient
	}
	checkStore := store.NewStore(cfg.Files.CheckStorePath, completer, logger)

	var probeCache *storage.ProbeCache
	var existenceProbe store.ExistenceProbe
	if cfg.Probe.BaseURL != "" {
		var cache probe.Cache
		if cfg.Redis.Host != "" {
			probeCache, err = storage.NewProbeCache(&cfg.Redis, logger)
			if err != nil {
				logger.WithError(err).Warn("Probe cache unavailable, probing without cache")
			} else {
				defer probeCache.Close()
				cache = probeCache
			}
		}

		probeClient, err := probe.NewClient(&probe.ClientConfig{
			BaseURL: cfg.Probe.BaseURL,
			Timeout: cfg.Probe.Timeout,
			Cache:   cache,
			Logger:  logger,
		})
		if err != nil {
			logger.Fatalf("Failed to create existence probe: %v", err)
		}
		existenceProbe = probeClient
	}

	executor, err := checks.NewExecutor(&checks.ExecutorConfig{
		Upstream:  cfg.Upstream,
		Cooldowns: cooldowns,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create check executor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Confirm queue service connectivity before claiming; the worker still
	// starts when the service stays unreachable.
	if queueClient != nil {
		err := retry.WithRetry(ctx, func(ctx context.Context, attempt int) error {
			if stats := queueClient.Stats(ctx); stats == nil {
				return fmt.Errorf("queue service unreachable")
			}
			return nil
		})
		if err != nil {
			logger.WithError(err).Warn("Queue service not reachable at startup, continuing")
		}
	}

	var coordinatorQueue worker.QueueService
	if queueClient != nil {
		coordinatorQueue = queueClient
	}
	coordinator, err := worker.NewCoordinator(&worker.CoordinatorConfig{
		CheckStore:     checkStore,
		Queue:          coordinatorQueue,
		Probe:          existenceProbe,
		Runner:         executor,
		Cooldowns:      cooldowns,
		PollInterval:   cfg.Worker.PollInterval,
		ClaimBatchSize: cfg.Worker.ClaimBatchSize,
		SweepInterval:  cfg.Worker.DeferredSweepInterval,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create coordinator: %v", err)
	}

	if err := coordinator.Start(ctx); err != nil {
		logger.Fatalf("Failed to start coordinator: %v", err)
	}

	var statusServer *api.Server
	if cfg.API.Enabled {
		statusServer = api.NewServer(&api.ServerConfig{
			Host: cfg.API.Host,
			Port: cfg.API.Port,
		}, checkStore, cooldowns, logger)
		statusServer.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if statusServer != nil {
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Status API shutdown failed")
		}
	}
	if err := coordinator.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Coordinator stop failed")
	}

	logger.Info("Worker stopped")
}
