// Package worker implements the coordinator loop that drains the shared
// queue: select the next processable profile, drive its checks, record the
// outcomes, and pull fresh work when idle and healthy.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/profile-validator/internal/logging"
	"github.com/profile-validator/internal/store"
	"github.com/profile-validator/internal/types"
)

// DefaultClaimBatchSize is how many items are claimed when refilling from
// an empty store.
const DefaultClaimBatchSize = 5

// QueueService is the queue client surface the coordinator drives.
// Completion acknowledgements go through the store's own queue hook.
type QueueService interface {
	ClaimItems(ctx context.Context, count int) []types.QueueItem
	ReleaseItems(ctx context.Context, ids []string) bool
	ReleaseInstance(ctx context.Context) int
}

// CheckRunner executes one check and reports the resulting status
type CheckRunner interface {
	Run(ctx context.Context, check types.CheckName, steamID string) types.CheckStatus
}

// CooldownManager is the cooldown surface the coordinator consults
type CooldownManager interface {
	AnyEndpointAvailable() bool
	CleanupExpired() int
}

// Coordinator drives the validation loop for one worker instance
type Coordinator struct {
	checkStore     *store.Store
	queue          QueueService
	probe          store.ExistenceProbe
	runner         CheckRunner
	cooldowns      CooldownManager
	pollInterval   time.Duration
	claimBatchSize int
	sweepInterval  time.Duration
	logger         *logging.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// CoordinatorConfig holds coordinator configuration
type CoordinatorConfig struct {
	CheckStore     *store.Store
	Queue          QueueService         // optional, standalone mode without it
	Probe          store.ExistenceProbe // optional
	Runner         CheckRunner
	Cooldowns      CooldownManager // optional
	PollInterval   time.Duration
	ClaimBatchSize int
	SweepInterval  time.Duration
	Logger         *logging.Logger
}

// NewCoordinator creates a coordinator
func NewCoordinator(cfg *CoordinatorConfig) (*Coordinator, error) {
	if cfg.CheckStore == nil {
		return nil, fmt.Errorf("check store cannot be nil")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("check runner cannot be nil")
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 5 * time.Second
	}
	claimBatchSize := cfg.ClaimBatchSize
	if claimBatchSize <= 0 {
		claimBatchSize = DefaultClaimBatchSize
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Coordinator{
		checkStore:     cfg.CheckStore,
		queue:          cfg.Queue,
		probe:          cfg.Probe,
		runner:         cfg.Runner,
		cooldowns:      cfg.Cooldowns,
		pollInterval:   pollInterval,
		claimBatchSize: claimBatchSize,
		sweepInterval:  sweepInterval,
		logger:         logger,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// Start releases claims orphaned by a prior crash, then begins the run
// loop in a goroutine.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator is already running")
	}
	c.running = true
	c.mu.Unlock()

	if c.queue != nil {
		released := c.queue.ReleaseInstance(ctx)
		c.logger.WithField("released", released).Info("Released prior instance claims")
	}

	go c.runLoop(ctx)
	return nil
}

// Stop gracefully stops the run loop
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator is not running")
	}
	c.mu.Unlock()

	close(c.stopCh)

	select {
	case <-c.doneCh:
		c.logger.Info("Coordinator stopped")
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("stop timeout")
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

// runLoop cycles until stopped, sweeping deferred work on its own cadence
func (c *Coordinator) runLoop(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	sweepTicker := time.NewTicker(c.sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Coordinator context cancelled")
			return
		case <-c.stopCh:
			c.logger.Info("Coordinator stop signal received")
			return
		case <-sweepTicker.C:
			if c.cooldowns != nil {
				c.cooldowns.CleanupExpired()
			}
			result := c.checkStore.ConvertDeferredToToCheck()
			if result.Conversions > 0 {
				c.logger.WithField("conversions", result.Conversions).Info("Deferred sweep completed")
			}
		case <-ticker.C:
			if err := c.RunCycle(ctx); err != nil {
				c.logger.ErrorWithErr("Cycle failed", err)
			}
		}
	}
}

// RunCycle performs one coordinator cycle: process the next processable
// profile, or claim fresh work when the store is idle and healthy.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	profile := c.checkStore.NextProcessable()
	if profile == nil {
		return c.claimFreshWork(ctx)
	}

	return c.process(ctx, profile)
}

// claimFreshWork pulls a batch from the shared queue, gated on local health.
// Items that cannot be inserted are released back individually.
func (c *Coordinator) claimFreshWork(ctx context.Context) error {
	if c.queue == nil {
		return nil
	}

	if !c.checkStore.IsHealthy(availabilityReporter(c.cooldowns)) {
		c.logger.Debug("Skipping claim, worker unhealthy")
		return nil
	}

	items := c.queue.ClaimItems(ctx, c.claimBatchSize)
	if len(items) == 0 {
		return nil
	}

	for _, item := range items {
		_, outcome, err := c.checkStore.AddProfile(ctx, item.ID, item.Username, c.probe)
		if err != nil || outcome != store.AddInserted {
			if err != nil {
				c.logger.ErrorWithErr("Failed to insert claimed item, releasing", err)
			} else {
				c.logger.WithFields(map[string]interface{}{
					"steamId": item.ID,
					"outcome": outcome,
				}).Info("Claimed item not inserted, releasing")
			}
			c.queue.ReleaseItems(ctx, []string{item.ID})
		}
	}
	return nil
}

// availabilityReporter adapts a possibly-nil CooldownManager to the store's
// health gate interface. A typed nil must stay nil at the interface level.
func availabilityReporter(cooldowns CooldownManager) store.AvailabilityReporter {
	if cooldowns == nil {
		return nil
	}
	return cooldowns
}

// process drives every outstanding check of one profile and removes it once
// every check is terminal. Removal triggers the queue completion through
// the store.
func (c *Coordinator) process(ctx context.Context, profile *types.Profile) error {
	if completion := c.checkStore.Completion(profile.SteamID); completion.AllComplete {
		c.logger.WithFields(map[string]interface{}{
			"steamId":   profile.SteamID,
			"allPassed": completion.AllPassed,
		}).Info("Profile complete, removing")
		c.checkStore.RemoveProfile(ctx, profile.SteamID)
		return nil
	}

	for _, check := range types.CheckNames {
		if profile.Checks[check] != types.StatusToCheck {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		status := c.runner.Run(ctx, check, profile.SteamID)
		if !c.checkStore.UpdateCheck(profile.SteamID, check, status) {
			c.logger.WithFields(map[string]interface{}{
				"steamId": profile.SteamID,
				"check":   check,
			}).Warn("Failed to record check outcome")
		}
	}

	if completion := c.checkStore.Completion(profile.SteamID); completion.AllComplete {
		c.logger.WithFields(map[string]interface{}{
			"steamId":   profile.SteamID,
			"allPassed": completion.AllPassed,
		}).Info("Profile complete, removing")
		c.checkStore.RemoveProfile(ctx, profile.SteamID)
	}
	return nil
}
