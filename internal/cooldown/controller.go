// Package cooldown tracks per-endpoint cooldowns for the rate-limited
// upstream. Rate-limit responses escalate through a configured backoff
// sequence; connectivity errors apply fixed cooldowns. The last-known
// backoff level survives cooldown expiry and process restarts, and is only
// reset by an observed success.
package cooldown

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/profile-validator/internal/config"
	"github.com/profile-validator/internal/logging"
	"github.com/profile-validator/internal/types"
)

// DefaultBackoffSequence is used when no valid sequence is configured.
// Values are minutes per backoff level.
var DefaultBackoffSequence = []int{1, 2, 4, 8, 16, 32, 60, 120, 240, 480}

// fallbackFixedCooldown applies when an unknown connectivity error type
// reaches MarkCooldown.
const fallbackFixedCooldown = time.Minute

// cooldownFile is the persisted document shape
type cooldownFile struct {
	EndpointCooldowns map[types.EndpointName]*types.EndpointCooldown `json:"endpoint_cooldowns"`
}

// Controller records and answers endpoint availability
type Controller struct {
	mu        sync.RWMutex
	path      string
	durations config.CooldownConfig
	sequence  []int
	cooldowns map[types.EndpointName]*types.EndpointCooldown
	// backoffLevels holds the last-known 429 level per endpoint. Entries
	// outlive the cooldown records so consecutive 429s escalate across an
	// expiry gap; only ResetOnSuccess clears them.
	backoffLevels map[types.EndpointName]int
	logger        *logging.Logger
	now           func() time.Time
}

// NewController creates a cooldown controller backed by the given state file.
// Persisted cooldowns are loaded immediately and 429 records rehydrate the
// backoff level table.
func NewController(path string, cfg config.CooldownConfig, logger *logging.Logger) *Controller {
	sequence := cfg.BackoffSequence
	if len(sequence) == 0 {
		sequence = DefaultBackoffSequence
	}
	for _, minutes := range sequence {
		if minutes <= 0 {
			logger.Warnf("Invalid backoff sequence %v, using default", sequence)
			sequence = DefaultBackoffSequence
			break
		}
	}

	c := &Controller{
		path:          path,
		durations:     cfg,
		sequence:      sequence,
		cooldowns:     make(map[types.EndpointName]*types.EndpointCooldown),
		backoffLevels: make(map[types.EndpointName]int),
		logger:        logger,
		now:           time.Now,
	}

	c.load()
	return c
}

// BackoffSequence returns the active backoff sequence in minutes
func (c *Controller) BackoffSequence() []int {
	out := make([]int, len(c.sequence))
	copy(out, c.sequence)
	return out
}

// load reads the cooldown file and rehydrates the backoff level table.
// An absent or malformed file leaves the controller empty.
func (c *Controller) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.WithError(err).Warnf("Failed to read cooldown file %s, starting empty", c.path)
		}
		return
	}

	var file cooldownFile
	if err := json.Unmarshal(data, &file); err != nil {
		c.logger.WithError(err).Warnf("Malformed cooldown file %s, starting empty", c.path)
		return
	}

	for name, record := range file.EndpointCooldowns {
		if record == nil || !types.IsValidCooldownReason(record.Reason) {
			c.logger.Warnf("Dropping cooldown record for %s with unknown reason", name)
			continue
		}
		c.cooldowns[name] = record
		if record.Reason == types.ReasonRateLimit && record.BackoffLevel != nil {
			c.backoffLevels[name] = c.clampLevel(*record.BackoffLevel)
		}
	}
}

// persist writes the cooldown document. Write failures are logged and the
// in-memory state keeps going.
func (c *Controller) persist() {
	file := cooldownFile{EndpointCooldowns: c.cooldowns}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		c.logger.WithError(err).Error("Failed to encode cooldown state")
		return
	}

	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		c.logger.WithError(err).Errorf("Failed to write cooldown file %s, continuing in memory", c.path)
	}
}

func (c *Controller) clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level >= len(c.sequence) {
		return len(c.sequence) - 1
	}
	return level
}

func (c *Controller) nowMillis() int64 {
	return c.now().UnixMilli()
}

// IsEndpointAvailable reports whether the endpoint has no active cooldown
func (c *Controller) IsEndpointAvailable(name types.EndpointName) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.cooldowns[name]
	if !ok {
		return true
	}
	return record.CooldownUntil <= c.nowMillis()
}

// AnyEndpointAvailable reports whether at least one named endpoint is usable
func (c *Controller) AnyEndpointAvailable() bool {
	for _, name := range types.EndpointNames {
		if c.IsEndpointAvailable(name) {
			return true
		}
	}
	return false
}

// BackoffLevel returns the last-known 429 backoff level for an endpoint
func (c *Controller) BackoffLevel(name types.EndpointName) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	level, ok := c.backoffLevels[name]
	return level, ok
}

// MarkCooldown puts an endpoint into cooldown. A 429 escalates the backoff
// level; connectivity errors use the configured fixed durations.
func (c *Controller) MarkCooldown(name types.EndpointName, reason types.CooldownReason, errorMessage string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowMillis()

	if reason == types.ReasonRateLimit {
		newLevel := 0
		if current, ok := c.backoffLevels[name]; ok {
			newLevel = c.clampLevel(current + 1)
		}
		minutes := c.sequence[newLevel]
		level := newLevel

		c.backoffLevels[name] = newLevel
		c.cooldowns[name] = &types.EndpointCooldown{
			CooldownUntil:   now + int64(minutes)*60_000,
			Reason:          types.ReasonRateLimit,
			BackoffLevel:    &level,
			DurationMinutes: minutes,
			AppliedAt:       now,
			ErrorMessage:    errorMessage,
		}

		c.logger.WithFields(map[string]interface{}{
			"endpoint":     name,
			"backoffLevel": newLevel,
			"minutes":      minutes,
		}).Warn("Endpoint rate limited, backing off")

		c.persist()
		return
	}

	duration := c.fixedDuration(reason)
	c.cooldowns[name] = &types.EndpointCooldown{
		CooldownUntil: now + duration.Milliseconds(),
		Reason:        reason,
		DurationUsed:  duration.Milliseconds(),
		AppliedAt:     now,
		ErrorMessage:  errorMessage,
	}

	c.logger.WithFields(map[string]interface{}{
		"endpoint": name,
		"reason":   reason,
		"duration": duration.String(),
	}).Warn("Endpoint in cooldown after connectivity error")

	c.persist()
}

// fixedDuration maps a connectivity error type to its configured cooldown
func (c *Controller) fixedDuration(reason types.CooldownReason) time.Duration {
	switch reason {
	case types.ReasonConnectionError:
		if c.durations.ConnectionReset > 0 {
			return c.durations.ConnectionReset
		}
	case types.ReasonTimeout:
		if c.durations.Timeout > 0 {
			return c.durations.Timeout
		}
	case types.ReasonDNSFailure:
		if c.durations.DNSFailure > 0 {
			return c.durations.DNSFailure
		}
	}
	return fallbackFixedCooldown
}

// ResetOnSuccess clears the backoff level for an endpoint and removes an
// active 429 cooldown. Connectivity cooldowns are left to expire on their
// own deadline.
func (c *Controller) ResetOnSuccess(name types.EndpointName) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, hadLevel := c.backoffLevels[name]
	delete(c.backoffLevels, name)

	if record, ok := c.cooldowns[name]; ok && record.Reason == types.ReasonRateLimit {
		delete(c.cooldowns, name)
		c.logger.WithField("endpoint", name).Info("Cleared rate limit cooldown after success")
		c.persist()
		return
	}

	if hadLevel {
		c.logger.WithField("endpoint", name).Debug("Cleared backoff level after success")
	}
}

// CleanupExpired removes every cooldown whose deadline has passed and
// returns the number removed. Backoff levels are intentionally kept so a
// later 429 escalates from where it left off.
func (c *Controller) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowMillis()
	removed := 0
	for name, record := range c.cooldowns {
		if record.CooldownUntil <= now {
			delete(c.cooldowns, name)
			removed++
		}
	}

	if removed > 0 {
		c.logger.WithField("removed", removed).Debug("Cleaned up expired cooldowns")
		c.persist()
	}
	return removed
}

// EndpointStatus describes one endpoint's availability
type EndpointStatus struct {
	Status      string               `json:"status"` // "available" or "cooldown"
	RemainingMs int64                `json:"remainingMs,omitempty"`
	Reason      types.CooldownReason `json:"reason,omitempty"`
	Until       int64                `json:"until,omitempty"`
}

// StatusSummary aggregates availability across the named endpoints
type StatusSummary struct {
	AvailableConnections int   `json:"availableConnections"`
	TotalConnections     int   `json:"totalConnections"`
	NextAvailableIn      int64 `json:"nextAvailableIn"` // milliseconds, 0 when something is available now
}

// ConnectionStatus reports per-endpoint availability plus a summary.
// Expired cooldowns are swept first.
type ConnectionStatus struct {
	Connections map[types.EndpointName]EndpointStatus `json:"connections"`
	Summary     StatusSummary                         `json:"endpointSummary"`
}

// Status cleans up expired cooldowns and reports the state of every named
// endpoint.
func (c *Controller) Status() ConnectionStatus {
	c.CleanupExpired()

	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.nowMillis()
	connections := make(map[types.EndpointName]EndpointStatus, len(types.EndpointNames))
	available := 0
	var nextAvailableIn int64

	for _, name := range types.EndpointNames {
		record, ok := c.cooldowns[name]
		if !ok || record.CooldownUntil <= now {
			connections[name] = EndpointStatus{Status: "available"}
			available++
			continue
		}

		remaining := record.CooldownUntil - now
		connections[name] = EndpointStatus{
			Status:      "cooldown",
			RemainingMs: remaining,
			Reason:      record.Reason,
			Until:       record.CooldownUntil,
		}
		if nextAvailableIn == 0 || remaining < nextAvailableIn {
			nextAvailableIn = remaining
		}
	}

	if available > 0 {
		nextAvailableIn = 0
	}

	return ConnectionStatus{
		Connections: connections,
		Summary: StatusSummary{
			AvailableConnections: available,
			TotalConnections:     len(types.EndpointNames),
			NextAvailableIn:      nextAvailableIn,
		},
	}
}

// String renders a short human-readable availability summary
func (c *Controller) String() string {
	status := c.Status()
	return fmt.Sprintf("endpoints available: %d/%d",
		status.Summary.AvailableConnections, status.Summary.TotalConnections)
}
