// Package store implements the persistent local queue of claimed profiles.
// Each profile tracks the status of every check; the whole store is written
// as one JSON document after every mutation, so the on-disk state always
// reflects the in-memory state when a mutating call returns.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/profile-validator/internal/errors"
	"github.com/profile-validator/internal/logging"
	"github.com/profile-validator/internal/types"
)

// QueueCompleter acknowledges finished identifiers to the shared queue.
// The store only needs the complete call; the full queue client satisfies
// this.
type QueueCompleter interface {
	CompleteItems(ctx context.Context, ids []string) bool
}

// ExistenceProbe tests whether an identifier is already present in the
// downstream database.
type ExistenceProbe interface {
	Check(ctx context.Context, steamID string) types.ProbeResult
}

// AvailabilityReporter answers whether any upstream endpoint is usable now
type AvailabilityReporter interface {
	AnyEndpointAvailable() bool
}

// AddOutcome reports what AddProfile did
type AddOutcome string

const (
	// AddInserted means a new profile was created
	AddInserted AddOutcome = "inserted"
	// AddAlreadyPresent means the identifier was already tracked
	AddAlreadyPresent AddOutcome = "already_present"
	// AddSuppressed means the existence probe reported the identifier as
	// already present downstream, so no profile was created
	AddSuppressed AddOutcome = "suppressed"
)

// Store is the local check-state queue. One logical driver performs all
// mutations; the mutex only guards concurrent readers such as the status
// API.
type Store struct {
	mu          sync.Mutex
	path        string
	profiles    []*types.Profile
	queueClient QueueCompleter
	logger      *logging.Logger
	now         func() time.Time
}

// NewStore creates a check store backed by the given file. An absent or
// malformed file starts the store empty. The queue completer may be nil for
// standalone operation.
func NewStore(path string, queueClient QueueCompleter, logger *logging.Logger) *Store {
	s := &Store{
		path:        path,
		queueClient: queueClient,
		logger:      logger,
		now:         time.Now,
	}
	s.profiles = s.load()
	return s
}

// load reads and validates the persisted profile list. Records with unknown
// checks or statuses are dropped with a warning rather than poisoning the
// store.
func (s *Store) load() []*types.Profile {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).Warnf("Failed to read check store %s, starting empty", s.path)
		}
		return []*types.Profile{}
	}

	var profiles []*types.Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		s.logger.WithError(err).Warnf("Malformed check store %s, starting empty", s.path)
		return []*types.Profile{}
	}

	valid := make([]*types.Profile, 0, len(profiles))
	for _, profile := range profiles {
		if profile == nil || profile.SteamID == "" {
			s.logger.Warn("Dropping profile record without steam_id")
			continue
		}
		if !validChecks(profile.Checks) {
			s.logger.WithField("steamId", profile.SteamID).Warn("Dropping profile record with invalid check set")
			continue
		}
		valid = append(valid, profile)
	}
	return valid
}

// validChecks verifies the closed check-name set and the four-status set
func validChecks(checks map[types.CheckName]types.CheckStatus) bool {
	if len(checks) != len(types.CheckNames) {
		return false
	}
	for _, name := range types.CheckNames {
		status, ok := checks[name]
		if !ok || !types.IsValidCheckStatus(status) {
			return false
		}
	}
	return true
}

// persist writes the full profile list before the mutating caller returns
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.profiles, "", "  ")
	if err != nil {
		return apperrors.NewPersistenceError(s.path, err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.NewPersistenceError(s.path, err)
		}
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return apperrors.NewPersistenceError(s.path, err)
	}
	return nil
}

func cloneProfile(p *types.Profile) *types.Profile {
	checks := make(map[types.CheckName]types.CheckStatus, len(p.Checks))
	for name, status := range p.Checks {
		checks[name] = status
	}
	return &types.Profile{
		SteamID:   p.SteamID,
		Username:  p.Username,
		Timestamp: p.Timestamp,
		Checks:    checks,
	}
}

func (s *Store) find(steamID string) *types.Profile {
	for _, profile := range s.profiles {
		if profile.SteamID == steamID {
			return profile
		}
	}
	return nil
}

// AddProfile tracks a newly claimed identifier. An already-tracked
// identifier returns the existing profile unchanged. When a probe is
// supplied and reports the identifier as existing downstream, the insert is
// suppressed; a failed probe inserts anyway with a warning. Only a
// persistence failure returns an error, with the insert rolled back so the
// caller can release the claim.
func (s *Store) AddProfile(ctx context.Context, steamID, username string, probe ExistenceProbe) (*types.Profile, AddOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.find(steamID); existing != nil {
		s.logger.WithField("steamId", steamID).Debug("Profile already tracked")
		return cloneProfile(existing), AddAlreadyPresent, nil
	}

	if probe != nil {
		result := probe.Check(ctx, steamID)
		if result.Success && result.Exists {
			s.logger.WithField("steamId", steamID).Info("Profile already present downstream, suppressing insert")
			return nil, AddSuppressed, nil
		}
		if !result.Success {
			s.logger.WithFields(map[string]interface{}{
				"steamId": steamID,
				"error":   result.Error,
			}).Warn("Existence probe failed, inserting anyway")
		}
	}

	if strings.TrimSpace(username) == "" {
		username = types.DefaultUsername
	}

	profile := &types.Profile{
		SteamID:   steamID,
		Username:  username,
		Timestamp: s.now().UnixMilli(),
		Checks:    types.NewChecks(),
	}
	s.profiles = append(s.profiles, profile)

	if err := s.persist(); err != nil {
		s.profiles = s.profiles[:len(s.profiles)-1]
		s.logger.ErrorWithErr("Failed to persist new profile", err)
		return nil, "", err
	}

	s.logger.WithFields(map[string]interface{}{
		"steamId":  steamID,
		"username": username,
	}).Info("Profile added")
	return cloneProfile(profile), AddInserted, nil
}

// UpdateCheck writes a new status for one check. Returns false when the
// profile or check is unknown, the status is invalid, or persistence fails.
func (s *Store) UpdateCheck(steamID string, check types.CheckName, status types.CheckStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !types.IsValidCheckStatus(status) {
		s.logger.WithField("status", status).Error("Rejecting invalid check status")
		return false
	}

	profile := s.find(steamID)
	if profile == nil {
		s.logger.WithField("steamId", steamID).Warn("Cannot update check, profile not found")
		return false
	}

	previous, ok := profile.Checks[check]
	if !ok {
		s.logger.WithFields(map[string]interface{}{
			"steamId": steamID,
			"check":   check,
		}).Warn("Cannot update unknown check")
		return false
	}

	profile.Checks[check] = status
	if err := s.persist(); err != nil {
		profile.Checks[check] = previous
		s.logger.ErrorWithErr("Failed to persist check update", err)
		return false
	}

	s.logger.WithFields(map[string]interface{}{
		"steamId": steamID,
		"check":   check,
		"status":  status,
	}).Debug("Check updated")
	return true
}

// RemoveProfile drops a profile and, when a queue client is wired,
// acknowledges the identifier as complete. The complete call is best-effort;
// its failure does not undo the remove.
func (s *Store) RemoveProfile(ctx context.Context, steamID string) bool {
	s.mu.Lock()

	index := -1
	for i, profile := range s.profiles {
		if profile.SteamID == steamID {
			index = i
			break
		}
	}
	if index < 0 {
		s.mu.Unlock()
		s.logger.WithField("steamId", steamID).Warn("Cannot remove profile, not found")
		return false
	}

	removed := s.profiles[index]
	s.profiles = append(s.profiles[:index], s.profiles[index+1:]...)

	if err := s.persist(); err != nil {
		// Reinsert at the original position so memory matches disk.
		s.profiles = append(s.profiles[:index], append([]*types.Profile{removed}, s.profiles[index:]...)...)
		s.mu.Unlock()
		s.logger.ErrorWithErr("Failed to persist profile removal", err)
		return false
	}
	s.mu.Unlock()

	s.logger.WithField("steamId", steamID).Info("Profile removed")

	if s.queueClient != nil {
		if !s.queueClient.CompleteItems(ctx, []string{steamID}) {
			s.logger.WithField("steamId", steamID).Warn("Failed to acknowledge completion to queue service")
		}
	}
	return true
}

// NextProcessable selects the next profile the driver should work on, in
// insertion order:
//
//  1. a profile with outstanding to_check work, else
//  2. a fully terminal profile, so the driver observes completion and
//     removes it, else
//  3. a profile with deferred checks, as a second pass.
//
// Every profile matches one of these cases, so nil is returned only when
// the store is empty.
func (s *Store) NextProcessable() *types.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, profile := range s.profiles {
		hasToCheck := false
		hasDeferred := false
		for _, status := range profile.Checks {
			switch status {
			case types.StatusToCheck:
				hasToCheck = true
			case types.StatusDeferred:
				hasDeferred = true
			}
		}
		if hasToCheck {
			return cloneProfile(profile)
		}
		if !hasDeferred {
			// Every check terminal: surface it so the driver removes it.
			return cloneProfile(profile)
		}
	}

	for _, profile := range s.profiles {
		for _, status := range profile.Checks {
			if status == types.StatusDeferred {
				return cloneProfile(profile)
			}
		}
	}

	return nil
}

// Profile returns a copy of one profile, or nil when not tracked
func (s *Store) Profile(steamID string) *types.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile := s.find(steamID)
	if profile == nil {
		return nil
	}
	return cloneProfile(profile)
}

// All returns a copy of every tracked profile in insertion order
func (s *Store) All() []*types.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.Profile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		out = append(out, cloneProfile(profile))
	}
	return out
}

// SweepResult reports what ConvertDeferredToToCheck changed
type SweepResult struct {
	Conversions      int `json:"conversions"`
	ProfilesAffected int `json:"profilesAffected"`
}

// ConvertDeferredToToCheck rewrites every deferred check back to to_check
// so work suspended by endpoint cooldowns is retried. Persists once when
// anything changed.
func (s *Store) ConvertDeferredToToCheck() SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := SweepResult{}
	for _, profile := range s.profiles {
		affected := false
		for name, status := range profile.Checks {
			if status == types.StatusDeferred {
				profile.Checks[name] = types.StatusToCheck
				result.Conversions++
				affected = true
			}
		}
		if affected {
			result.ProfilesAffected++
		}
	}

	if result.Conversions > 0 {
		if err := s.persist(); err != nil {
			s.logger.ErrorWithErr("Failed to persist deferred sweep", err)
		}
		s.logger.WithFields(map[string]interface{}{
			"conversions": result.Conversions,
			"profiles":    result.ProfilesAffected,
		}).Info("Converted deferred checks back to to_check")
	}
	return result
}

// StoreStats summarizes the tracked profiles
type StoreStats struct {
	TotalProfiles int                       `json:"totalProfiles"`
	ByUsername    map[string]int            `json:"byUsername"`
	ByStatus      map[types.CheckStatus]int `json:"byStatus"`
}

// Stats reports profile counts by username and check counts by status
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := StoreStats{
		TotalProfiles: len(s.profiles),
		ByUsername:    make(map[string]int),
		ByStatus: map[types.CheckStatus]int{
			types.StatusToCheck:  0,
			types.StatusPassed:   0,
			types.StatusFailed:   0,
			types.StatusDeferred: 0,
		},
	}

	for _, profile := range s.profiles {
		stats.ByUsername[profile.Username]++
		for _, status := range profile.Checks {
			stats.ByStatus[status]++
		}
	}
	return stats
}

// DeferredStats summarizes suspended work
type DeferredStats struct {
	TotalDeferred        int `json:"totalDeferred"`
	ProfilesWithDeferred int `json:"profilesWithDeferred"`
	TotalProfiles        int `json:"totalProfiles"`
}

// DeferredStats reports how much work is currently suspended by cooldowns
func (s *Store) DeferredStats() DeferredStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := DeferredStats{TotalProfiles: len(s.profiles)}
	for _, profile := range s.profiles {
		deferred := 0
		for _, status := range profile.Checks {
			if status == types.StatusDeferred {
				deferred++
			}
		}
		if deferred > 0 {
			stats.ProfilesWithDeferred++
			stats.TotalDeferred += deferred
		}
	}
	return stats
}

// DeferredCheck identifies one suspended check
type DeferredCheck struct {
	SteamID string          `json:"steam_id"`
	Check   types.CheckName `json:"check_name"`
}

// DeferredChecks lists every suspended check in insertion and display order
func (s *Store) DeferredChecks() []DeferredCheck {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []DeferredCheck
	for _, profile := range s.profiles {
		for _, name := range types.CheckNames {
			if profile.Checks[name] == types.StatusDeferred {
				out = append(out, DeferredCheck{SteamID: profile.SteamID, Check: name})
			}
		}
	}
	return out
}

// CompletionStatus reports whether a profile is done
type CompletionStatus struct {
	AllComplete bool `json:"allComplete"`
	AllPassed   bool `json:"allPassed"`
}

// Completion reports whether every check of a profile is terminal, and
// whether all of them passed. An unknown profile yields the zero status.
func (s *Store) Completion(steamID string) CompletionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile := s.find(steamID)
	if profile == nil {
		s.logger.WithField("steamId", steamID).Warn("Cannot report completion, profile not found")
		return CompletionStatus{}
	}

	status := CompletionStatus{AllComplete: true, AllPassed: true}
	for _, checkStatus := range profile.Checks {
		if !checkStatus.IsTerminal() {
			status.AllComplete = false
			status.AllPassed = false
			return status
		}
		if checkStatus != types.StatusPassed {
			status.AllPassed = false
		}
	}
	return status
}

// IsHealthy gates claim admission: the store must have no deferred work,
// and when a cooldown controller is wired at least one endpoint must be
// available.
func (s *Store) IsHealthy(cooldowns AvailabilityReporter) bool {
	s.mu.Lock()
	for _, profile := range s.profiles {
		for _, status := range profile.Checks {
			if status == types.StatusDeferred {
				s.mu.Unlock()
				return false
			}
		}
	}
	s.mu.Unlock()

	if cooldowns != nil && !cooldowns.AnyEndpointAvailable() {
		return false
	}
	return true
}
