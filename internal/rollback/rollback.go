package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatewatch/update-sentinel/internal/audit"
	"github.com/updatewatch/update-sentinel/internal/backend"
	"github.com/updatewatch/update-sentinel/internal/inventory"
	"github.com/updatewatch/update-sentinel/internal/probe"
)

// Policy governs when a deployed update is reverted automatically.
type Policy struct {
	AutoRollback        bool          `yaml:"auto_rollback"`
	FailureThreshold    float64       `yaml:"failure_threshold"`
	MonitoringDuration  time.Duration `yaml:"monitoring_duration"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	MaxRollbackAttempts int           `yaml:"max_rollback_attempts"`
}

// DefaultPolicy mirrors the shipped defaults: revert automatically when
// health drops more than 10% below full, watching for five minutes.
func DefaultPolicy() Policy {
	return Policy{
		AutoRollback:        true,
		FailureThreshold:    0.1,
		MonitoringDuration:  300 * time.Second,
		PollInterval:        30 * time.Second,
		MaxRollbackAttempts: 3,
	}
}

func (p Policy) withDefaults() Policy {
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 0.1
	}
	if p.MonitoringDuration <= 0 {
		p.MonitoringDuration = 300 * time.Second
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 30 * time.Second
	}
	if p.MaxRollbackAttempts <= 0 {
		p.MaxRollbackAttempts = 3
	}
	return p
}

// Loop prevention: more than loopThreshold rollbacks of the same asset
// inside loopWindow means the asset is flapping and automation must stop.
const (
	loopWindow    = time.Hour
	loopThreshold = 3
)

// Outcome classifies what the manager decided for one rollback request.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeFailed   Outcome = "failed"
	OutcomeBlocked  Outcome = "blocked"
)

// Result reports one rollback decision and, when executed, its effect.
type Result struct {
	Outcome  Outcome
	Reason   string
	Backend  backend.UpdateResult
	Duration time.Duration
}

// Blocked reports whether the manager refused to act.
func (r Result) Blocked() bool { return r.Outcome == OutcomeBlocked }

// Manager decides whether and when to revert updates, executes the
// reversions through an ExecutionBackend, and records every executed
// attempt in the audit log. Blocked requests are deliberately not
// recorded: counting them would inflate the loop detector with attempts
// that never touched the asset.
type Manager struct {
	policy  Policy
	backend backend.ExecutionBackend
	log     *audit.Log
	logger  zerolog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides time observation (for tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithSleep overrides the wait between monitoring polls (for tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		m.sleep = sleep
	}
}

// NewManager wires a rollback manager over an execution backend and a
// shared audit log.
func NewManager(policy Policy, exec backend.ExecutionBackend, log *audit.Log, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		policy:  policy.withDefaults(),
		backend: exec,
		log:     log,
		logger:  logger.With().Str("component", "rollback").Logger(),
		now:     time.Now,
		sleep:   sleepWithContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the manager's effective policy after defaulting.
func (m *Manager) Policy() Policy {
	return m.policy
}

// ShouldRollback decides whether a health observation warrants reverting.
// Health below (1 - threshold) of full, or an outright unhealthy status,
// triggers; degraded-but-above-threshold does not.
func (m *Manager) ShouldRollback(health probe.Result) bool {
	if !m.policy.AutoRollback {
		return false
	}
	if health.Status == probe.StatusUnhealthy {
		return true
	}
	return health.HealthPercentage/100 < 1-m.policy.FailureThreshold
}

// IsRollbackLoop reports whether the asset has been rolled back at least
// loopThreshold times within loopWindow.
func (m *Manager) IsRollbackLoop(assetID string) bool {
	return m.log.Count(assetID, m.now().Add(-loopWindow)) >= loopThreshold
}

// attempts counts the asset's rollbacks in the trailing hour; older
// history does not count against MaxRollbackAttempts.
func (m *Manager) attempts(assetID string) int {
	return m.log.Count(assetID, m.now().Add(-time.Hour))
}

// Rollback reverts one asset. Loop detection and the attempt ceiling are
// checked first; a blocked request returns without touching the backend
// and without an audit event.
func (m *Manager) Rollback(ctx context.Context, asset inventory.Asset, reason string, healthBefore *probe.Result) Result {
	if m.IsRollbackLoop(asset.ID) {
		m.logger.Warn().Str("asset", asset.Name).Msg("rollback loop detected, refusing to roll back")
		return Result{
			Outcome: OutcomeBlocked,
			Reason:  fmt.Sprintf("rollback loop detected for %s: %d or more rollbacks within %s", asset.Name, loopThreshold, loopWindow),
		}
	}
	if m.attempts(asset.ID) >= m.policy.MaxRollbackAttempts {
		m.logger.Warn().Str("asset", asset.Name).Int("max_attempts", m.policy.MaxRollbackAttempts).Msg("rollback attempt limit reached")
		return Result{
			Outcome: OutcomeBlocked,
			Reason:  fmt.Sprintf("rollback attempt limit reached for %s (%d)", asset.Name, m.policy.MaxRollbackAttempts),
		}
	}

	start := m.now()
	backendResult := m.backend.Rollback(ctx, backend.RollbackRequest{
		Release:   asset.Name,
		Namespace: asset.Namespace,
	})
	duration := m.now().Sub(start)

	event := audit.Event{
		Timestamp:       m.now().UTC(),
		AssetID:         asset.ID,
		AssetName:       asset.Name,
		Namespace:       asset.Namespace,
		Reason:          reason,
		FromVersion:     asset.CurrentVersion,
		ToVersion:       asset.PreviousVersion,
		Success:         backendResult.Success,
		DurationSeconds: duration.Seconds(),
		HealthBefore:    healthBefore,
	}
	m.log.Append(ctx, event)

	outcome := OutcomeExecuted
	if !backendResult.Success {
		outcome = OutcomeFailed
		m.logger.Error().Str("asset", asset.Name).Str("message", backendResult.Message).Msg("rollback failed")
	} else {
		m.logger.Info().Str("asset", asset.Name).Str("reason", reason).Msg("rollback executed")
	}
	return Result{
		Outcome:  outcome,
		Reason:   reason,
		Backend:  backendResult,
		Duration: duration,
	}
}

// MonitorAndRollback watches a freshly updated asset for the policy's
// monitoring duration, probing health every poll interval. The first
// failing observation triggers an immediate rollback and returns
// (false, result); surviving the full window returns (true, nil).
// Context cancellation stops monitoring without rolling back.
func (m *Manager) MonitorAndRollback(ctx context.Context, asset inventory.Asset, checker probe.Checker) (bool, *Result) {
	deadline := m.now().Add(m.policy.MonitoringDuration)
	m.logger.Info().
		Str("asset", asset.Name).
		Dur("duration", m.policy.MonitoringDuration).
		Msg("monitoring update")

	for m.now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			m.logger.Warn().Str("asset", asset.Name).Msg("monitoring canceled")
			return false, nil
		}

		health := checker.Check(ctx, asset)
		if m.ShouldRollback(health) {
			reason := fmt.Sprintf("health check failed during monitoring: %s (%.1f%% healthy)", health.Status, health.HealthPercentage)
			result := m.Rollback(ctx, asset, reason, &health)
			return false, &result
		}

		if err := m.sleep(ctx, m.policy.PollInterval); err != nil {
			m.logger.Warn().Str("asset", asset.Name).Msg("monitoring canceled")
			return false, nil
		}
	}

	m.logger.Info().Str("asset", asset.Name).Msg("monitoring window passed, update confirmed")
	return true, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// History returns the most recent rollback events for an asset, newest
// first. An empty assetID matches every asset.
func (m *Manager) History(assetID string, limit int) []audit.Event {
	return m.log.History(assetID, limit)
}

// Statistics summarizes the recorded rollback activity.
type Statistics struct {
	Total       int            `json:"total"`
	Successful  int            `json:"successful"`
	Failed      int            `json:"failed"`
	SuccessRate float64        `json:"success_rate"`
	Recent24h   int            `json:"recent_24h"`
	ByAsset     map[string]int `json:"by_asset"`
}

// Stats computes aggregate rollback statistics from the audit log.
func (m *Manager) Stats() Statistics {
	events := m.log.Snapshot()
	stats := Statistics{ByAsset: map[string]int{}}
	cutoff := m.now().Add(-24 * time.Hour)

	for _, e := range events {
		stats.Total++
		if e.Success {
			stats.Successful++
		} else {
			stats.Failed++
		}
		if e.Timestamp.After(cutoff) {
			stats.Recent24h++
		}
		stats.ByAsset[e.AssetName]++
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}
