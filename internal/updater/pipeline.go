package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatewatch/update-sentinel/internal/backend"
	"github.com/updatewatch/update-sentinel/internal/gate"
	"github.com/updatewatch/update-sentinel/internal/inventory"
	"github.com/updatewatch/update-sentinel/internal/manifest"
	"github.com/updatewatch/update-sentinel/internal/metrics"
	"github.com/updatewatch/update-sentinel/internal/notify"
	"github.com/updatewatch/update-sentinel/internal/probe"
	"github.com/updatewatch/update-sentinel/internal/rollback"
)

// ErrUpdateInFlight is returned when an asset already has an update in
// progress. Updates to the same asset are strictly serialized.
var ErrUpdateInFlight = errors.New("update already in flight for asset")

// chartLabel overrides the chart reference for helm targets. Without it
// the image name doubles as the chart reference.
const chartLabel = "update-sentinel.chart"

// Outcome is the terminal state of one pipeline run.
type Outcome string

const (
	OutcomeSkipped         Outcome = "skipped"
	OutcomeDryRun          Outcome = "dry_run"
	OutcomeConfirmed       Outcome = "confirmed"
	OutcomeFailed          Outcome = "failed"
	OutcomeRolledBack      Outcome = "rolled_back"
	OutcomeRollbackBlocked Outcome = "rollback_blocked"
	OutcomeRollbackFailed  Outcome = "rollback_failed"
	OutcomeCanceled        Outcome = "canceled"
)

// Result reports what the pipeline did for one asset.
type Result struct {
	Asset      inventory.Asset
	Evaluation gate.Evaluation
	Outcome    Outcome
	Message    string
}

// Pipeline drives a single asset through evaluate, apply, monitor, and
// (when monitoring fails) rollback.
type Pipeline struct {
	gate     *gate.Gate
	store    inventory.Store
	backend  backend.ExecutionBackend
	checker  probe.Checker
	rollback *rollback.Manager
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	source   string
	dryRun   bool

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// PipelineConfig wires a Pipeline's collaborators. Notifier and Metrics
// may be nil.
type PipelineConfig struct {
	Gate     *gate.Gate
	Store    inventory.Store
	Backend  backend.ExecutionBackend
	Checker  probe.Checker
	Rollback *rollback.Manager
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Source   string
	DryRun   bool
}

// NewPipeline constructs an update pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NewNoop(cfg.Logger, "")
	}
	return &Pipeline{
		gate:     cfg.Gate,
		store:    cfg.Store,
		backend:  cfg.Backend,
		checker:  cfg.Checker,
		rollback: cfg.Rollback,
		notifier: notifier,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With().Str("component", "pipeline").Logger(),
		source:   cfg.Source,
		dryRun:   cfg.DryRun,
		inFlight: make(map[string]struct{}),
	}
}

// Apply moves one asset to the target version. The asset is locked for
// the duration of the run; a second Apply for the same asset returns
// ErrUpdateInFlight immediately.
func (p *Pipeline) Apply(ctx context.Context, asset inventory.Asset, target manifest.Target) (Result, error) {
	if !p.acquire(asset.ID) {
		return Result{Asset: asset, Outcome: OutcomeSkipped}, ErrUpdateInFlight
	}
	defer p.release(asset.ID)

	eval := p.gate.Evaluate(asset.CurrentVersion, target.Version)
	p.metrics.IncEvaluations(string(eval.Decision))

	logger := p.logger.With().
		Str("asset", asset.Name).
		Str("from", asset.CurrentVersion).
		Str("to", target.Version).
		Logger()

	if eval.Decision != gate.Approve {
		logger.Info().
			Str("decision", string(eval.Decision)).
			Str("reason", eval.Reason).
			Msg("update held by gate")
		p.notify(ctx, asset, notify.PhaseEvaluated, eval.Reason, string(eval.Decision), target.Version)
		return Result{Asset: asset, Evaluation: eval, Outcome: OutcomeSkipped, Message: eval.Reason}, nil
	}

	if p.dryRun {
		result := p.backend.Upgrade(ctx, p.upgradeRequest(asset, target, true))
		logger.Info().Str("message", result.Message).Msg("dry run")
		return Result{Asset: asset, Evaluation: eval, Outcome: OutcomeDryRun, Message: result.Message}, nil
	}

	if err := p.store.UpdateStatus(ctx, asset.ID, inventory.StatusUpdating); err != nil {
		return Result{Asset: asset, Evaluation: eval, Outcome: OutcomeFailed}, fmt.Errorf("mark updating: %w", err)
	}

	upgraded := p.backend.Upgrade(ctx, p.upgradeRequest(asset, target, false))
	if !upgraded.Success {
		p.metrics.IncUpdates(string(OutcomeFailed))
		p.markStatus(ctx, asset.ID, inventory.StatusFailed)
		p.notify(ctx, asset, notify.PhaseUpdateFailed, upgraded.Message, "", target.Version)
		logger.Error().Str("message", upgraded.Message).Msg("upgrade failed")
		return Result{Asset: asset, Evaluation: eval, Outcome: OutcomeFailed, Message: upgraded.Message}, nil
	}

	logger.Info().Msg("upgrade applied, monitoring")
	p.notify(ctx, asset, notify.PhaseUpdateApplied, eval.Reason, string(eval.Decision), target.Version)

	// Monitor against the post-update desired state so a rollback reverts
	// to what was running before this apply.
	monitored := asset
	monitored.PreviousVersion = asset.CurrentVersion
	monitored.CurrentVersion = target.Version

	start := time.Now()
	confirmed, rolledBack := p.rollback.MonitorAndRollback(ctx, monitored, p.checker)
	p.metrics.ObserveMonitorDuration(time.Since(start))

	switch {
	case confirmed:
		if err := p.store.UpdateVersion(ctx, asset.ID, target.Version); err != nil {
			return Result{Asset: asset, Evaluation: eval, Outcome: OutcomeFailed}, fmt.Errorf("record confirmed version: %w", err)
		}
		p.markStatus(ctx, asset.ID, inventory.StatusActive)
		p.metrics.IncUpdates(string(OutcomeConfirmed))
		p.notify(ctx, asset, notify.PhaseUpdateConfirmed, "monitoring window passed", "", target.Version)
		logger.Info().Msg("update confirmed")
		return Result{Asset: asset, Evaluation: eval, Outcome: OutcomeConfirmed}, nil

	case rolledBack == nil:
		// Monitoring stopped without a verdict: shutdown mid-update.
		logger.Warn().Msg("monitoring interrupted")
		return Result{Asset: asset, Evaluation: eval, Outcome: OutcomeCanceled}, ctx.Err()

	case rolledBack.Blocked():
		p.metrics.IncRollbacks(string(rollback.OutcomeBlocked))
		p.metrics.IncUpdates(string(OutcomeRollbackBlocked))
		p.markStatus(ctx, asset.ID, inventory.StatusFailed)
		p.notify(ctx, asset, notify.PhaseRollbackBlocked, rolledBack.Reason, "", target.Version)
		logger.Error().Str("reason", rolledBack.Reason).Msg("rollback blocked, manual intervention required")
		return Result{Asset: asset, Evaluation: eval, Outcome: OutcomeRollbackBlocked, Message: rolledBack.Reason}, nil

	case rolledBack.Outcome == rollback.OutcomeExecuted:
		p.metrics.IncRollbacks(string(rollback.OutcomeExecuted))
		p.metrics.IncUpdates(string(OutcomeRolledBack))
		p.markStatus(ctx, asset.ID, inventory.StatusRolledBack)
		p.notify(ctx, asset, notify.PhaseRolledBack, rolledBack.Reason, "", target.Version)
		logger.Warn().Str("reason", rolledBack.Reason).Msg("update rolled back")
		return Result{Asset: asset, Evaluation: eval, Outcome: OutcomeRolledBack, Message: rolledBack.Reason}, nil

	default:
		p.metrics.IncRollbacks(string(rollback.OutcomeFailed))
		p.metrics.IncUpdates(string(OutcomeRollbackFailed))
		p.markStatus(ctx, asset.ID, inventory.StatusFailed)
		p.notify(ctx, asset, notify.PhaseUpdateFailed, rolledBack.Backend.Message, "", target.Version)
		logger.Error().Str("message", rolledBack.Backend.Message).Msg("rollback failed")
		return Result{Asset: asset, Evaluation: eval, Outcome: OutcomeRollbackFailed, Message: rolledBack.Backend.Message}, nil
	}
}

func (p *Pipeline) upgradeRequest(asset inventory.Asset, target manifest.Target, dryRun bool) backend.UpgradeRequest {
	chartRef := target.Labels[chartLabel]
	if chartRef == "" {
		chartRef = target.Image
	}
	return backend.UpgradeRequest{
		Release:   asset.Name,
		ChartRef:  chartRef,
		Version:   target.Version,
		Namespace: asset.Namespace,
		Options:   backend.Options{DryRun: dryRun, Wait: true},
	}
}

func (p *Pipeline) acquire(assetID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.inFlight[assetID]; taken {
		return false
	}
	p.inFlight[assetID] = struct{}{}
	return true
}

func (p *Pipeline) release(assetID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, assetID)
}

func (p *Pipeline) markStatus(ctx context.Context, assetID string, status inventory.Status) {
	if err := p.store.UpdateStatus(ctx, assetID, status); err != nil {
		p.logger.Error().Err(err).Str("asset_id", assetID).Str("status", string(status)).Msg("inventory update failed")
	}
}

func (p *Pipeline) notify(ctx context.Context, asset inventory.Asset, phase notify.Phase, reason, decision, toVersion string) {
	event := notify.Event{
		Asset:       asset.Name,
		Namespace:   asset.Namespace,
		Phase:       phase,
		Decision:    decision,
		FromVersion: asset.CurrentVersion,
		ToVersion:   toVersion,
		Reason:      reason,
	}
	if err := p.notifier.Notify(ctx, p.source, []notify.Event{event}); err != nil {
		p.logger.Warn().Err(err).Str("phase", string(phase)).Msg("notification failed")
	}
}
