package updater

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatewatch/update-sentinel/internal/healthcheck"
	"github.com/updatewatch/update-sentinel/internal/inventory"
	"github.com/updatewatch/update-sentinel/internal/manifest"
	"github.com/updatewatch/update-sentinel/internal/metrics"
)

// Ticker is the minimal interface needed for driving the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Runner polls one manifest source and pushes version drift through the
// pipeline.
type Runner struct {
	logger        zerolog.Logger
	pollInterval  time.Duration
	tickerFactory func(time.Duration) Ticker
	runOnce       func(context.Context) error
	fetcher       manifest.Fetcher
	pipeline      *Pipeline
	store         inventory.Store
	metrics       *metrics.Metrics
	tracker       *healthcheck.Tracker
	sourceName    string
	manifestETag  string
	manifestHash  string
	lastManifest  *manifest.Manifest
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Runner) {
		r.tickerFactory = factory
	}
}

// WithRunOnce overrides the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithFetcher sets the manifest fetcher used by the default RunOnce.
func WithFetcher(fetcher manifest.Fetcher) Option {
	return func(r *Runner) {
		r.fetcher = fetcher
	}
}

// WithPipeline sets the pipeline that applies updates.
func WithPipeline(pipeline *Pipeline) Option {
	return func(r *Runner) {
		r.pipeline = pipeline
	}
}

// WithStore sets the inventory store drift is reconciled against.
func WithStore(store inventory.Store) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithMetrics enables cycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracker feeds cycle timing to the health endpoints.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(r *Runner) {
		r.tracker = tracker
	}
}

// WithSourceName names the manifest source in logs and alerts.
func WithSourceName(name string) Option {
	return func(r *Runner) {
		r.sourceName = name
	}
}

// New constructs a Runner with the given logger and poll interval.
func New(logger zerolog.Logger, pollInterval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		logger:       logger,
		pollInterval: pollInterval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
	}
	r.runOnce = r.defaultRunOnce

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts the main loop and blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if r.pollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	if r.sourceName != "" {
		r.logger = r.logger.With().Str("source", r.sourceName).Logger()
	}

	// Run immediately on startup
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error().Err(err).Msg("initial run cycle failed")
	}

	ticker := r.tickerFactory(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("runner stopped")
			return nil
		case <-ticker.C():
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("run cycle failed")
			}
		}
	}
}

// RunOnce executes a single cycle of the runner.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.runOnce(ctx)
}

func (r *Runner) defaultRunOnce(ctx context.Context) error {
	start := time.Now()

	if r.fetcher != nil {
		result, err := r.fetcher.Fetch(ctx, r.manifestETag)
		if err != nil {
			return err
		}

		if result.ETag != "" {
			r.manifestETag = result.ETag
		}

		if result.NotModified {
			r.logger.Debug().Msg("manifest unchanged")
		} else {
			fingerprint, err := manifest.Fingerprint(result.Body)
			if err != nil {
				return err
			}
			if fingerprint == r.manifestHash {
				r.logger.Debug().Msg("manifest fingerprint unchanged")
			} else {
				parsed, err := manifest.Parse(ctx, result.Body)
				if err != nil {
					return err
				}
				r.manifestHash = fingerprint
				r.lastManifest = &parsed

				r.logger.Info().
					Int("bytes", len(result.Body)).
					Str("etag", result.ETag).
					Str("fingerprint", fingerprint).
					Int("targets", len(parsed.Targets)).
					Msg("manifest fetched")
			}
		}
	}

	if r.lastManifest == nil || r.store == nil {
		return nil
	}

	if err := r.reconcile(ctx); err != nil {
		return err
	}

	r.metrics.ObserveCycleDuration(time.Since(start))
	r.metrics.SetLastSuccessfulCycleTimestamp(time.Now())
	r.tracker.RecordCycle(time.Since(start), len(r.lastManifest.Targets))
	return nil
}

// reconcile registers unseen targets in the inventory and applies version
// drift through the pipeline, one asset at a time.
func (r *Runner) reconcile(ctx context.Context) error {
	assets, err := r.store.List(ctx, inventory.Filter{})
	if err != nil {
		return err
	}

	byName := make(map[string]inventory.Asset, len(assets))
	for _, asset := range assets {
		byName[assetKey(asset.Name, asset.Namespace)] = asset
	}

	statusCounts := make(map[inventory.Status]int)

	for name, target := range r.lastManifest.Targets {
		asset, known := byName[assetKey(name, target.Namespace)]
		if !known {
			asset = target.Asset()
			if err := r.store.Put(ctx, asset); err != nil {
				return err
			}
			// Re-read so the store-assigned ID is visible.
			registered, err := r.store.List(ctx, inventory.Filter{Namespace: target.Namespace})
			if err != nil {
				return err
			}
			for _, candidate := range registered {
				if candidate.Name == name {
					asset = candidate
					break
				}
			}
			r.logger.Info().Str("asset", name).Str("version", target.Version).Msg("tracking new asset")
		}

		statusCounts[asset.Status]++

		if asset.CurrentVersion == target.Version {
			continue
		}
		if asset.Status == inventory.StatusUpdating {
			r.logger.Debug().Str("asset", name).Msg("update already in progress")
			continue
		}
		if r.pipeline == nil {
			continue
		}

		result, err := r.pipeline.Apply(ctx, asset, target)
		if err != nil {
			if errors.Is(err, ErrUpdateInFlight) {
				r.logger.Debug().Str("asset", name).Msg("update already in flight")
				continue
			}
			return err
		}
		r.logger.Info().
			Str("asset", name).
			Str("outcome", string(result.Outcome)).
			Str("message", result.Message).
			Msg("update cycle result")
	}

	for status, count := range statusCounts {
		r.metrics.SetAssetsTotal(string(status), count)
	}
	return nil
}

func assetKey(name, namespace string) string {
	if namespace == "" {
		return name
	}
	return namespace + "/" + name
}
