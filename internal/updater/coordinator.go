package updater

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatewatch/update-sentinel/internal/config"
	"github.com/updatewatch/update-sentinel/internal/healthcheck"
	"github.com/updatewatch/update-sentinel/internal/manifest"
	"github.com/updatewatch/update-sentinel/internal/probe"
)

const defaultFetchTimeout = 30 * time.Second

// Coordinator manages multiple Runner instances, one per manifest source.
// It spawns runners in parallel and waits for context cancellation.
type Coordinator struct {
	logger       zerolog.Logger
	pollInterval time.Duration
	sources      []config.Source
	newPipeline  func(source config.Source, checker probe.Checker) *Pipeline
	newChecker   func(spec *probe.Spec) (probe.Checker, error)
	tracker      *healthcheck.Tracker
	runners      map[string]*Runner
	runnerErrors map[string]error
	mu           sync.RWMutex
}

// NewCoordinator constructs a Coordinator over the given manifest sources.
// newChecker builds the health checker for a source's probe spec (nil spec
// means the engine default); newPipeline builds the per-source pipeline
// around that checker.
func NewCoordinator(
	logger zerolog.Logger,
	pollInterval time.Duration,
	sources []config.Source,
	newChecker func(spec *probe.Spec) (probe.Checker, error),
	newPipeline func(source config.Source, checker probe.Checker) *Pipeline,
) *Coordinator {
	return &Coordinator{
		logger:       logger,
		pollInterval: pollInterval,
		sources:      sources,
		newChecker:   newChecker,
		newPipeline:  newPipeline,
		runners:      make(map[string]*Runner),
		runnerErrors: make(map[string]error),
	}
}

// Track wires the health tracker into every runner the coordinator spawns.
// Call before Run.
func (c *Coordinator) Track(tracker *healthcheck.Tracker) {
	c.tracker = tracker
}

// Run starts all runners in parallel and blocks until context is canceled.
// Returns nil on clean shutdown; logs any per-runner errors internally.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info().
		Int("sources", len(c.sources)).
		Msg("starting coordinator")

	var wg sync.WaitGroup
	for _, source := range c.sources {
		wg.Add(1)
		go c.spawnRunner(ctx, &wg, source)
	}

	wg.Wait()
	c.logger.Info().Msg("all runners stopped")

	c.mu.RLock()
	defer c.mu.RUnlock()
	for source, err := range c.runnerErrors {
		if err != nil {
			c.logger.Error().Err(err).Str("source", source).Msg("runner error")
		}
	}

	return nil
}

// spawnRunner creates and runs a single Runner for the given source.
func (c *Coordinator) spawnRunner(ctx context.Context, wg *sync.WaitGroup, source config.Source) {
	defer wg.Done()

	sourceLogger := c.logger.With().Str("source", source.Name).Logger()

	fetcher, err := c.buildFetcher(source)
	if err != nil {
		sourceLogger.Error().Err(err).Msg("failed to initialize manifest fetcher")
		c.recordError(source.Name, err)
		return
	}

	checker, err := c.newChecker(source.Probe)
	if err != nil {
		sourceLogger.Error().Err(err).Msg("failed to initialize health checker")
		c.recordError(source.Name, err)
		return
	}

	opts := []Option{
		WithFetcher(fetcher),
		WithSourceName(source.Name),
	}
	if c.tracker != nil {
		opts = append(opts, WithTracker(c.tracker))
	}
	if c.newPipeline != nil {
		pipeline := c.newPipeline(source, checker)
		if pipeline != nil {
			opts = append(opts, WithPipeline(pipeline), WithStore(pipeline.store), WithMetrics(pipeline.metrics))
		}
	}

	r := New(sourceLogger, c.pollInterval, opts...)

	c.mu.Lock()
	c.runners[source.Name] = r
	c.mu.Unlock()

	sourceLogger.Info().Msg("runner started")

	if err := r.Run(ctx); err != nil {
		sourceLogger.Error().Err(err).Msg("runner exited with error")
		c.recordError(source.Name, err)
	} else {
		sourceLogger.Info().Msg("runner exited cleanly")
	}
}

func (c *Coordinator) buildFetcher(source config.Source) (manifest.Fetcher, error) {
	timeout := source.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if source.ManifestPath != "" {
		return manifest.NewFileFetcher(source.ManifestPath, 0)
	}
	return manifest.NewHTTPFetcher(source.ManifestURL, timeout, 0)
}

// recordError records a per-source error for later reporting.
func (c *Coordinator) recordError(sourceName string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runnerErrors[sourceName] = err
}

// Runners returns a copy of the runners map for testing.
func (c *Coordinator) Runners() map[string]*Runner {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]*Runner, len(c.runners))
	for k, v := range c.runners {
		result[k] = v
	}
	return result
}
