package updater

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatewatch/update-sentinel/internal/audit"
	"github.com/updatewatch/update-sentinel/internal/backend"
	"github.com/updatewatch/update-sentinel/internal/gate"
	"github.com/updatewatch/update-sentinel/internal/inventory"
	"github.com/updatewatch/update-sentinel/internal/manifest"
	"github.com/updatewatch/update-sentinel/internal/notify"
	"github.com/updatewatch/update-sentinel/internal/probe"
	"github.com/updatewatch/update-sentinel/internal/rollback"
)

type memoryStore struct {
	mu     sync.Mutex
	assets map[string]inventory.Asset
	nextID int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{assets: make(map[string]inventory.Asset)}
}

func (s *memoryStore) Get(_ context.Context, id string) (inventory.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[id]
	if !ok {
		return inventory.Asset{}, inventory.ErrNotFound
	}
	return asset, nil
}

func (s *memoryStore) List(_ context.Context, filter inventory.Filter) ([]inventory.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Asset
	for _, asset := range s.assets {
		if filter.Matches(asset) {
			out = append(out, asset)
		}
	}
	return out, nil
}

func (s *memoryStore) Put(_ context.Context, asset inventory.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if asset.ID == "" {
		s.nextID++
		asset.ID = fmt.Sprintf("asset-%d", s.nextID)
	}
	if asset.Status == "" {
		asset.Status = inventory.StatusUnknown
	}
	s.assets[asset.ID] = asset
	return nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, id string, status inventory.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[id]
	if !ok {
		return inventory.ErrNotFound
	}
	asset.Status = status
	s.assets[id] = asset
	return nil
}

func (s *memoryStore) UpdateVersion(_ context.Context, id string, newVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[id]
	if !ok {
		return inventory.ErrNotFound
	}
	asset.PreviousVersion = asset.CurrentVersion
	asset.CurrentVersion = newVersion
	s.assets[id] = asset
	return nil
}

func (s *memoryStore) get(t *testing.T, id string) inventory.Asset {
	t.Helper()
	asset, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return asset
}

type recordedBackend struct {
	mu          sync.Mutex
	upgrades    []backend.UpgradeRequest
	rollbacks   []backend.RollbackRequest
	failUpgrade bool
}

func (b *recordedBackend) Upgrade(_ context.Context, req backend.UpgradeRequest) backend.UpdateResult {
	b.mu.Lock()
	b.upgrades = append(b.upgrades, req)
	b.mu.Unlock()
	if b.failUpgrade {
		return backend.UpdateResult{
			Success: false,
			Status:  backend.StatusFailed,
			Message: "upgrade failed: image pull backoff",
		}
	}
	if req.Options.DryRun {
		return backend.UpdateResult{Success: true, Status: backend.StatusPending, Message: "dry run: would upgrade"}
	}
	return backend.UpdateResult{Success: true, Status: backend.StatusSuccess}
}

func (b *recordedBackend) Rollback(_ context.Context, req backend.RollbackRequest) backend.UpdateResult {
	b.mu.Lock()
	b.rollbacks = append(b.rollbacks, req)
	b.mu.Unlock()
	return backend.UpdateResult{Success: true, Status: backend.StatusRolledBack}
}

func (b *recordedBackend) History(_ context.Context, _, _ string, _ int) ([]backend.Revision, error) {
	return nil, nil
}

func (b *recordedBackend) upgradeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.upgrades)
}

func (b *recordedBackend) rollbackCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rollbacks)
}

type staticChecker struct {
	result probe.Result
}

func (s staticChecker) Check(_ context.Context, _ inventory.Asset) probe.Result {
	return s.result
}

type recordedNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordedNotifier) Notify(_ context.Context, _ string, events []notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
	return nil
}

func (n *recordedNotifier) phases() []notify.Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Phase, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Phase)
	}
	return out
}

// instantClock drives the rollback monitor's clock and sleeps so the
// monitoring window elapses without real waiting.
type instantClock struct {
	mu sync.Mutex
	t  time.Time
}

func newInstantClock() *instantClock {
	return &instantClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *instantClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *instantClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	store    *memoryStore
	backend  *recordedBackend
	notifier *recordedNotifier
	auditLog *audit.Log
	clock    *instantClock
}

func newPipelineFixture(t *testing.T, health probe.Result, dryRun bool) *pipelineFixture {
	t.Helper()

	store := newMemoryStore()
	exec := &recordedBackend{}
	notifier := &recordedNotifier{}
	clock := newInstantClock()
	auditLog := audit.NewLog(context.Background(), nil, zerolog.Nop())

	manager := rollback.NewManager(rollback.DefaultPolicy(), exec, auditLog, zerolog.Nop(),
		rollback.WithClock(clock.now),
		rollback.WithSleep(clock.sleep),
	)

	pipeline := NewPipeline(PipelineConfig{
		Gate:     gate.New(gate.DefaultPolicy()),
		Store:    store,
		Backend:  exec,
		Checker:  staticChecker{result: health},
		Rollback: manager,
		Notifier: notifier,
		Logger:   zerolog.Nop(),
		Source:   "test",
		DryRun:   dryRun,
	})

	return &pipelineFixture{
		pipeline: pipeline,
		store:    store,
		backend:  exec,
		notifier: notifier,
		auditLog: auditLog,
		clock:    clock,
	}
}

func healthy() probe.Result {
	return probe.Result{
		Status:           probe.StatusHealthy,
		TotalReplicas:    4,
		ReadyReplicas:    4,
		HealthPercentage: 100,
	}
}

func unhealthy() probe.Result {
	return probe.Result{
		Status:           probe.StatusUnhealthy,
		TotalReplicas:    4,
		ReadyReplicas:    1,
		HealthPercentage: 25,
	}
}

func seedAsset(t *testing.T, store *memoryStore, version string, status inventory.Status) inventory.Asset {
	t.Helper()
	asset := inventory.Asset{
		ID:             "web-1",
		Name:           "web",
		Kind:           inventory.KindHelmRelease,
		Namespace:      "prod",
		CurrentVersion: version,
		Status:         status,
	}
	if err := store.Put(context.Background(), asset); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	return asset
}

func webTarget(version string) manifest.Target {
	return manifest.Target{
		Name:      "web",
		Image:     "registry.local/web:" + version,
		Version:   version,
		Kind:      inventory.KindHelmRelease,
		Namespace: "prod",
	}
}

func TestPipelineApplyHeldByGate(t *testing.T) {
	f := newPipelineFixture(t, healthy(), false)
	asset := seedAsset(t, f.store, "1.2.3", inventory.StatusActive)

	result, err := f.pipeline.Apply(context.Background(), asset, webTarget("1.3.0"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", result.Outcome)
	}
	if result.Evaluation.Decision != gate.ReviewRequired {
		t.Fatalf("expected review_required, got %s", result.Evaluation.Decision)
	}
	if f.backend.upgradeCount() != 0 {
		t.Fatalf("gate hold must not reach the backend")
	}
	phases := f.notifier.phases()
	if len(phases) != 1 || phases[0] != notify.PhaseEvaluated {
		t.Fatalf("expected a single evaluated notification, got %v", phases)
	}
	if got := f.store.get(t, asset.ID).Status; got != inventory.StatusActive {
		t.Fatalf("gate hold must not touch asset status, got %s", got)
	}
}

func TestPipelineApplyConfirmed(t *testing.T) {
	f := newPipelineFixture(t, healthy(), false)
	asset := seedAsset(t, f.store, "1.2.2", inventory.StatusActive)

	result, err := f.pipeline.Apply(context.Background(), asset, webTarget("1.2.3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeConfirmed {
		t.Fatalf("expected confirmed, got %s (%s)", result.Outcome, result.Message)
	}

	if f.backend.upgradeCount() != 1 {
		t.Fatalf("expected one upgrade, got %d", f.backend.upgradeCount())
	}
	req := f.backend.upgrades[0]
	if req.Release != "web" || req.Version != "1.2.3" || req.Namespace != "prod" {
		t.Fatalf("unexpected upgrade request: %+v", req)
	}
	if req.ChartRef != "registry.local/web:1.2.3" {
		t.Fatalf("expected image as chart ref, got %s", req.ChartRef)
	}
	if !req.Options.Wait || req.Options.DryRun {
		t.Fatalf("unexpected upgrade options: %+v", req.Options)
	}
	if f.backend.rollbackCount() != 0 {
		t.Fatalf("healthy monitoring must not roll back")
	}

	stored := f.store.get(t, asset.ID)
	if stored.CurrentVersion != "1.2.3" {
		t.Fatalf("expected confirmed version 1.2.3, got %s", stored.CurrentVersion)
	}
	if stored.PreviousVersion != "1.2.2" {
		t.Fatalf("expected previous version 1.2.2, got %s", stored.PreviousVersion)
	}
	if stored.Status != inventory.StatusActive {
		t.Fatalf("expected active status, got %s", stored.Status)
	}

	phases := f.notifier.phases()
	want := []notify.Phase{notify.PhaseUpdateApplied, notify.PhaseUpdateConfirmed}
	if len(phases) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("expected phases %v, got %v", want, phases)
		}
	}
}

func TestPipelineApplyUpgradeFailure(t *testing.T) {
	f := newPipelineFixture(t, healthy(), false)
	f.backend.failUpgrade = true
	asset := seedAsset(t, f.store, "1.2.2", inventory.StatusActive)

	result, err := f.pipeline.Apply(context.Background(), asset, webTarget("1.2.3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %s", result.Outcome)
	}
	if !strings.Contains(result.Message, "image pull backoff") {
		t.Fatalf("expected backend message, got %q", result.Message)
	}
	if f.backend.rollbackCount() != 0 {
		t.Fatalf("failed upgrade must not trigger a rollback")
	}
	if got := f.store.get(t, asset.ID).Status; got != inventory.StatusFailed {
		t.Fatalf("expected failed status, got %s", got)
	}
}

func TestPipelineApplyUnhealthyRollsBack(t *testing.T) {
	f := newPipelineFixture(t, unhealthy(), false)
	asset := seedAsset(t, f.store, "1.2.2", inventory.StatusActive)

	result, err := f.pipeline.Apply(context.Background(), asset, webTarget("1.2.3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeRolledBack {
		t.Fatalf("expected rolled_back, got %s (%s)", result.Outcome, result.Message)
	}
	if !strings.Contains(result.Message, "health check failed") {
		t.Fatalf("expected health failure reason, got %q", result.Message)
	}
	if f.backend.rollbackCount() != 1 {
		t.Fatalf("expected one rollback, got %d", f.backend.rollbackCount())
	}

	stored := f.store.get(t, asset.ID)
	if stored.Status != inventory.StatusRolledBack {
		t.Fatalf("expected rolled_back status, got %s", stored.Status)
	}
	if stored.CurrentVersion != "1.2.2" {
		t.Fatalf("rolled back asset must keep its prior version, got %s", stored.CurrentVersion)
	}

	events := f.auditLog.Snapshot()
	if len(events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(events))
	}
	if events[0].FromVersion != "1.2.3" || events[0].ToVersion != "1.2.2" {
		t.Fatalf("unexpected audit versions: %+v", events[0])
	}
}

func TestPipelineApplyRollbackBlockedByLoop(t *testing.T) {
	f := newPipelineFixture(t, unhealthy(), false)
	asset := seedAsset(t, f.store, "1.2.2", inventory.StatusActive)

	for i := 0; i < 3; i++ {
		f.auditLog.Append(context.Background(), audit.Event{
			Timestamp: f.clock.now().Add(-10 * time.Minute),
			AssetID:   asset.ID,
			AssetName: asset.Name,
		})
	}

	result, err := f.pipeline.Apply(context.Background(), asset, webTarget("1.2.3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeRollbackBlocked {
		t.Fatalf("expected rollback_blocked, got %s", result.Outcome)
	}
	if !strings.Contains(result.Message, "rollback loop") {
		t.Fatalf("expected loop reason, got %q", result.Message)
	}
	if f.backend.rollbackCount() != 0 {
		t.Fatalf("blocked rollback must not reach the backend")
	}
	if got := f.store.get(t, asset.ID).Status; got != inventory.StatusFailed {
		t.Fatalf("expected failed status, got %s", got)
	}
	if len(f.auditLog.Snapshot()) != 3 {
		t.Fatalf("blocked rollback must not record an audit event")
	}
}

func TestPipelineApplyDryRun(t *testing.T) {
	f := newPipelineFixture(t, healthy(), true)
	asset := seedAsset(t, f.store, "1.2.2", inventory.StatusActive)

	result, err := f.pipeline.Apply(context.Background(), asset, webTarget("1.2.3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeDryRun {
		t.Fatalf("expected dry_run, got %s", result.Outcome)
	}
	if f.backend.upgradeCount() != 1 {
		t.Fatalf("expected one dry-run upgrade, got %d", f.backend.upgradeCount())
	}
	if !f.backend.upgrades[0].Options.DryRun {
		t.Fatalf("expected DryRun option set")
	}

	stored := f.store.get(t, asset.ID)
	if stored.CurrentVersion != "1.2.2" || stored.Status != inventory.StatusActive {
		t.Fatalf("dry run must not modify the asset: %+v", stored)
	}
}

func TestPipelineApplyChartLabelOverride(t *testing.T) {
	f := newPipelineFixture(t, healthy(), false)
	asset := seedAsset(t, f.store, "1.2.2", inventory.StatusActive)

	target := webTarget("1.2.3")
	target.Labels = map[string]string{chartLabel: "charts/web"}

	if _, err := f.pipeline.Apply(context.Background(), asset, target); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.backend.upgrades[0].ChartRef; got != "charts/web" {
		t.Fatalf("expected chart label to win, got %s", got)
	}
}

func TestPipelineApplySerializesPerAsset(t *testing.T) {
	f := newPipelineFixture(t, healthy(), false)
	asset := seedAsset(t, f.store, "1.2.2", inventory.StatusActive)

	if !f.pipeline.acquire(asset.ID) {
		t.Fatalf("expected to acquire the asset lock")
	}
	defer f.pipeline.release(asset.ID)

	result, err := f.pipeline.Apply(context.Background(), asset, webTarget("1.2.3"))
	if !errors.Is(err, ErrUpdateInFlight) {
		t.Fatalf("expected ErrUpdateInFlight, got %v", err)
	}
	if result.Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", result.Outcome)
	}
	if f.backend.upgradeCount() != 0 {
		t.Fatalf("locked asset must not be upgraded")
	}
}
