package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/updatewatch/update-sentinel/internal/probe"
)

// memoryLimit caps the in-memory working set. The persisted log holds the
// same trimmed window; entries are never edited, only appended and aged
// out of the window.
const memoryLimit = 1000

// Event is one rollback attempt, successful or not. Events are immutable
// after creation.
type Event struct {
	Timestamp       time.Time     `json:"timestamp"`
	AssetID         string        `json:"asset_id"`
	AssetName       string        `json:"asset_name"`
	Namespace       string        `json:"namespace"`
	Reason          string        `json:"reason"`
	FromVersion     string        `json:"from_version"`
	ToVersion       string        `json:"to_version"`
	Success         bool          `json:"success"`
	DurationSeconds float64       `json:"duration_seconds"`
	HealthBefore    *probe.Result `json:"health_before,omitempty"`
	HealthAfter     *probe.Result `json:"health_after,omitempty"`
}

// Store persists the event window.
type Store interface {
	Load(ctx context.Context) ([]Event, error)
	Save(ctx context.Context, events []Event) error
}

// Log is the shared audit trail. Appends are serialized; a persistence
// failure downgrades the log to in-memory-only rather than failing the
// rollback path.
type Log struct {
	logger zerolog.Logger
	store  Store

	mu       sync.RWMutex
	events   []Event
	degraded bool
}

// NewLog loads prior history from the store. Load failures start an empty
// in-memory log with a warning.
func NewLog(ctx context.Context, store Store, logger zerolog.Logger) *Log {
	l := &Log{logger: logger, store: store}

	if store != nil {
		events, err := store.Load(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("audit history unreadable, starting empty")
		} else {
			l.events = events
		}
	}
	return l
}

// Append records an event, trims the window, and persists. It never
// returns an error: audit I/O trouble must not break a rollback.
func (l *Log) Append(ctx context.Context, event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, event)
	if len(l.events) > memoryLimit {
		l.events = l.events[len(l.events)-memoryLimit:]
	}

	if l.store == nil || l.degraded {
		return
	}
	if err := l.store.Save(ctx, l.events); err != nil {
		l.degraded = true
		l.logger.Error().Err(err).Msg("audit persistence failed, continuing in-memory only")
	}
}

// Degraded reports whether persistence has been abandoned for this process.
func (l *Log) Degraded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.degraded
}

// Count returns the number of events for an asset since the cutoff.
func (l *Log) Count(assetID string, since time.Time) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, event := range l.events {
		if event.AssetID == assetID && event.Timestamp.After(since) {
			count++
		}
	}
	return count
}

// History returns up to limit events, most recent first, optionally
// filtered by asset id (empty matches all).
func (l *Log) History(assetID string, limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matched := make([]Event, 0, limit)
	for i := len(l.events) - 1; i >= 0 && len(matched) < limit; i-- {
		if assetID == "" || l.events[i].AssetID == assetID {
			matched = append(matched, l.events[i])
		}
	}
	return matched
}

// Snapshot returns a copy of the full in-memory window, oldest first.
func (l *Log) Snapshot() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Event(nil), l.events...)
}
