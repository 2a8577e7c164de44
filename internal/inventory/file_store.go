package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when an asset id is absent from the store.
var ErrNotFound = errors.New("asset not found")

// FileStore is a JSON-file-backed inventory store. All mutations go
// through an in-memory map guarded by a mutex, then persist via an
// atomic write-temp-then-rename.
type FileStore struct {
	path   string
	logger zerolog.Logger

	mu     sync.RWMutex
	assets map[string]Asset
}

type fileState struct {
	Assets map[string]Asset `json:"assets"`
}

// NewFileStore loads the inventory at path, starting empty when the file
// is missing or corrupt.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	s := &FileStore{
		path:   path,
		logger: logger,
		assets: map[string]Asset{},
	}
	s.load()
	return s
}

func (s *FileStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Str("path", s.path).Err(err).Msg("inventory file unreadable, starting fresh")
		}
		return
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn().Str("path", s.path).Err(err).Msg("inventory file corrupt, starting fresh")
		return
	}
	if state.Assets != nil {
		s.assets = state.Assets
	}
}

// Get returns the asset with the given id.
func (s *FileStore) Get(ctx context.Context, id string) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[id]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return asset, nil
}

// List returns assets matching the filter, sorted by id.
func (s *FileStore) List(ctx context.Context, filter Filter) ([]Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Asset, 0, len(s.assets))
	for _, asset := range s.assets {
		if filter.Matches(asset) {
			matched = append(matched, asset)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

// Put inserts or replaces an asset. A missing id is assigned one.
func (s *FileStore) Put(ctx context.Context, asset Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if asset.Status == "" {
		asset.Status = StatusUnknown
	}
	asset.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.assets[asset.ID] = asset
	return s.persistLocked()
}

// UpdateStatus sets the lifecycle status for an asset.
func (s *FileStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	return s.mutate(ctx, id, func(asset *Asset) {
		asset.Status = status
	})
}

// UpdateVersion records a confirmed version change.
func (s *FileStore) UpdateVersion(ctx context.Context, id string, newVersion string) error {
	return s.mutate(ctx, id, func(asset *Asset) {
		asset.PreviousVersion = asset.CurrentVersion
		asset.CurrentVersion = newVersion
	})
}

func (s *FileStore) mutate(ctx context.Context, id string, apply func(*Asset)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	apply(&asset)
	asset.UpdatedAt = time.Now().UTC()
	s.assets[id] = asset
	return s.persistLocked()
}

func (s *FileStore) persistLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".inventory-*.json")
	if err != nil {
		return err
	}

	cleanup := func() {
		_ = os.Remove(tempFile.Name())
	}

	encoder := json.NewEncoder(tempFile)
	if err := encoder.Encode(fileState{Assets: s.assets}); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Close(); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tempFile.Name(), s.path); err != nil {
		cleanup()
		return err
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}

	return nil
}
