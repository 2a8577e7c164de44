package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// FileStore persists the audit window as JSON on disk.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

type fileFormat struct {
	Events    []Event   `json:"events"`
	LastSaved time.Time `json:"last_saved"`
}

// NewFileStore returns a JSON-backed audit store.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Load reads events from disk. A missing file yields an empty history; a
// corrupt one yields an empty history with a warning.
func (s *FileStore) Load(ctx context.Context) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var parsed fileFormat
	if err := json.Unmarshal(data, &parsed); err != nil {
		s.logger.Warn().Str("path", s.path).Err(err).Msg("audit file corrupt, starting fresh")
		return nil, nil
	}
	return parsed.Events, nil
}

// Save writes the event window atomically (write-temp-then-rename) so a
// crash mid-write never leaves a torn file behind.
func (s *FileStore) Save(ctx context.Context, events []Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".audit-*.json")
	if err != nil {
		return err
	}

	cleanup := func() {
		_ = os.Remove(tempFile.Name())
	}

	encoder := json.NewEncoder(tempFile)
	if err := encoder.Encode(fileFormat{Events: events, LastSaved: time.Now().UTC()}); err != nil {
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
