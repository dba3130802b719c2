package trial

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"keygate/pkg/contracts/domain"
)

// Storage persists the single per-device trial record. Load reports a
// missing record as (nil, nil); Clear on a missing record is a no-op.
// Implementations are not required to be safe for concurrent use; the
// Tracker serializes access.
type Storage interface {
	Load() (*domain.TrialRecord, error)
	Save(rec *domain.TrialRecord) error
	Clear() error
}

// FileStorage keeps the trial record in a JSON file under the user data
// directory, created with owner-only permissions.
type FileStorage struct {
	path   string
	logger *slog.Logger
}

// NewFileStorage creates file-backed trial storage at the given path.
func NewFileStorage(path string, logger *slog.Logger) *FileStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStorage{
		path:   path,
		logger: logger.With(slog.String("component", "trial-storage")),
	}
}

// Load reads the stored record. An unreadable or corrupt file is
// treated as absent: the trial is an offline convenience, not a
// credential, so a wedged device beats a strict parse here.
func (s *FileStorage) Load() (*domain.TrialRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trial record: %w", err)
	}

	var rec domain.TrialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("trial record unreadable, treating as absent",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return &rec, nil
}

// Save writes the record atomically enough for a single-writer client:
// marshal, then rewrite the whole file with 0600 permissions.
func (s *FileStorage) Save(rec *domain.TrialRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trial record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create trial directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write trial record: %w", err)
	}

	s.logger.Debug("trial record saved",
		slog.String("path", s.path),
		slog.Int("size_bytes", len(data)),
	)
	return nil
}

// Clear removes the stored record. Missing files are fine.
func (s *FileStorage) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove trial record: %w", err)
	}
	return nil
}
