package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"quotesync/models"
)

const snapshotFileName = "instruments.json"

// SnapshotStore persists instrument snapshots as a single JSON document.
// The file is overwritten wholesale on every refresh; there is no
// incremental format.
type SnapshotStore struct {
	path string
}

func NewSnapshotStore(cacheDir string) *SnapshotStore {
	return &SnapshotStore{path: filepath.Join(cacheDir, snapshotFileName)}
}

func (s *SnapshotStore) Path() string {
	return s.path
}

// Load reads the durable snapshot from disk.
func (s *SnapshotStore) Load() (*models.CacheSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snap models.CacheSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file: %w", err)
	}
	if snap.Count != len(snap.Instruments) {
		snap.Count = len(snap.Instruments)
	}
	return &snap, nil
}

// Save writes the snapshot atomically via a temp file rename so a
// crashed writer never leaves a truncated snapshot behind.
func (s *SnapshotStore) Save(snap *models.CacheSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}
