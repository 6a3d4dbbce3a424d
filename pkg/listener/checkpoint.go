package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CheckpointStore persists the last fully processed block height so a
// restart resumes where the previous run left off instead of skipping
// to the chain head.
type CheckpointStore interface {
	ReadCheckpoint(ctx context.Context) (uint64, error)
	WriteCheckpoint(ctx context.Context, block uint64) error
}

type checkpointFile struct {
	Block     uint64    `json:"block"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FileCheckpointStore stores the checkpoint as a small JSON file,
// written atomically via rename.
type FileCheckpointStore struct {
	path string
	mu   sync.Mutex
}

// NewFileCheckpointStore creates a store backed by the given path. The
// parent directory must exist.
func NewFileCheckpointStore(path string) *FileCheckpointStore {
	return &FileCheckpointStore{path: path}
}

// ReadCheckpoint returns the persisted block, or 0 if no checkpoint has
// been written yet.
func (s *FileCheckpointStore) ReadCheckpoint(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var cp checkpointFile
	if err := json.Unmarshal(data, &cp); err != nil {
		return 0, fmt.Errorf("failed to decode checkpoint file: %w", err)
	}
	return cp.Block, nil
}

// WriteCheckpoint persists the block height.
func (s *FileCheckpointStore) WriteCheckpoint(_ context.Context, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(checkpointFile{Block: block, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}

// DefaultCheckpointPath returns the checkpoint location under the given
// data directory.
func DefaultCheckpointPath(dataDir string) string {
	return filepath.Join(dataDir, "checkpoint.json")
}
