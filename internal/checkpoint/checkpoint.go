// Package checkpoint persists the run controller's batch cursor so a
// long-running submission job can resume after a crash or signal.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no usable checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// FreshnessWindow bounds how old a checkpoint may be before it is ignored.
// Resuming from a cursor that predates the current dataset snapshot does
// more harm than starting over, since deduplication makes a fresh start cheap.
const FreshnessWindow = 24 * time.Hour

// Checkpoint is the singleton batch cursor, overwritten every batch.
type Checkpoint struct {
	BatchNum     int       `json:"batch_num"`
	TotalBatches int       `json:"total_batches"`
	BatchSize    int       `json:"batch_size"`
	Offset       int64     `json:"offset"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ResumeOffset computes the safe offset to resume from: one full batch
// behind the checkpointed cursor, so a checkpoint written just before a
// mid-batch crash still covers the interrupted batch. Deduplication turns
// the resulting at-least-once coverage into effectively exactly-once.
func (cp *Checkpoint) ResumeOffset() int64 {
	off := cp.Offset - int64(cp.BatchSize)
	if off < 0 {
		return 0
	}
	return off
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the current checkpoint. Returns ErrNoCheckpoint when
	// none exists or the stored one is older than the freshness window.
	Load(ctx context.Context) (*Checkpoint, error)

	// Save persists the checkpoint durably before returning.
	Save(ctx context.Context, cp *Checkpoint) error

	// Clear removes the checkpoint after a clean completion.
	Clear(ctx context.Context) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // State directory for the checkpoint file
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{dir: cfg.Dir, now: time.Now}, nil
}

// fileManager persists the checkpoint to a local file.
type fileManager struct {
	dir string
	now func() time.Time
}

func (m *fileManager) path() string {
	return filepath.Join(m.dir, "checkpoint.json")
}

// Load reads the checkpoint from file, discarding stale ones.
func (m *fileManager) Load(ctx context.Context) (*Checkpoint, error) {
	data, err := os.ReadFile(m.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}

	if m.now().Sub(cp.UpdatedAt) > FreshnessWindow {
		return nil, ErrNoCheckpoint
	}

	return &cp, nil
}

// Save persists the checkpoint atomically via temp file + fsync + rename.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	path := m.path()
	tempPath := path + ".tmp"
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	// The rename must never publish a checkpoint that is not yet on disk.
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sync checkpoint temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// Clear removes the checkpoint file if present.
func (m *fileManager) Clear(ctx context.Context) error {
	if err := os.Remove(m.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint file: %w", err)
	}
	return nil
}

// noopManager is used when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}

func (m *noopManager) Clear(ctx context.Context) error {
	return nil
}
