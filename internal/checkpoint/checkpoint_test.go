package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *fileManager {
	t.Helper()
	return &fileManager{dir: t.TempDir(), now: time.Now}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	cp := &Checkpoint{
		BatchNum:     7,
		TotalBatches: 42,
		BatchSize:    1000,
		Offset:       7000,
		UpdatedAt:    time.Now().UTC(),
	}

	if err := m.Save(ctx, cp); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.BatchNum != 7 || got.Offset != 7000 || got.BatchSize != 1000 {
		t.Errorf("loaded checkpoint mismatch: %+v", got)
	}
}

func TestLoadMissingReturnsErrNoCheckpoint(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Load(context.Background())
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expected ErrNoCheckpoint, got %v", err)
	}
}

func TestLoadStaleCheckpointIgnored(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	cp := &Checkpoint{
		BatchNum:  1,
		BatchSize: 500,
		Offset:    500,
		UpdatedAt: time.Now().Add(-25 * time.Hour),
	}
	if err := m.Save(ctx, cp); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := m.Load(ctx)
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("stale checkpoint should be ignored, got %v", err)
	}
}

func TestClearRemovesCheckpoint(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	cp := &Checkpoint{BatchNum: 1, BatchSize: 100, Offset: 100, UpdatedAt: time.Now()}
	if err := m.Save(ctx, cp); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := m.Load(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("expected ErrNoCheckpoint after clear, got %v", err)
	}

	// Clearing again is a no-op.
	if err := m.Clear(ctx); err != nil {
		t.Errorf("second clear should succeed: %v", err)
	}
}

func TestResumeOffsetRewindsOneBatch(t *testing.T) {
	cases := []struct {
		offset    int64
		batchSize int
		want      int64
	}{
		{7000, 1000, 6000},
		{500, 1000, 0},
		{0, 1000, 0},
	}
	for _, c := range cases {
		cp := &Checkpoint{Offset: c.offset, BatchSize: c.batchSize}
		if got := cp.ResumeOffset(); got != c.want {
			t.Errorf("ResumeOffset(offset=%d, batch=%d) = %d, want %d",
				c.offset, c.batchSize, got, c.want)
		}
	}
}
