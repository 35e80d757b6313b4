package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
)

func writeParquetRows(t *testing.T, path string, rows []candidateRow) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	if err := parquet.Write(f, rows); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
}

func cleanRows(start, count int) []candidateRow {
	rows := make([]candidateRow, count)
	for i := range rows {
		n := start + i
		block := int64(1000 + n)
		lang := "solidity"
		rows[i] = candidateRow{
			ChainID:         1,
			Address:         fmt.Sprintf("0x%040x", n+1),
			DeploymentBlock: &block,
			Language:        &lang,
		}
	}
	return rows
}

func newTestParquetSource(t *testing.T) *ParquetSource {
	t.Helper()
	dir := t.TempDir()
	writeParquetRows(t, filepath.Join(dir, "part-000.parquet"), cleanRows(0, 7))
	writeParquetRows(t, filepath.Join(dir, "part-001.parquet"), cleanRows(7, 5))

	src, err := NewParquetSource(context.Background(), "file://"+dir)
	if err != nil {
		t.Fatalf("NewParquetSource: %v", err)
	}
	t.Cleanup(func() { src.Close() })
	return src
}

func TestParquetTotal(t *testing.T) {
	src := newTestParquetSource(t)

	total, err := src.Total(context.Background())
	if err != nil {
		t.Fatalf("Total: %v", err)
	}
	if total != 12 {
		t.Errorf("Total = %d, want 12", total)
	}
}

func TestParquetBatchSpansFiles(t *testing.T) {
	src := newTestParquetSource(t)

	// Rows 5..9 straddle the boundary between the two files.
	batch, read, err := src.NextBatch(context.Background(), 5, 5)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if read != 5 || len(batch) != 5 {
		t.Fatalf("read = %d, len(batch) = %d, want 5 and 5", read, len(batch))
	}
	for i, rec := range batch {
		want := fmt.Sprintf("0x%040x", 5+i+1)
		got := rec.Key().Address
		if got != want {
			t.Errorf("batch[%d] address = %s, want %s", i, got, want)
		}
		if rec.DeploymentBlock == nil || *rec.DeploymentBlock != int64(1000+5+i) {
			t.Errorf("batch[%d] deployment block = %v", i, rec.DeploymentBlock)
		}
	}
}

func TestParquetSkippedRowsKeepRawCursor(t *testing.T) {
	dir := t.TempDir()

	// First file opens with the zero address, which is dropped, and the
	// requested window spans into the second file.
	bad := cleanRows(0, 3)
	bad[0].Address = "0x" + strings.Repeat("0", 40)
	writeParquetRows(t, filepath.Join(dir, "part-000.parquet"), bad)
	writeParquetRows(t, filepath.Join(dir, "part-001.parquet"), cleanRows(3, 5))

	src, err := NewParquetSource(context.Background(), "file://"+dir)
	if err != nil {
		t.Fatalf("NewParquetSource: %v", err)
	}
	defer src.Close()

	batch, read, err := src.NextBatch(context.Background(), 5, 0)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if read != 5 {
		t.Errorf("read = %d, want 5 raw rows including the skipped one", read)
	}
	if len(batch) != 4 {
		t.Fatalf("len(batch) = %d, want 4 kept records", len(batch))
	}
	// The window after this one starts exactly where the raw cursor left off.
	next, read, err := src.NextBatch(context.Background(), 5, 5)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if read != 3 || len(next) != 3 {
		t.Errorf("tail read = %d, len = %d, want 3 and 3", read, len(next))
	}
	if got, want := next[0].Key().Address, fmt.Sprintf("0x%040x", 6); got != want {
		t.Errorf("tail starts at %s, want %s", got, want)
	}
}

func TestParquetExhaustion(t *testing.T) {
	src := newTestParquetSource(t)
	ctx := context.Background()

	batch, read, err := src.NextBatch(ctx, 10, 10)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if read != 2 || len(batch) != 2 {
		t.Errorf("tail read = %d, len = %d, want 2 and 2", read, len(batch))
	}

	batch, read, err = src.NextBatch(ctx, 10, 12)
	if err != nil {
		t.Fatalf("NextBatch past end: %v", err)
	}
	if read != 0 || len(batch) != 0 {
		t.Errorf("past end read = %d, len = %d, want 0 and 0", read, len(batch))
	}
}

func TestParquetDeterministicOrder(t *testing.T) {
	src := newTestParquetSource(t)
	ctx := context.Background()

	first, _, err := src.NextBatch(ctx, 12, 0)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	second, _, err := src.NextBatch(ctx, 12, 0)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Key() != second[i].Key() {
			t.Errorf("row %d differs between reads: %s vs %s", i, first[i].Key(), second[i].Key())
		}
	}
}
