package ledger

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/openlabels/sourcify-bridge/internal/candidate"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenSQLite(dir)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func key(addr string, chain int64) candidate.Key {
	return candidate.Key{Address: addr, ChainID: chain}
}

func TestRecordAttemptUpsertReplaces(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	k := key("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa01", 1)

	if err := s.RecordAttempt(ctx, Attempt{Key: k, Status: StatusPending, Tags: []byte(`{}`)}); err != nil {
		t.Fatalf("record pending: %v", err)
	}
	if err := s.RecordAttempt(ctx, Attempt{Key: k, Status: StatusSuccess, Tags: []byte(`{}`), TransportRef: "0xdead"}); err != nil {
		t.Fatalf("record success: %v", err)
	}

	ok, err := s.IsSuccessful(ctx, k)
	if err != nil {
		t.Fatalf("is successful: %v", err)
	}
	if !ok {
		t.Error("key should be successful after upsert")
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 1 || st.Successful != 1 || st.Pending != 0 {
		t.Errorf("upsert should leave one row, got %+v", st)
	}
}

func TestSuccessfulKeysBulkLookup(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	succ := key("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa01", 1)
	fail := key("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb02", 10)

	if err := s.RecordAttempt(ctx, Attempt{Key: succ, Status: StatusSuccess, Tags: []byte(`{}`)}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordAttempt(ctx, Attempt{Key: fail, Status: StatusFailed, Tags: []byte(`{}`), ErrorMessage: "boom"}); err != nil {
		t.Fatal(err)
	}

	keys, err := s.SuccessfulKeys(ctx)
	if err != nil {
		t.Fatalf("successful keys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 successful key, got %d", len(keys))
	}
	if _, ok := keys[succ]; !ok {
		t.Errorf("missing successful key %v", succ)
	}
}

func TestSuccessfulKeysEmptyLedger(t *testing.T) {
	s, _ := newTestStore(t)

	keys, err := s.SuccessfulKeys(context.Background())
	if err != nil {
		t.Fatalf("successful keys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("empty ledger should yield no keys, got %d", len(keys))
	}
}

func TestFailedWriteAppendsToFailureLog(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	k := key("0xcccccccccccccccccccccccccccccccccccccc03", 8453)
	if err := s.RecordAttempt(ctx, Attempt{
		Key:          k,
		Status:       StatusFailed,
		Tags:         []byte(`{"is_contract":true}`),
		ErrorMessage: "validation failed",
	}); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, "failed_records_live.csv"))
	if err != nil {
		t.Fatalf("open failure log: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read failure log: %v", err)
	}
	if len(rows) != 2 { // header + one failure
		t.Fatalf("expected header + 1 row, got %d rows", len(rows))
	}
	if rows[1][1] != k.Address || rows[1][3] != "validation failed" {
		t.Errorf("unexpected failure row: %v", rows[1])
	}
}

func TestExportFailuresOrderAndContent(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	for i, addr := range []string{
		"0xdddddddddddddddddddddddddddddddddddddd04",
		"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee05",
	} {
		if err := s.RecordAttempt(ctx, Attempt{
			Key:          key(addr, int64(i+1)),
			Status:       StatusFailed,
			Tags:         []byte(`{}`),
			ErrorMessage: "transport error",
		}); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := s.ExportFailures(ctx)
	if err != nil {
		t.Fatalf("export failures: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 failure rows, got %d", len(rows))
	}

	path := filepath.Join(dir, "failed_records.csv")
	n, err := WriteFailureExport(path, rows)
	if err != nil {
		t.Fatalf("write export: %v", err)
	}
	if n != 2 {
		t.Errorf("export wrote %d rows, want 2", n)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("export file missing: %v", err)
	}
}

func TestConcurrentRecordAttempts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	addrs := []string{
		"0x1111111111111111111111111111111111111101",
		"0x2222222222222222222222222222222222222202",
		"0x3333333333333333333333333333333333333303",
		"0x4444444444444444444444444444444444444404",
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(addrs))
	for i, addr := range addrs {
		wg.Add(1)
		go func(addr string, chain int64) {
			defer wg.Done()
			errCh <- s.RecordAttempt(ctx, Attempt{
				Key:    key(addr, chain),
				Status: StatusSuccess,
				Tags:   []byte(`{}`),
			})
		}(addr, int64(i+1))
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent record: %v", err)
		}
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Successful != int64(len(addrs)) {
		t.Errorf("expected %d successful rows, got %d", len(addrs), st.Successful)
	}
}
