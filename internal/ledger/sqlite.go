package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openlabels/sourcify-bridge/internal/candidate"
	"github.com/openlabels/sourcify-bridge/internal/logging"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS submissions (
	address TEXT,
	chain_id INTEGER,
	status TEXT,
	timestamp TEXT,
	transport_ref TEXT,
	error_message TEXT,
	tags_json TEXT,
	PRIMARY KEY (address, chain_id)
);
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);
CREATE INDEX IF NOT EXISTS idx_submissions_timestamp ON submissions(timestamp);
`

const timeLayout = "2006-01-02 15:04:05"

// SQLiteStore implements Store on an embedded SQLite database under the
// state directory, paired with an append-only failure log in the same
// directory.
type SQLiteStore struct {
	db       *sql.DB
	failures *FailureLog
	log      *slog.Logger
}

// OpenSQLite opens (creating if needed) the submissions database and the
// live failure log inside stateDir.
func OpenSQLite(stateDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}

	dbPath := filepath.Join(stateDir, "submissions.db")
	dsn := dbPath + "?_busy_timeout=5000&_journal_mode=WAL"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open submissions db: %w", err)
	}

	// SQLite allows a single writer; funnel all access through one
	// connection so concurrent workers queue instead of hitting
	// SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init submissions schema: %w", err)
	}

	failures, err := OpenFailureLog(filepath.Join(stateDir, "failed_records_live.csv"))
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:       db,
		failures: failures,
		log:      logging.Component("ledger"),
	}, nil
}

// RecordAttempt upserts the submission row. Failed attempts are also
// appended synchronously to the failure log so diagnostics survive even if
// the database is later corrupted or the process dies mid-write.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, a Attempt) error {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO submissions
		(address, chain_id, status, timestamp, transport_ref, error_message, tags_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		strings.ToLower(a.Key.Address),
		a.Key.ChainID,
		string(a.Status),
		now.Format(timeLayout),
		nullable(a.TransportRef),
		nullable(a.ErrorMessage),
		string(a.Tags),
	)
	if err != nil {
		return fmt.Errorf("record attempt %s: %w", a.Key, err)
	}

	if a.Status == StatusFailed {
		if err := s.failures.Append(now, a.Key, a.ErrorMessage, string(a.Tags)); err != nil {
			// The structured row is already committed; losing the
			// redundant CSV line is not worth failing the attempt.
			s.log.Error("failed to append failure log", "key", a.Key.String(), "error", err)
		}
	}

	return nil
}

// IsSuccessful reports whether the key already has a success row.
func (s *SQLiteStore) IsSuccessful(ctx context.Context, key candidate.Key) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM submissions
		WHERE address = ? AND chain_id = ? AND status = 'success'`,
		strings.ToLower(key.Address), key.ChainID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query success row %s: %w", key, err)
	}
	return true, nil
}

// SuccessfulKeys returns every successfully submitted key in one query.
func (s *SQLiteStore) SuccessfulKeys(ctx context.Context) (map[candidate.Key]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT LOWER(address), chain_id FROM submissions WHERE status = 'success'`)
	if err != nil {
		return nil, fmt.Errorf("query successful keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[candidate.Key]struct{})
	for rows.Next() {
		var k candidate.Key
		if err := rows.Scan(&k.Address, &k.ChainID); err != nil {
			return nil, fmt.Errorf("scan successful key: %w", err)
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

// Stats returns ledger-wide counters and the overall success rate.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		st.Total += count
		switch Status(status) {
		case StatusSuccess:
			st.Successful = count
		case StatusFailed:
			st.Failed = count
		case StatusPending:
			st.Pending = count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if st.Total > 0 {
		st.SuccessRate = float64(st.Successful) / float64(st.Total) * 100
	}
	return st, nil
}

// ExportFailures returns all failed rows, most recent first.
func (s *SQLiteStore) ExportFailures(ctx context.Context) ([]FailureRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, chain_id, timestamp,
		       COALESCE(error_message, ''), COALESCE(tags_json, '')
		FROM submissions
		WHERE status = 'failed'
		ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []FailureRow
	for rows.Next() {
		var r FailureRow
		var ts string
		if err := rows.Scan(&r.Address, &r.ChainID, &ts, &r.ErrorMessage, &r.TagsJSON); err != nil {
			return nil, fmt.Errorf("scan failure row: %w", err)
		}
		if t, err := time.Parse(timeLayout, ts); err == nil {
			r.Timestamp = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database and the failure log.
func (s *SQLiteStore) Close() error {
	if err := s.failures.Close(); err != nil {
		s.log.Warn("close failure log", "error", err)
	}
	return s.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
