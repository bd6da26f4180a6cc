// Package ledger persists which events have already been relayed so a
// restart does not re-dispatch messages the provider still reports.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLedger implements domain.Ledger on a local SQLite file.
type SQLiteLedger struct {
	db        *sql.DB
	retention time.Duration
	logger    *slog.Logger
}

func NewSQLite(dbPath string, retention time.Duration, logger *slog.Logger) (*SQLiteLedger, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create ledger directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open ledger database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if retention <= 0 {
		retention = 24 * time.Hour
	}

	l := &SQLiteLedger{db: db, retention: retention, logger: logger}

	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger migration failed: %w", err)
	}

	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS relayed_events (
		event_id   TEXT PRIMARY KEY,
		relayed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_relayed_at ON relayed_events(relayed_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// IsNew reports whether the id has not been relayed within the
// retention horizon. Entries past the horizon count as evicted even
// before the lazy purge removes them.
func (l *SQLiteLedger) IsNew(ctx context.Context, eventID string) (bool, error) {
	cutoff := time.Now().Add(-l.retention)
	var one int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM relayed_events WHERE event_id = ? AND relayed_at >= ?`,
		eventID, cutoff,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return false, nil
}

// MarkRelayed records a confirmed dispatch and lazily purges entries
// older than the retention horizon to bound storage.
func (l *SQLiteLedger) MarkRelayed(ctx context.Context, eventID string) error {
	now := time.Now()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO relayed_events (event_id, relayed_at) VALUES (?, ?)
		 ON CONFLICT(event_id) DO UPDATE SET relayed_at = excluded.relayed_at`,
		eventID, now,
	)
	if err != nil {
		return fmt.Errorf("ledger mark: %w", err)
	}

	cutoff := now.Add(-l.retention)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM relayed_events WHERE relayed_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("ledger purge: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		l.logger.Debug("purged expired ledger entries", "count", n)
	}
	return nil
}

// Count returns the number of unexpired entries (used by status).
func (l *SQLiteLedger) Count(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-l.retention)
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relayed_events WHERE relayed_at >= ?`, cutoff,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger count: %w", err)
	}
	return n, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
