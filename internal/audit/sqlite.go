package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AntoniyaJency/railopt/internal/common/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id         TEXT PRIMARY KEY,
	train_id   TEXT NOT NULL,
	field      TEXT NOT NULL,
	old_value  TEXT NOT NULL,
	new_value  TEXT NOT NULL,
	at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_at ON audit_entries(at);
CREATE INDEX IF NOT EXISTS idx_audit_entries_train ON audit_entries(train_id);

CREATE TABLE IF NOT EXISTS snapshots (
	id        TEXT PRIMARY KEY,
	taken_at  TIMESTAMP NOT NULL,
	trains    INTEGER NOT NULL,
	data      BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at);
`

// SQLiteStore is the embedded durable store, used in development and
// single-node deployments. The driver is pure Go, no cgo involved.
type SQLiteStore struct {
	db  *sql.DB
	log logger.Logger
}

func OpenSQLite(path string, log logger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	// WAL keeps readers unblocked while the writer goroutine flushes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging audit database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	log.Info("audit store ready", "driver", "sqlite", "path", path)
	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) WriteEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO audit_entries (id, train_id, field, old_value, new_value, at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, string(e.Train), e.Field, e.OldValue, e.NewValue, e.At); err != nil {
			return fmt.Errorf("inserting audit entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing audit batch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, taken_at, trains, data) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.TakenAt, snap.Trains, snap.Data)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning audit entries: %w", err)
	}
	entries, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned entries: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE taken_at < ?`, cutoff); err != nil {
		return entries, fmt.Errorf("pruning snapshots: %w", err)
	}
	return entries, nil
}

// LatestSnapshot returns the most recent snapshot, or sql.ErrNoRows when
// none exists yet.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT id, taken_at, trains, data FROM snapshots ORDER BY taken_at DESC LIMIT 1`).
		Scan(&snap.ID, &snap.TakenAt, &snap.Trains, &snap.Data)
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CountEntries reports the stored entry total. Used by tests and the janitor.
func (s *SQLiteStore) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting audit entries: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
