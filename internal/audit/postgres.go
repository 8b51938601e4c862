package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/AntoniyaJency/railopt/internal/common/logger"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id         TEXT PRIMARY KEY,
	train_id   TEXT NOT NULL,
	field      TEXT NOT NULL,
	old_value  TEXT NOT NULL,
	new_value  TEXT NOT NULL,
	at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_at ON audit_entries(at);
CREATE INDEX IF NOT EXISTS idx_audit_entries_train ON audit_entries(train_id);

CREATE TABLE IF NOT EXISTS snapshots (
	id        TEXT PRIMARY KEY,
	taken_at  TIMESTAMPTZ NOT NULL,
	trains    INTEGER NOT NULL,
	data      BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at);
`

// PostgresStore is the shared durable store for multi-consumer deployments
// where dashboards query the audit trail directly.
type PostgresStore struct {
	db  *sql.DB
	log logger.Logger
}

func OpenPostgres(connStr string, log logger.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	log.Info("audit store ready", "driver", "postgres")
	return &PostgresStore{db: db, log: log}, nil
}

func (s *PostgresStore) WriteEntries(ctx context.Context, entries []Entry) error {
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
		 VALUES ($1, $2, $3, $4, $5, $6)`)
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

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, taken_at, trains, data) VALUES ($1, $2, $3, $4)`,
		snap.ID, snap.TakenAt, snap.Trains, snap.Data)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning audit entries: %w", err)
	}
	entries, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned entries: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE taken_at < $1`, cutoff); err != nil {
		return entries, fmt.Errorf("pruning snapshots: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
