// Package audit captures every mutation of train state so optimization
// decisions can be explained to a human controller afterwards. Records are
// kept in a bounded in-memory ring and, when a durable store is configured,
// written through to it by a background writer.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/AntoniyaJency/railopt/internal/common/config"
	"github.com/AntoniyaJency/railopt/internal/common/logger"
	"github.com/AntoniyaJency/railopt/pkg/railway"
)

// Entry is one field-level mutation record.
type Entry struct {
	ID       string          `json:"id"`
	Train    railway.TrainID `json:"train_id"`
	Field    string          `json:"field"`
	OldValue string          `json:"old_value"`
	NewValue string          `json:"new_value"`
	At       time.Time       `json:"at"`
}

// Snapshot is a point-in-time dump of the whole train set, taken after each
// dispatch cycle so the live store can be rebuilt elsewhere.
type Snapshot struct {
	ID      string    `json:"id"`
	TakenAt time.Time `json:"taken_at"`
	Trains  int       `json:"trains"`
	Data    []byte    `json:"data"`
}

// Store persists entries and snapshots durably.
type Store interface {
	WriteEntries(ctx context.Context, entries []Entry) error
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// PruneBefore deletes entries older than the cutoff and returns how
	// many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Open builds the configured store. The "memory" driver returns nil: the
// recorder's ring is then the only record.
func Open(cfg config.AuditConfig, log logger.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return nil, nil
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath, log)
	case "postgres":
		return OpenPostgres(cfg.Postgres.ConnectionString(), log)
	default:
		return nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}
