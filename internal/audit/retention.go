package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AntoniyaJency/railopt/internal/common/logger"
)

// Janitor prunes audit entries and snapshots past their retention window on
// a fixed cadence.
type Janitor struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	log       logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewJanitor builds a janitor pruning anything older than retention, checked
// every interval.
func NewJanitor(store Store, retention, interval time.Duration, log logger.Logger) *Janitor {
	return &Janitor{
		store:     store,
		retention: retention,
		interval:  interval,
		log:       log,
	}
}

// Start runs the prune loop until the context is cancelled. An initial prune
// runs immediately.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return fmt.Errorf("audit janitor already running")
	}
	if j.store == nil {
		j.mu.Unlock()
		return fmt.Errorf("audit janitor requires a durable store")
	}
	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.running = true
	j.mu.Unlock()

	j.log.Info("Starting audit janitor",
		"retention", j.retention,
		"interval", j.interval)

	j.prune(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("Audit janitor stopped")
			return nil
		case <-ticker.C:
			j.prune(ctx)
		}
	}
}

// Stop cancels the loop.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	if j.cancel != nil {
		j.cancel()
	}
	j.running = false
}

func (j *Janitor) prune(ctx context.Context) {
	cutoff := time.Now().Add(-j.retention)
	start := time.Now()

	removed, err := j.store.PruneBefore(ctx, cutoff)
	if err != nil {
		j.log.Error("Audit prune failed", "error", err, "cutoff", cutoff)
		return
	}
	if removed > 0 {
		j.log.Info("Audit prune completed",
			"entries_removed", removed,
			"cutoff", cutoff,
			"duration", time.Since(start))
	} else {
		j.log.Debug("Audit prune found nothing to remove", "cutoff", cutoff)
	}
}
