package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AntoniyaJency/railopt/internal/common/logger"
)

// Dispatcher reruns the optimization cycle on a fixed cadence, the way a
// control desk keeps re-planning as the situation on the ground moves.
type Dispatcher struct {
	engine   *Engine
	interval time.Duration
	log      logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewDispatcher builds a dispatcher running one cycle every interval.
func NewDispatcher(e *Engine, interval time.Duration, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		engine:   e,
		interval: interval,
		log:      log,
	}
}

// Start runs optimization cycles until the context is cancelled. The first
// cycle runs immediately.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	if d.interval <= 0 {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher interval must be positive")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	d.log.Info("Starting optimization dispatcher", "interval", d.interval)

	d.cycle(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Optimization dispatcher stopped")
			return nil
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

// Stop cancels the loop.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.running = false
}

func (d *Dispatcher) cycle(ctx context.Context) {
	start := time.Now()

	res, err := d.engine.Optimize(ctx, d.engine.Config())
	if err != nil {
		d.log.Warn("Optimization cycle failed", "error", err)
		return
	}

	if len(res.Adjustments) > 0 {
		d.log.Info("Optimization cycle completed",
			"status", res.Status,
			"adjustments", len(res.Adjustments),
			"total_delay_minutes", res.TotalDelayMin,
			"conflicts_resolved", res.ConflictsResolved,
			"duration", time.Since(start))
	} else {
		d.log.Debug("Optimization cycle found nothing to adjust",
			"status", res.Status)
	}

	if err := d.engine.Snapshot(ctx); err != nil {
		d.log.Error("Snapshot after cycle failed", "error", err)
	}
}
