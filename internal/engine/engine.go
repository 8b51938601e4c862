// Package engine ties the network, the train store, the conflict detector,
// the optimizer and the simulator together behind one facade. Everything a
// caller does to the live system goes through here.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AntoniyaJency/railopt/internal/audit"
	"github.com/AntoniyaJency/railopt/internal/common/logger"
	"github.com/AntoniyaJency/railopt/internal/conflict"
	"github.com/AntoniyaJency/railopt/internal/metrics"
	"github.com/AntoniyaJency/railopt/internal/network"
	"github.com/AntoniyaJency/railopt/internal/optimizer"
	"github.com/AntoniyaJency/railopt/internal/simulate"
	"github.com/AntoniyaJency/railopt/internal/state"
	"github.com/AntoniyaJency/railopt/pkg/railway"
)

// Engine owns the live network and train state. Reads take snapshots,
// writes go through the store, and optimization cycles serialize on runMu
// so at most one set of adjustments is in flight at a time.
type Engine struct {
	cfg optimizer.Config
	log logger.Logger
	rec *audit.Recorder

	store  *state.Store
	det    *conflict.Detector
	opt    *optimizer.Optimizer
	runner *simulate.Runner

	mu            sync.RWMutex
	net           *network.Network
	lastConflicts int

	runMu sync.Mutex
	now   func() time.Time
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock injects a time source. Tests pin it so horizons and metric
// timestamps are reproducible.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.store.SetClock(now)
		e.runner.SetClock(now)
	}
}

// New builds an engine with an empty network and fleet. cfg supplies the
// optimizer defaults used by periodic cycles, Reoptimize and Simulate. rec
// may be nil, in which case mutations are not audited.
func New(cfg optimizer.Config, log logger.Logger, rec *audit.Recorder, opts ...Option) *Engine {
	det := conflict.NewDetector(log)
	opt := optimizer.New(det, log)

	e := &Engine{
		cfg:    cfg.Normalized(),
		log:    log,
		rec:    rec,
		det:    det,
		opt:    opt,
		runner: simulate.NewRunner(det, opt, log),
		net:    network.New(),
		now:    time.Now,
	}

	var srec state.Recorder
	if rec != nil {
		srec = rec
	}
	e.store = state.NewStore(srec, log)

	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the engine's default optimizer configuration.
func (e *Engine) Config() optimizer.Config { return e.cfg }

// LoadNetwork validates the topology and, when it is sound, atomically
// replaces the live network. On failure the previous network stays in
// service and the error wraps ErrInvalidTopology.
func (e *Engine) LoadNetwork(stations []railway.Station, sections []railway.TrackSection) error {
	net, err := network.Build(stations, sections)
	if err != nil {
		return fmt.Errorf("loading network: %w", err)
	}

	e.mu.Lock()
	e.net = net
	e.mu.Unlock()

	e.log.Info("Network loaded",
		"stations", net.NumStations(),
		"sections", net.NumSections())
	return nil
}

// UpsertTrain creates or updates a train, auditing every field change.
func (e *Engine) UpsertTrain(t railway.Train) error {
	return e.store.Upsert(t)
}

// Train returns a copy of one train.
func (e *Engine) Train(id railway.TrainID) (railway.Train, error) {
	return e.store.Get(id)
}

// Trains returns copies of all trains ordered by scheduled departure.
func (e *Engine) Trains() []railway.Train {
	return e.store.All()
}

// SetTrainStatus transitions a train's lifecycle status.
func (e *Engine) SetTrainStatus(id railway.TrainID, status railway.TrainStatus) error {
	return e.store.SetStatus(id, status)
}

// UpdatePosition records a live position report.
func (e *Engine) UpdatePosition(id railway.TrainID, section railway.SectionID, station railway.StationID, speedKmh float64) error {
	return e.store.UpdatePosition(id, section, station, speedKmh)
}

// DetectConflicts projects occupancy for the current fleet and reports every
// overlap inside the horizon. The count feeds Metrics until the next
// detection run.
func (e *Engine) DetectConflicts(h railway.Horizon) (railway.ConflictReport, error) {
	net := e.snapshotNet()
	if net.NumSections() == 0 {
		return railway.ConflictReport{}, fmt.Errorf("detecting conflicts: %w: no network loaded", railway.ErrNotFound)
	}

	report := e.det.Detect(net, e.store.All(), h)
	e.setLastConflicts(len(report.Conflicts))
	return report, nil
}

// Optimize runs one live cycle: detect over [now, now+horizon], solve, and
// apply the accepted adjustments to the live store. Concurrent calls
// serialize. The returned result is valid even when the error reports that
// some adjustments could not be applied.
func (e *Engine) Optimize(ctx context.Context, cfg optimizer.Config) (railway.OptimizationResult, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	net := e.snapshotNet()
	if net.NumSections() == 0 {
		return railway.OptimizationResult{}, fmt.Errorf("optimizing: %w: no network loaded", railway.ErrNotFound)
	}

	cfg = cfg.Normalized()
	now := e.now()
	horizon := railway.Horizon{From: now, To: now.Add(time.Duration(cfg.HorizonMin) * time.Minute)}

	res := e.opt.Optimize(ctx, net, e.store.All(), horizon, cfg)
	e.setLastConflicts(res.ConflictsResolved + len(res.Unresolved))

	if len(res.Adjustments) > 0 {
		applied, err := e.store.ApplyAdjustments(res.Adjustments)
		if err != nil {
			e.log.Warn("Some adjustments could not be applied",
				"applied", applied,
				"total", len(res.Adjustments),
				"error", err)
			return res, fmt.Errorf("applying adjustments: %w", err)
		}
		e.log.Info("Schedule adjustments applied", "count", applied)
	}
	return res, nil
}

// Simulate runs a what-if scenario against deep copies of the live state.
// The live store, network and conflict count are never touched, so any
// number of simulations may run alongside live cycles.
func (e *Engine) Simulate(ctx context.Context, sc railway.Scenario) (railway.SimulationResult, error) {
	net := e.snapshotNet()
	if net.NumSections() == 0 {
		return railway.SimulationResult{}, fmt.Errorf("simulating: %w: no network loaded", railway.ErrNotFound)
	}
	return e.runner.Run(ctx, net, e.store.All(), sc, e.cfg)
}

// Metrics computes fleet KPIs from a snapshot of the store plus the most
// recent detection count. Pull-based; nothing updates in the background.
func (e *Engine) Metrics() railway.PerformanceMetrics {
	return metrics.Compute(e.store.All(), e.lastConflictCount(), e.now())
}

// Snapshot persists the current train set through the audit recorder.
// A nil recorder makes this a no-op.
func (e *Engine) Snapshot(ctx context.Context) error {
	if e.rec == nil {
		return nil
	}
	return e.rec.Snapshot(ctx, e.store.All())
}

// DisruptionKind names the external event driving a reoptimization.
type DisruptionKind string

const (
	DisruptionDelay        DisruptionKind = "delay"
	DisruptionCancellation DisruptionKind = "cancellation"
	DisruptionMaintenance  DisruptionKind = "maintenance"
)

func (k DisruptionKind) status() (railway.TrainStatus, bool) {
	switch k {
	case DisruptionDelay:
		return railway.StatusDelayed, true
	case DisruptionCancellation:
		return railway.StatusCancelled, true
	case DisruptionMaintenance:
		return railway.StatusMaintenance, true
	}
	return "", false
}

// Disruption reports which trains an external event affected.
type Disruption struct {
	Kind   DisruptionKind    `json:"kind"`
	Trains []railway.TrainID `json:"train_ids"`
}

// Reoptimize applies a disruption's status changes through the store and
// then runs a full optimization cycle. Trains that reject the transition are
// collected into the returned error; they never block the cycle itself.
func (e *Engine) Reoptimize(ctx context.Context, d Disruption) (railway.OptimizationResult, error) {
	status, ok := d.Kind.status()
	if !ok {
		return railway.OptimizationResult{}, fmt.Errorf("unknown disruption kind %q", d.Kind)
	}

	var errs []error
	for _, id := range d.Trains {
		if err := e.store.SetStatus(id, status); err != nil {
			errs = append(errs, fmt.Errorf("train %s: %w", id, err))
		}
	}
	if len(errs) > 0 {
		e.log.Warn("Disruption partially applied",
			"kind", d.Kind,
			"failed", len(errs),
			"of", len(d.Trains))
	}

	e.log.Info("Reoptimizing after disruption",
		"kind", d.Kind,
		"trains", len(d.Trains))

	res, err := e.Optimize(ctx, e.cfg)
	if err != nil {
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

func (e *Engine) snapshotNet() *network.Network {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.net
}

func (e *Engine) setLastConflicts(n int) {
	e.mu.Lock()
	e.lastConflicts = n
	e.mu.Unlock()
}

func (e *Engine) lastConflictCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastConflicts
}
