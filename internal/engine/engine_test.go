package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AntoniyaJency/railopt/internal/audit"
	"github.com/AntoniyaJency/railopt/internal/common/logger"
	"github.com/AntoniyaJency/railopt/internal/optimizer"
	"github.com/AntoniyaJency/railopt/pkg/railway"
)

var engT0 = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func engStations() []railway.Station {
	return []railway.Station{
		{ID: "K", Name: "Kanpur Central", Lat: 26.4499, Lon: 80.3319, Platforms: 4},
		{ID: "L", Name: "Lucknow", Lat: 26.8467, Lon: 80.9462, Platforms: 4},
		{ID: "U", Name: "Unnao", Lat: 26.5393, Lon: 80.4878, Platforms: 2},
	}
}

func engSections() []railway.TrackSection {
	return []railway.TrackSection{
		{ID: "KL", Name: "Main Line", From: "K", To: "L", LengthKm: 60, MaxSpeedKmh: 120, Capacity: 1, HeadwayMin: 5},
		{ID: "KU", Name: "Loop South", From: "K", To: "U", LengthKm: 30, MaxSpeedKmh: 120, Capacity: 2},
		{ID: "UL", Name: "Loop North", From: "U", To: "L", LengthKm: 30, MaxSpeedKmh: 120, Capacity: 2},
	}
}

func engTrain(id railway.TrainID, typ railway.TrainType, priority int, dep time.Time) railway.Train {
	return railway.Train{
		ID:                 id,
		Number:             string(id),
		Type:               typ,
		Priority:           priority,
		Origin:             "K",
		Destination:        "L",
		ScheduledDeparture: dep,
		ScheduledArrival:   dep.Add(30 * time.Minute),
		Itinerary:          []railway.SectionID{"KL"},
	}
}

func newEngine(t *testing.T, rec *audit.Recorder) *Engine {
	t.Helper()
	cfg := optimizer.Config{HorizonMin: 480, Seed: 7}
	return New(cfg, logger.Nop(), rec, WithClock(func() time.Time { return engT0 }))
}

func loadedEngine(t *testing.T) *Engine {
	t.Helper()
	e := newEngine(t, nil)
	if err := e.LoadNetwork(engStations(), engSections()); err != nil {
		t.Fatalf("LoadNetwork failed: %v", err)
	}
	return e
}

// contestedPair puts an express and a local on the single-line Main Line ten
// minutes apart. The local has to absorb 25 minutes for the express to clear.
func contestedPair(t *testing.T, e *Engine) {
	t.Helper()
	hi := engTrain("HI", railway.TypeExpress, 9, engT0.Add(30*time.Minute))
	lo := engTrain("LO", railway.TypeLocal, 3, engT0.Add(40*time.Minute))
	for _, tr := range []railway.Train{hi, lo} {
		if err := e.UpsertTrain(tr); err != nil {
			t.Fatalf("UpsertTrain(%s) failed: %v", tr.ID, err)
		}
	}
}

func wideHorizon() railway.Horizon {
	return railway.Horizon{From: engT0, To: engT0.Add(8 * time.Hour)}
}

func TestLoadNetworkReplacesAtomically(t *testing.T) {
	e := newEngine(t, nil)

	if _, err := e.DetectConflicts(wideHorizon()); !errors.Is(err, railway.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any network is loaded, got %v", err)
	}

	if err := e.LoadNetwork(engStations(), engSections()); err != nil {
		t.Fatalf("LoadNetwork failed: %v", err)
	}
	if _, err := e.DetectConflicts(wideHorizon()); err != nil {
		t.Fatalf("DetectConflicts after load failed: %v", err)
	}

	bad := engSections()
	bad[0].From = "GHOST"
	if err := e.LoadNetwork(engStations(), bad); !errors.Is(err, railway.ErrInvalidTopology) {
		t.Fatalf("expected ErrInvalidTopology, got %v", err)
	}

	// The failed load must leave the previous topology in service.
	if _, err := e.DetectConflicts(wideHorizon()); err != nil {
		t.Errorf("previous network should survive a failed load, got %v", err)
	}
}

func TestFacadeTrainLifecycle(t *testing.T) {
	e := loadedEngine(t)

	tr := engTrain("T1", railway.TypeExpress, 8, engT0.Add(time.Hour))
	if err := e.UpsertTrain(tr); err != nil {
		t.Fatalf("UpsertTrain failed: %v", err)
	}

	got, err := e.Train("T1")
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if got.Status != railway.StatusScheduled {
		t.Errorf("expected default status scheduled, got %s", got.Status)
	}

	if err := e.SetTrainStatus("T1", railway.StatusRunning); err != nil {
		t.Fatalf("SetTrainStatus failed: %v", err)
	}
	if err := e.UpdatePosition("T1", "KL", "", 95); err != nil {
		t.Fatalf("UpdatePosition failed: %v", err)
	}

	got, err = e.Train("T1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != railway.StatusRunning {
		t.Errorf("expected status running, got %s", got.Status)
	}
	if got.CurrentSection != "KL" || got.SpeedKmh != 95 {
		t.Errorf("position not recorded: section=%s speed=%.1f", got.CurrentSection, got.SpeedKmh)
	}

	if n := len(e.Trains()); n != 1 {
		t.Errorf("expected 1 train, got %d", n)
	}
	if _, err := e.Train("NOPE"); !errors.Is(err, railway.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown train, got %v", err)
	}
}

func TestOptimizeAppliesAdjustmentsToLiveStore(t *testing.T) {
	e := loadedEngine(t)
	contestedPair(t, e)

	res, err := e.Optimize(context.Background(), e.Config())
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if res.Status != railway.SolveOptimal {
		t.Fatalf("expected optimal, got %s", res.Status)
	}
	if res.ConflictsResolved != 1 {
		t.Errorf("expected 1 conflict resolved, got %d", res.ConflictsResolved)
	}
	if len(res.Adjustments) != 1 || res.Adjustments[0].Train != "LO" || res.Adjustments[0].DelayMin != 25 {
		t.Fatalf("unexpected adjustments: %+v", res.Adjustments)
	}

	lo, err := e.Train("LO")
	if err != nil {
		t.Fatal(err)
	}
	if lo.DelayMin != 25 || lo.Status != railway.StatusDelayed {
		t.Errorf("adjustment not applied to live store: delay=%d status=%s", lo.DelayMin, lo.Status)
	}
	hi, err := e.Train("HI")
	if err != nil {
		t.Fatal(err)
	}
	if hi.DelayMin != 0 || hi.Status != railway.StatusScheduled {
		t.Errorf("express should be untouched: delay=%d status=%s", hi.DelayMin, hi.Status)
	}

	m := e.Metrics()
	if m.ConflictsDetected != 1 {
		t.Errorf("expected conflict count 1 from the cycle, got %d", m.ConflictsDetected)
	}
	if m.DelayedTrains != 1 || m.AverageDelayMin != 25 {
		t.Errorf("unexpected metrics: delayed=%d avg=%.1f", m.DelayedTrains, m.AverageDelayMin)
	}

	// A second cycle finds the plan already clean.
	res, err = e.Optimize(context.Background(), e.Config())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != railway.SolveOptimal || len(res.Adjustments) != 0 {
		t.Errorf("second cycle should be a clean no-op, got %s with %d adjustments", res.Status, len(res.Adjustments))
	}
	if m := e.Metrics(); m.ConflictsDetected != 0 {
		t.Errorf("expected conflict count 0 after clean cycle, got %d", m.ConflictsDetected)
	}
}

func TestOptimizeRequiresNetwork(t *testing.T) {
	e := newEngine(t, nil)
	if _, err := e.Optimize(context.Background(), e.Config()); !errors.Is(err, railway.ErrNotFound) {
		t.Errorf("expected ErrNotFound without a network, got %v", err)
	}
}

// Running a simulation must leave every observable of the live system
// untouched: trains, metrics, and the last detection count.
func TestSimulationDoesNotTouchLiveState(t *testing.T) {
	e := loadedEngine(t)
	contestedPair(t, e)

	report, err := e.DetectConflicts(wideHorizon())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Conflicts) != 1 {
		t.Fatalf("fixture should produce exactly 1 conflict, got %d", len(report.Conflicts))
	}
	before := e.Metrics()

	sc := railway.Scenario{
		Name: "Cancel the local",
		Modifications: []railway.Modification{
			railway.CancelTrains{Filter: railway.TrainFilter{ID: "LO"}},
		},
	}
	sim, err := e.Simulate(context.Background(), sc)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if sim.RunID == "" {
		t.Error("simulation should carry a run id")
	}
	if sim.BaseOptimization.TotalDelayMin != 25 || sim.ModifiedOptimization.TotalDelayMin != 0 {
		t.Errorf("unexpected comparison: base=%d modified=%d",
			sim.BaseOptimization.TotalDelayMin, sim.ModifiedOptimization.TotalDelayMin)
	}
	if sim.ImprovementPct != 100 {
		t.Errorf("expected 100%% improvement, got %.1f", sim.ImprovementPct)
	}

	if after := e.Metrics(); after != before {
		t.Errorf("simulation changed live metrics:\nbefore %+v\nafter  %+v", before, after)
	}
	lo, err := e.Train("LO")
	if err != nil {
		t.Fatal(err)
	}
	if lo.Status != railway.StatusScheduled || lo.DelayMin != 0 {
		t.Errorf("simulation leaked into live store: status=%s delay=%d", lo.Status, lo.DelayMin)
	}
}

func TestReoptimizeCancellationClearsConflict(t *testing.T) {
	e := loadedEngine(t)
	contestedPair(t, e)

	res, err := e.Reoptimize(context.Background(), Disruption{
		Kind:   DisruptionCancellation,
		Trains: []railway.TrainID{"HI"},
	})
	if err != nil {
		t.Fatalf("Reoptimize failed: %v", err)
	}
	if res.Status != railway.SolveOptimal || len(res.Adjustments) != 0 {
		t.Errorf("cancelling the express should leave nothing to fix, got %s with %d adjustments",
			res.Status, len(res.Adjustments))
	}

	hi, err := e.Train("HI")
	if err != nil {
		t.Fatal(err)
	}
	if hi.Status != railway.StatusCancelled {
		t.Errorf("expected HI cancelled, got %s", hi.Status)
	}
	lo, err := e.Train("LO")
	if err != nil {
		t.Fatal(err)
	}
	if lo.DelayMin != 0 {
		t.Errorf("local should no longer need a delay, got %d", lo.DelayMin)
	}
}

func TestReoptimizeDelayDisruptionStillOptimizes(t *testing.T) {
	e := loadedEngine(t)
	contestedPair(t, e)

	res, err := e.Reoptimize(context.Background(), Disruption{
		Kind:   DisruptionDelay,
		Trains: []railway.TrainID{"HI"},
	})
	if err != nil {
		t.Fatalf("Reoptimize failed: %v", err)
	}
	if res.Status != railway.SolveOptimal {
		t.Fatalf("expected optimal, got %s", res.Status)
	}

	// A delayed train stays active, so the contention is still resolved.
	hi, err := e.Train("HI")
	if err != nil {
		t.Fatal(err)
	}
	if hi.Status != railway.StatusDelayed {
		t.Errorf("expected HI marked delayed, got %s", hi.Status)
	}
	lo, err := e.Train("LO")
	if err != nil {
		t.Fatal(err)
	}
	if lo.DelayMin != 25 {
		t.Errorf("expected the local to absorb 25 minutes, got %d", lo.DelayMin)
	}
}

func TestReoptimizeRejectsUnknownKind(t *testing.T) {
	e := loadedEngine(t)
	contestedPair(t, e)

	if _, err := e.Reoptimize(context.Background(), Disruption{Kind: "teleportation"}); err == nil {
		t.Fatal("expected error for unknown disruption kind")
	}
	if hi, _ := e.Train("HI"); hi.Status != railway.StatusScheduled {
		t.Errorf("rejected disruption must not change statuses, got %s", hi.Status)
	}
}

func TestReoptimizeIsolatesUnknownTrains(t *testing.T) {
	e := loadedEngine(t)
	contestedPair(t, e)

	res, err := e.Reoptimize(context.Background(), Disruption{
		Kind:   DisruptionCancellation,
		Trains: []railway.TrainID{"GHOST", "HI"},
	})
	if !errors.Is(err, railway.ErrNotFound) {
		t.Errorf("expected joined ErrNotFound for the unknown train, got %v", err)
	}
	if res.Status != railway.SolveOptimal {
		t.Errorf("cycle should still run, got %s", res.Status)
	}
	if hi, _ := e.Train("HI"); hi.Status != railway.StatusCancelled {
		t.Errorf("known train should still be cancelled, got %s", hi.Status)
	}
}

func TestDisruptionKindStatus(t *testing.T) {
	cases := []struct {
		kind DisruptionKind
		want railway.TrainStatus
		ok   bool
	}{
		{DisruptionDelay, railway.StatusDelayed, true},
		{DisruptionCancellation, railway.StatusCancelled, true},
		{DisruptionMaintenance, railway.StatusMaintenance, true},
		{"weather", "", false},
	}
	for _, c := range cases {
		got, ok := c.kind.status()
		if got != c.want || ok != c.ok {
			t.Errorf("status(%q) = %q,%v; want %q,%v", c.kind, got, ok, c.want, c.ok)
		}
	}
}

type fakeAuditStore struct {
	mu    sync.Mutex
	snaps []audit.Snapshot
}

func (f *fakeAuditStore) WriteEntries(_ context.Context, _ []audit.Entry) error { return nil }

func (f *fakeAuditStore) SaveSnapshot(_ context.Context, s audit.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, s)
	return nil
}

func (f *fakeAuditStore) PruneBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

func (f *fakeAuditStore) Close() error { return nil }

func (f *fakeAuditStore) snapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps)
}

func TestSnapshotPersistsThroughRecorder(t *testing.T) {
	fake := &fakeAuditStore{}
	rec := audit.NewRecorder(fake, logger.Nop())
	t.Cleanup(func() { rec.Close() })

	e := newEngine(t, rec)
	if err := e.LoadNetwork(engStations(), engSections()); err != nil {
		t.Fatal(err)
	}
	contestedPair(t, e)

	if err := e.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if fake.snapshotCount() != 1 {
		t.Fatalf("expected 1 persisted snapshot, got %d", fake.snapshotCount())
	}
	fake.mu.Lock()
	trains := fake.snaps[0].Trains
	fake.mu.Unlock()
	if trains != 2 {
		t.Errorf("expected snapshot of 2 trains, got %d", trains)
	}

	// Upserts are audited through the same recorder.
	if len(rec.Recent(10)) == 0 {
		t.Error("expected audit entries from the upserts")
	}
}

func TestSnapshotWithoutRecorderIsNoop(t *testing.T) {
	e := loadedEngine(t)
	if err := e.Snapshot(context.Background()); err != nil {
		t.Errorf("nil recorder should make Snapshot a no-op, got %v", err)
	}
}
