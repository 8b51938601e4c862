package simulate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/AntoniyaJency/railopt/internal/common/logger"
	"github.com/AntoniyaJency/railopt/internal/conflict"
	"github.com/AntoniyaJency/railopt/internal/network"
	"github.com/AntoniyaJency/railopt/internal/optimizer"
	"github.com/AntoniyaJency/railopt/pkg/railway"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func simNet(t *testing.T) *network.Network {
	t.Helper()
	n := network.New()
	for _, s := range []railway.Station{
		{ID: "A", Name: "Itarsi", Lat: 22.61, Lon: 77.76, Platforms: 4},
		{ID: "B", Name: "Bhopal", Lat: 23.27, Lon: 77.40, Platforms: 4},
		{ID: "C", Name: "Hoshangabad", Lat: 22.75, Lon: 77.72, Platforms: 4},
	} {
		if err := n.AddStation(s); err != nil {
			t.Fatal(err)
		}
	}
	for _, s := range []railway.TrackSection{
		{ID: "MAIN", Name: "Main Line", From: "A", To: "B", LengthKm: 60, MaxSpeedKmh: 120, Capacity: 1, HeadwayMin: 5},
		{ID: "LOOP1", Name: "Loop West", From: "A", To: "C", LengthKm: 30, MaxSpeedKmh: 120, Capacity: 2},
		{ID: "LOOP2", Name: "Loop East", From: "C", To: "B", LengthKm: 30, MaxSpeedKmh: 120, Capacity: 2},
	} {
		if err := n.AddSection(s); err != nil {
			t.Fatal(err)
		}
	}
	return n
}

func simTrain(id railway.TrainID, typ railway.TrainType, priority int, dep time.Time, itinerary ...railway.SectionID) railway.Train {
	dest := railway.StationID("B")
	if len(itinerary) == 1 && itinerary[0] == "LOOP1" {
		dest = "C"
	}
	return railway.Train{
		ID:                 id,
		Number:             string(id),
		Type:               typ,
		Priority:           priority,
		Origin:             "A",
		Destination:        dest,
		Itinerary:          itinerary,
		ScheduledDeparture: dep,
		ScheduledArrival:   dep.Add(time.Hour),
		Status:             railway.StatusScheduled,
	}
}

func newRunner() *Runner {
	det := conflict.NewDetector(logger.Nop())
	return NewRunner(det, optimizer.New(det, logger.Nop()), logger.Nop())
}

func fixedCfg() optimizer.Config {
	cfg := optimizer.DefaultConfig()
	cfg.HorizonMin = 480
	cfg.Seed = 7
	return cfg
}

// conflictedPair puts a local ten minutes behind an express on the single
// track main line; the baseline optimizer charges the local 25 minutes.
func conflictedPair() []railway.Train {
	return []railway.Train{
		simTrain("HI", railway.TypeExpress, 9, t0, "MAIN"),
		simTrain("LO", railway.TypeLocal, 3, t0.Add(10*time.Minute), "MAIN"),
	}
}

func runAt(t *testing.T, r *Runner, n *network.Network, trains []railway.Train, sc railway.Scenario) railway.SimulationResult {
	t.Helper()
	r.SetClock(func() time.Time { return t0.Add(-30 * time.Minute) })
	res, err := r.Run(context.Background(), n, trains, sc, fixedCfg())
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestRunDelayScenarioResolvesContention(t *testing.T) {
	n := simNet(t)
	r := newRunner()

	// Pushing the local 40 minutes out clears the main line entirely.
	sc := railway.Scenario{
		Name: "push the local",
		Modifications: []railway.Modification{
			railway.DelayTrains{Filter: railway.TrainFilter{Type: railway.TypeLocal}, Minutes: 40},
		},
	}
	res := runAt(t, r, n, conflictedPair(), sc)

	if res.Scenario != "push the local" || res.RunID == "" {
		t.Errorf("result not labelled: %+v", res)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
	if res.BaseOptimization.TotalDelayMin != 25 {
		t.Errorf("baseline should charge 25 minutes, got %d", res.BaseOptimization.TotalDelayMin)
	}
	if res.ModifiedOptimization.TotalDelayMin != 0 {
		t.Errorf("modified schedule should be clean, got %d", res.ModifiedOptimization.TotalDelayMin)
	}
	if res.ImprovementPct != 100 {
		t.Errorf("expected 100%% improvement, got %f", res.ImprovementPct)
	}
	if res.BaseMetrics.ConflictsDetected != 1 || res.ModifiedMetrics.ConflictsDetected != 0 {
		t.Errorf("conflict counts wrong: base %d modified %d",
			res.BaseMetrics.ConflictsDetected, res.ModifiedMetrics.ConflictsDetected)
	}
	// The schedule shift marks the local delayed in the modified world.
	if res.ModifiedMetrics.DelayedTrains != 1 {
		t.Errorf("expected the shifted local counted as delayed, got %d", res.ModifiedMetrics.DelayedTrains)
	}
}

func TestRunNoMatchIsWarningNotFailure(t *testing.T) {
	n := simNet(t)
	r := newRunner()

	sc := railway.Scenario{
		Name: "cancel nothing",
		Modifications: []railway.Modification{
			railway.CancelTrains{Filter: railway.TrainFilter{Type: railway.TypeMaintenance}, Limit: 1},
		},
	}
	res := runAt(t, r, n, conflictedPair(), sc)

	if len(res.Warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %v", res.Warnings)
	}
	if !strings.Contains(res.Warnings[0], railway.ErrNoMatch.Error()) {
		t.Errorf("warning should carry the no-match reason, got %q", res.Warnings[0])
	}
	if res.ImprovementPct != 0 {
		t.Errorf("no-op scenario must not move the needle, got %f", res.ImprovementPct)
	}
	if res.BaseOptimization != res.ModifiedOptimization {
		t.Errorf("both sides should be identical: %+v vs %+v",
			res.BaseOptimization, res.ModifiedOptimization)
	}
}

func TestRunCapacityReductionCreatesContention(t *testing.T) {
	n := simNet(t)
	r := newRunner()

	trains := []railway.Train{
		simTrain("L1", railway.TypeLocal, 5, t0, "LOOP1"),
		simTrain("L2", railway.TypeLocal, 5, t0.Add(5*time.Minute), "LOOP1"),
	}
	sc := railway.Scenario{
		Name: "single track the west loop",
		Modifications: []railway.Modification{
			railway.ReduceCapacity{Filter: railway.SectionFilter{ID: "LOOP1"}, Factor: 0.5},
		},
	}
	res := runAt(t, r, n, trains, sc)

	if res.BaseOptimization.TotalDelayMin != 0 {
		t.Errorf("two trains fit the double track, got %d", res.BaseOptimization.TotalDelayMin)
	}
	// Down to one track, the follower owes the 2 minute default headway
	// on top of the 10 minutes still to run when it would have entered.
	if res.ModifiedOptimization.TotalDelayMin != 12 {
		t.Errorf("expected 12 minutes under reduced capacity, got %d", res.ModifiedOptimization.TotalDelayMin)
	}
	if res.ImprovementPct != 0 {
		t.Errorf("zero baseline delay pins improvement at 0, got %f", res.ImprovementPct)
	}
}

func TestRunLeavesLiveStateUntouched(t *testing.T) {
	n := simNet(t)
	r := newRunner()

	trains := []railway.Train{
		simTrain("EXP", railway.TypeExpress, 9, t0, "MAIN"),
		simTrain("FRT", railway.TypeFreight, 2, t0.Add(5*time.Minute), "MAIN"),
		simTrain("L1", railway.TypeLocal, 5, t0.Add(20*time.Minute), "LOOP1"),
	}
	sc := railway.Scenario{
		Name: "everything at once",
		Modifications: []railway.Modification{
			railway.DelayTrains{Filter: railway.TrainFilter{Type: railway.TypeExpress}, Minutes: 30},
			railway.CancelTrains{Filter: railway.TrainFilter{Type: railway.TypeLocal}, Limit: 1},
			railway.ReduceCapacity{Filter: railway.SectionFilter{ID: "LOOP1"}, Factor: 0.5},
			railway.ChangePriority{Filter: railway.TrainFilter{Type: railway.TypeFreight}, Priority: 8},
		},
	}
	runAt(t, r, n, trains, sc)

	sec, err := n.Section("LOOP1")
	if err != nil {
		t.Fatal(err)
	}
	if sec.Capacity != 2 {
		t.Errorf("live network mutated: capacity %d", sec.Capacity)
	}
	for _, tr := range trains {
		if tr.Status != railway.StatusScheduled {
			t.Errorf("live train %s mutated: %s", tr.ID, tr.Status)
		}
	}
	if trains[1].Priority != 2 {
		t.Errorf("live freight priority mutated: %d", trains[1].Priority)
	}
	if !trains[0].ScheduledDeparture.Equal(t0) {
		t.Errorf("live schedule mutated: %v", trains[0].ScheduledDeparture)
	}
}

type bogusMod struct{}

func (bogusMod) Kind() string     { return "teleport_train" }
func (bogusMod) Describe() string { return "teleport_train" }

func TestRunRejectsUnknownModification(t *testing.T) {
	n := simNet(t)
	r := newRunner()
	r.SetClock(func() time.Time { return t0 })

	sc := railway.Scenario{Name: "bogus", Modifications: []railway.Modification{bogusMod{}}}
	_, err := r.Run(context.Background(), n, conflictedPair(), sc, fixedCfg())
	if err == nil || !strings.Contains(err.Error(), "teleport_train") {
		t.Errorf("expected unsupported-kind error, got %v", err)
	}
}

func TestRunDeterministicComparisons(t *testing.T) {
	n := simNet(t)
	r := newRunner()

	sc := BuiltinScenarios()[0]
	first := runAt(t, r, n, conflictedPair(), sc)
	second := runAt(t, r, n, conflictedPair(), sc)

	if first.RunID == second.RunID {
		t.Error("run ids should be unique per run")
	}
	if first.BaseOptimization != second.BaseOptimization ||
		first.ModifiedOptimization != second.ModifiedOptimization ||
		first.ImprovementPct != second.ImprovementPct {
		t.Errorf("same seed should compare identically:\n%+v\n%+v", first, second)
	}
}

func TestApplyCancelHonorsLimitAndOrder(t *testing.T) {
	trains := []railway.Train{
		simTrain("L2", railway.TypeLocal, 5, t0.Add(time.Hour), "LOOP1"),
		simTrain("L1", railway.TypeLocal, 5, t0, "LOOP1"),
		simTrain("L3", railway.TypeLocal, 5, t0.Add(30*time.Minute), "LOOP1"),
	}

	matched := applyCancel(trains, railway.CancelTrains{
		Filter: railway.TrainFilter{Type: railway.TypeLocal},
		Limit:  1,
	})
	if matched != 1 {
		t.Fatalf("expected 1 cancelled, got %d", matched)
	}
	if trains[1].Status != railway.StatusCancelled {
		t.Error("the earliest departure should be cancelled first")
	}
	if trains[0].Status == railway.StatusCancelled || trains[2].Status == railway.StatusCancelled {
		t.Error("limit 1 cancelled more than one train")
	}

	matched = applyCancel(trains, railway.CancelTrains{Filter: railway.TrainFilter{Type: railway.TypeLocal}})
	if matched != 3 {
		t.Errorf("no limit should cancel every match, got %d", matched)
	}
}

func TestApplyPriorityClamps(t *testing.T) {
	trains := []railway.Train{simTrain("F1", railway.TypeFreight, 5, t0, "MAIN")}

	applyPriority(trains, railway.ChangePriority{Filter: railway.TrainFilter{ID: "F1"}, Priority: 99})
	if trains[0].Priority != 10 {
		t.Errorf("expected clamp to 10, got %d", trains[0].Priority)
	}
	applyPriority(trains, railway.ChangePriority{Filter: railway.TrainFilter{ID: "F1"}, Priority: -4})
	if trains[0].Priority != 1 {
		t.Errorf("expected clamp to 1, got %d", trains[0].Priority)
	}
}

func TestBuiltinScenarioCatalog(t *testing.T) {
	scs := BuiltinScenarios()
	if len(scs) != 4 {
		t.Fatalf("expected 4 scenarios, got %d", len(scs))
	}
	wantKinds := []string{
		railway.KindDelayTrains,
		railway.KindCancelTrains,
		railway.KindReduceCapacity,
		railway.KindChangePriority,
	}
	for i, sc := range scs {
		if sc.Name == "" || len(sc.Modifications) != 1 {
			t.Errorf("scenario %d malformed: %+v", i, sc)
			continue
		}
		if got := sc.Modifications[0].Kind(); got != wantKinds[i] {
			t.Errorf("scenario %d: expected kind %s, got %s", i, wantKinds[i], got)
		}
	}
}
