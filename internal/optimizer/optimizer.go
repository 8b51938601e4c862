// Package optimizer resolves detected schedule conflicts by assigning
// discrete delay steps and reroutes to trains. A greedy precedence pass
// clears conflicts one at a time, then a seeded local search trims the
// result while the objective improves. Identical input and configuration
// always produce identical decisions.
package optimizer

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/AntoniyaJency/railopt/internal/common/logger"
	"github.com/AntoniyaJency/railopt/internal/conflict"
	"github.com/AntoniyaJency/railopt/internal/network"
	"github.com/AntoniyaJency/railopt/pkg/railway"
)

// DefaultTypeWeights makes premium services costlier to delay, so they keep
// precedence through contested sections.
var DefaultTypeWeights = map[railway.TrainType]float64{
	railway.TypeSpecial:     2.0,
	railway.TypeExpress:     1.5,
	railway.TypeLocal:       1.0,
	railway.TypeFreight:     0.7,
	railway.TypeMaintenance: 0.5,
}

const (
	DefaultHorizonMin        = 60
	MaxHorizonMin            = 480
	DefaultDelayStepMin      = 1
	DefaultMaxDelayMin       = 60
	DefaultMaxIterations     = 1000
	DefaultTimeBudget        = 30 * time.Second
	DefaultUnresolvedPenalty = 10000.0
)

// Config bounds a single optimization run. The zero value is not useful;
// start from DefaultConfig or rely on Normalized to fill the gaps.
type Config struct {
	HorizonMin        int                           `json:"horizon_minutes"`
	DelayStepMin      int                           `json:"delay_step_minutes"`
	MaxDelayMin       int                           `json:"max_delay_minutes"`
	MaxIterations     int                           `json:"max_iterations"`
	TimeBudget        time.Duration                 `json:"time_budget"`
	EnableReroute     bool                          `json:"enable_reroute"`
	Seed              int64                         `json:"seed"`
	PriorityWeights   map[railway.TrainType]float64 `json:"priority_weights,omitempty"`
	UnresolvedPenalty float64                       `json:"unresolved_penalty"`
}

func DefaultConfig() Config {
	return Config{
		HorizonMin:        DefaultHorizonMin,
		DelayStepMin:      DefaultDelayStepMin,
		MaxDelayMin:       DefaultMaxDelayMin,
		MaxIterations:     DefaultMaxIterations,
		TimeBudget:        DefaultTimeBudget,
		EnableReroute:     true,
		Seed:              1,
		UnresolvedPenalty: DefaultUnresolvedPenalty,
	}
}

// Normalized fills zero fields with defaults and clamps the horizon to the
// supported planning range. A zero horizon stays zero: it means an empty
// planning window, not a missing value.
func (c Config) Normalized() Config {
	if c.DelayStepMin <= 0 {
		c.DelayStepMin = DefaultDelayStepMin
	}
	if c.MaxDelayMin <= 0 {
		c.MaxDelayMin = DefaultMaxDelayMin
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.TimeBudget <= 0 {
		c.TimeBudget = DefaultTimeBudget
	}
	if c.UnresolvedPenalty <= 0 {
		c.UnresolvedPenalty = DefaultUnresolvedPenalty
	}
	if c.PriorityWeights == nil {
		c.PriorityWeights = DefaultTypeWeights
	}
	if c.HorizonMin < 0 {
		c.HorizonMin = 0
	}
	if c.HorizonMin > MaxHorizonMin {
		c.HorizonMin = MaxHorizonMin
	}
	return c
}

// weight is the per-minute cost of delaying a train: class weight scaled
// linearly by the 1..10 priority.
func (c Config) weight(t railway.Train) float64 {
	w, ok := c.PriorityWeights[t.Type]
	if !ok {
		w = 1.0
	}
	return w * float64(t.Priority)
}

// Optimizer turns conflict reports into schedule adjustments.
type Optimizer struct {
	det *conflict.Detector
	log logger.Logger
}

func New(det *conflict.Detector, log logger.Logger) *Optimizer {
	return &Optimizer{det: det, log: log}
}

// Optimize resolves every conflict it can within cfg's degrees of freedom.
// The input trains are never mutated; decisions come back as adjustments.
// Cancelling ctx or exhausting the time budget stops the run with the best
// result found so far.
func (o *Optimizer) Optimize(ctx context.Context, net *network.Network, trains []railway.Train, horizon railway.Horizon, cfg Config) railway.OptimizationResult {
	cfg = cfg.Normalized()
	start := time.Now()

	s := &solver{
		cfg:      cfg,
		net:      net,
		det:      o.det,
		log:      o.log,
		horizon:  horizon,
		base:     trains,
		byID:     make(map[railway.TrainID]railway.Train, len(trains)),
		adjs:     make(map[railway.TrainID]adjustment),
		pinned:   make(map[string]bool),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		deadline: start.Add(cfg.TimeBudget),
	}
	for _, t := range trains {
		s.byID[t.ID] = t
	}

	initial := len(s.detect().Conflicts)
	o.log.Info("optimization started",
		"trains", len(trains),
		"conflicts", initial,
		"horizon_from", horizon.From.Format(time.RFC3339),
		"horizon_to", horizon.To.Format(time.RFC3339))

	if initial == 0 {
		return railway.OptimizationResult{
			Status:  railway.SolveOptimal,
			Elapsed: time.Since(start),
		}
	}

	s.greedy(ctx)
	converged := s.localSearch(ctx)
	res := s.result(initial, converged, start)

	o.log.Info("optimization finished",
		"status", string(res.Status),
		"resolved", res.ConflictsResolved,
		"unresolved", len(res.Unresolved),
		"total_delay_minutes", res.TotalDelayMin,
		"iterations", res.Iterations)
	return res
}

// adjustment is the working decision for one train. The reroute slice is
// only ever replaced wholesale, never appended to, so snapshots may share it.
type adjustment struct {
	delayMin int
	reroute  []railway.SectionID
}

func (a adjustment) empty() bool {
	return a.delayMin == 0 && a.reroute == nil
}

// resolution records how one conflict was cleared, for the local search to
// revisit.
type resolution struct {
	conflict railway.Conflict
	winner   railway.TrainID
	loser    railway.TrainID
	rerouted bool
	amount   int
}

type solver struct {
	cfg     Config
	net     *network.Network
	det     *conflict.Detector
	log     logger.Logger
	horizon railway.Horizon

	base []railway.Train
	byID map[railway.TrainID]railway.Train

	adjs        map[railway.TrainID]adjustment
	pinned      map[string]bool
	resolutions []resolution

	rng        *rand.Rand
	iterations int
	deadline   time.Time
}

func (s *solver) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return !time.Now().Before(s.deadline)
}

// current returns the train as the candidate schedule sees it.
func (s *solver) current(id railway.TrainID) railway.Train {
	t := s.byID[id].Clone()
	if a, ok := s.adjs[id]; ok {
		t.DelayMin += a.delayMin
		if a.reroute != nil {
			t.Itinerary = append([]railway.SectionID(nil), a.reroute...)
		}
	}
	return t
}

func (s *solver) applied() []railway.Train {
	out := make([]railway.Train, len(s.base))
	for i, t := range s.base {
		out[i] = s.current(t.ID)
	}
	return out
}

func (s *solver) detect() railway.ConflictReport {
	return s.det.Detect(s.net, s.applied(), s.horizon)
}

// objective sums weighted added delay plus the penalty for every conflict
// still standing. Summed in train order so float addition is reproducible.
func (s *solver) objective(unresolved int) float64 {
	obj := s.cfg.UnresolvedPenalty * float64(unresolved)
	for _, t := range s.base {
		if a, ok := s.adjs[t.ID]; ok && a.delayMin > 0 {
			obj += s.cfg.weight(t) * float64(a.delayMin)
		}
	}
	return obj
}

// greedy clears conflicts in detection order: the train with precedence
// holds its path and the other absorbs the smallest delay that restores
// separation. Conflicts that cannot be cleared are pinned so the loop
// always terminates.
func (s *solver) greedy(ctx context.Context) {
	for s.iterations < s.cfg.MaxIterations {
		if s.stopped(ctx) {
			return
		}
		s.iterations++
		c, open := s.nextOpen(s.detect().Conflicts)
		if !open {
			return
		}
		s.resolve(c)
	}
}

func (s *solver) nextOpen(cs []railway.Conflict) (railway.Conflict, bool) {
	for _, c := range cs {
		if !s.pinned[conflictKey(c)] {
			return c, true
		}
	}
	return railway.Conflict{}, false
}

func (s *solver) resolve(c railway.Conflict) {
	a := s.current(c.Train1)
	b := s.current(c.Train2)
	holdA, okA := s.hold(a, c)
	holdB, okB := s.hold(b, c)
	if !okA || !okB {
		s.pin(c)
		return
	}

	loserID := s.precedenceLoser(a, b)
	loser, winner := a, b
	loserHold, winnerHold := holdA, holdB
	if loserID == b.ID {
		loser, winner = b, a
		loserHold, winnerHold = holdB, holdA
	}

	need := winnerHold.paddedEnd.Sub(loserHold.entry)
	if need <= 0 {
		return
	}

	steps := stepCeil(need, s.cfg.DelayStepMin)
	adj := s.adjs[loser.ID]
	if adj.delayMin+steps <= s.cfg.MaxDelayMin {
		adj.delayMin += steps
		s.adjs[loser.ID] = adj
		s.resolutions = append(s.resolutions, resolution{
			conflict: c, winner: winner.ID, loser: loser.ID, amount: steps,
		})
		s.log.Debug("conflict resolved by delay",
			"type", string(c.Type),
			"loser", string(loser.ID),
			"winner", string(winner.ID),
			"delay_minutes", steps)
		return
	}

	if s.cfg.EnableReroute && c.Section != "" {
		avoid := map[railway.SectionID]bool{c.Section: true}
		if alt, err := s.net.RouteAvoiding(loser.Origin, loser.Destination, avoid); err == nil {
			adj.reroute = alt
			s.adjs[loser.ID] = adj
			s.resolutions = append(s.resolutions, resolution{
				conflict: c, winner: winner.ID, loser: loser.ID, rerouted: true,
			})
			s.log.Debug("conflict resolved by reroute",
				"loser", string(loser.ID),
				"around", string(c.Section))
			return
		}
	}

	s.pin(c)
}

func (s *solver) pin(c railway.Conflict) {
	s.pinned[conflictKey(c)] = true
	s.log.Debug("conflict pinned as unresolved",
		"type", string(c.Type),
		"train1", string(c.Train1),
		"train2", string(c.Train2))
}

// precedenceLoser picks the train that absorbs the delay: the lighter one,
// then on equal weight the later-departing one, then the higher ID.
func (s *solver) precedenceLoser(a, b railway.Train) railway.TrainID {
	wa, wb := s.cfg.weight(a), s.cfg.weight(b)
	if wa != wb {
		if wa < wb {
			return a.ID
		}
		return b.ID
	}
	if !a.ScheduledDeparture.Equal(b.ScheduledDeparture) {
		if a.ScheduledDeparture.After(b.ScheduledDeparture) {
			return a.ID
		}
		return b.ID
	}
	if a.ID > b.ID {
		return a.ID
	}
	return b.ID
}

// hold is one train's claim on the contested resource: when it arrives and
// when the resource is free for the next train.
type hold struct {
	entry     time.Time
	paddedEnd time.Time
}

func (s *solver) hold(t railway.Train, c railway.Conflict) (hold, bool) {
	occ, err := conflict.Plan(s.net, t)
	if err != nil || len(occ) == 0 {
		return hold{}, false
	}
	if c.Section != "" {
		sec, err := s.net.Section(c.Section)
		if err != nil {
			return hold{}, false
		}
		for _, o := range occ {
			if o.Section == c.Section {
				return hold{entry: o.EntersAt, paddedEnd: o.ClearsAt.Add(sec.Headway())}, true
			}
		}
		return hold{}, false
	}
	if first := occ[0]; first.From == c.Station {
		return hold{entry: first.EntersAt, paddedEnd: first.EntersAt.Add(conflict.PlatformWindow)}, true
	}
	if last := occ[len(occ)-1]; last.To == c.Station {
		return hold{entry: last.ClearsAt, paddedEnd: last.ClearsAt.Add(conflict.PlatformWindow)}, true
	}
	return hold{}, false
}

func stepCeil(d time.Duration, stepMin int) int {
	step := time.Duration(stepMin) * time.Minute
	n := int(d / step)
	if d%step != 0 {
		n++
	}
	return n * stepMin
}

func conflictKey(c railway.Conflict) string {
	return string(c.Train1) + "|" + string(c.Train2) + "|" + string(c.Section) + "|" + string(c.Station) + "|" + string(c.Type)
}

// result assembles the final report from whatever state the run reached.
func (s *solver) result(initial int, converged bool, start time.Time) railway.OptimizationResult {
	report := s.detect()
	res := railway.OptimizationResult{
		Unresolved: report.Conflicts,
		Iterations: s.iterations,
	}
	for _, t := range s.base {
		a, ok := s.adjs[t.ID]
		if !ok || a.empty() {
			continue
		}
		var reroute []railway.SectionID
		if a.reroute != nil {
			reroute = append([]railway.SectionID(nil), a.reroute...)
		}
		res.Adjustments = append(res.Adjustments, railway.ScheduleAdjustment{
			Train:    t.ID,
			DelayMin: a.delayMin,
			Reroute:  reroute,
		})
		res.TotalDelayMin += a.delayMin
	}
	sort.Slice(res.Adjustments, func(i, j int) bool {
		return res.Adjustments[i].Train < res.Adjustments[j].Train
	})

	remaining := len(report.Conflicts)
	if initial > remaining {
		res.ConflictsResolved = initial - remaining
	}
	res.Objective = s.objective(remaining)
	switch {
	case remaining > 0:
		res.Status = railway.SolveInfeasible
	case converged:
		res.Status = railway.SolveOptimal
	default:
		res.Status = railway.SolveFeasible
	}
	res.Elapsed = time.Since(start)
	return res
}
