package optimizer

import (
	"context"

	"github.com/AntoniyaJency/railopt/pkg/railway"
)

type moveKind int

const (
	moveTrim moveKind = iota
	moveSwap
	moveDropReroute
)

type move struct {
	kind  moveKind
	train railway.TrainID // trim target
	res   int             // resolution index for swap and drop
}

// localSearch revisits the greedy decisions while the objective improves:
// trim a delay to its minimal feasible value, swap who yielded at a
// conflict, or trade a reroute back for delay. Move order is shuffled by
// the seeded generator, so runs with the same seed walk the same path.
// Returns whether the search converged before budget or cancellation.
func (s *solver) localSearch(ctx context.Context) bool {
	if len(s.resolutions) == 0 {
		return true
	}
	bestUnresolved := len(s.detect().Conflicts)
	bestObj := s.objective(bestUnresolved)

	for {
		if s.stopped(ctx) || s.iterations >= s.cfg.MaxIterations {
			return false
		}
		moves := s.moveList()
		if len(moves) == 0 {
			return true
		}
		s.rng.Shuffle(len(moves), func(i, j int) { moves[i], moves[j] = moves[j], moves[i] })

		improved := false
		for _, m := range moves {
			if s.stopped(ctx) || s.iterations >= s.cfg.MaxIterations {
				return false
			}
			s.iterations++
			saved := s.snapshot()
			if !s.applyMove(m) {
				s.restore(saved)
				continue
			}
			unresolved := len(s.detect().Conflicts)
			obj := s.objective(unresolved)
			if unresolved <= bestUnresolved && obj < bestObj-1e-9 {
				bestUnresolved, bestObj = unresolved, obj
				improved = true
				break
			}
			s.restore(saved)
		}
		if !improved {
			return true
		}
	}
}

// moveList enumerates candidate moves in a fixed order: trims in train
// order, then one revisit per greedy resolution.
func (s *solver) moveList() []move {
	var out []move
	for _, t := range s.base {
		if a, ok := s.adjs[t.ID]; ok && a.delayMin >= s.cfg.DelayStepMin {
			out = append(out, move{kind: moveTrim, train: t.ID})
		}
	}
	for i, r := range s.resolutions {
		if r.rerouted {
			out = append(out, move{kind: moveDropReroute, res: i})
		} else {
			out = append(out, move{kind: moveSwap, res: i})
		}
	}
	return out
}

func (s *solver) applyMove(m move) bool {
	switch m.kind {
	case moveTrim:
		return s.applyTrim(m.train)
	case moveSwap:
		return s.applySwap(m.res)
	case moveDropReroute:
		return s.applyDropReroute(m.res)
	}
	return false
}

// applyTrim lowers one train's delay to the smallest step multiple that
// leaves the schedule no worse than it currently stands.
func (s *solver) applyTrim(id railway.TrainID) bool {
	a, ok := s.adjs[id]
	if !ok || a.delayMin < s.cfg.DelayStepMin {
		return false
	}
	limit := len(s.detect().Conflicts)
	orig := a.delayMin
	for d := 0; d < orig; d += s.cfg.DelayStepMin {
		a.delayMin = d
		s.adjs[id] = a
		if len(s.detect().Conflicts) <= limit {
			return true
		}
	}
	a.delayMin = orig
	s.adjs[id] = a
	return false
}

// applySwap reverses who yielded at a delay resolution: the original loser
// gets its time back and the winner is pushed behind it instead.
func (s *solver) applySwap(i int) bool {
	r := s.resolutions[i]
	if r.rerouted {
		return false
	}
	la, ok := s.adjs[r.loser]
	if !ok || la.delayMin == 0 {
		return false
	}
	if la.delayMin <= r.amount {
		la.delayMin = 0
	} else {
		la.delayMin -= r.amount
	}
	s.adjs[r.loser] = la

	lh, ok1 := s.hold(s.current(r.loser), r.conflict)
	wh, ok2 := s.hold(s.current(r.winner), r.conflict)
	if !ok1 || !ok2 {
		return false
	}
	need := lh.paddedEnd.Sub(wh.entry)
	if need > 0 {
		steps := stepCeil(need, s.cfg.DelayStepMin)
		wa := s.adjs[r.winner]
		if wa.delayMin+steps > s.cfg.MaxDelayMin {
			return false
		}
		wa.delayMin += steps
		s.adjs[r.winner] = wa
	}
	return true
}

// applyDropReroute puts the train back on its original path and buys the
// separation with delay instead.
func (s *solver) applyDropReroute(i int) bool {
	r := s.resolutions[i]
	if !r.rerouted {
		return false
	}
	a, ok := s.adjs[r.loser]
	if !ok || a.reroute == nil {
		return false
	}
	a.reroute = nil
	s.adjs[r.loser] = a

	lh, ok1 := s.hold(s.current(r.loser), r.conflict)
	wh, ok2 := s.hold(s.current(r.winner), r.conflict)
	if !ok1 || !ok2 {
		return false
	}
	need := wh.paddedEnd.Sub(lh.entry)
	if need > 0 {
		steps := stepCeil(need, s.cfg.DelayStepMin)
		if a.delayMin+steps > s.cfg.MaxDelayMin {
			return false
		}
		a.delayMin += steps
		s.adjs[r.loser] = a
	}
	return true
}

func (s *solver) snapshot() map[railway.TrainID]adjustment {
	out := make(map[railway.TrainID]adjustment, len(s.adjs))
	for k, v := range s.adjs {
		out[k] = v
	}
	return out
}

func (s *solver) restore(snap map[railway.TrainID]adjustment) {
	s.adjs = snap
}
