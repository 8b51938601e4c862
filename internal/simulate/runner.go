// Package simulate evaluates what-if scenarios against cloned schedule
// state. Every run works on its own deep copies, so concurrent scenarios
// are independent and the live system never observes them.
package simulate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AntoniyaJency/railopt/internal/common/logger"
	"github.com/AntoniyaJency/railopt/internal/conflict"
	"github.com/AntoniyaJency/railopt/internal/metrics"
	"github.com/AntoniyaJency/railopt/internal/network"
	"github.com/AntoniyaJency/railopt/internal/optimizer"
	"github.com/AntoniyaJency/railopt/pkg/railway"
)

// Runner executes scenarios: clone, modify, detect, optimize, compare.
type Runner struct {
	det *conflict.Detector
	opt *optimizer.Optimizer
	log logger.Logger
	now func() time.Time
}

func NewRunner(det *conflict.Detector, opt *optimizer.Optimizer, log logger.Logger) *Runner {
	return &Runner{det: det, opt: opt, log: log, now: time.Now}
}

// SetClock overrides the time source.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Run plays a scenario against copies of the given network and trains and
// reports how the optimized outcome compares with the optimized baseline.
// Both sides run with the same configuration and seed, so the difference
// is attributable to the modifications alone. A filter matching nothing is
// a warning, not a failure: the scenario proceeds without that change.
func (r *Runner) Run(ctx context.Context, net *network.Network, trains []railway.Train, scenario railway.Scenario, cfg optimizer.Config) (railway.SimulationResult, error) {
	cfg = cfg.Normalized()
	start := r.now()
	horizon := railway.Horizon{From: start, To: start.Add(time.Duration(cfg.HorizonMin) * time.Minute)}

	modNet := net.Clone()
	modTrains := cloneTrains(trains)
	var warnings []string
	for _, m := range scenario.Modifications {
		matched, err := apply(modNet, modTrains, m)
		if err != nil {
			return railway.SimulationResult{}, fmt.Errorf("scenario %q: %w", scenario.Name, err)
		}
		if matched == 0 {
			w := fmt.Errorf("%w: %s", railway.ErrNoMatch, m.Describe())
			warnings = append(warnings, w.Error())
			r.log.Warn("scenario modification matched nothing",
				"scenario", scenario.Name,
				"modification", m.Describe())
		}
	}

	baseTrains := cloneTrains(trains)
	baseReport := r.det.Detect(net, baseTrains, horizon)
	baseRes := r.opt.Optimize(ctx, net, baseTrains, horizon, cfg)
	basePost := playback(baseTrains, baseRes.Adjustments)

	modReport := r.det.Detect(modNet, modTrains, horizon)
	modRes := r.opt.Optimize(ctx, modNet, modTrains, horizon, cfg)
	modPost := playback(modTrains, modRes.Adjustments)

	res := railway.SimulationResult{
		Scenario:             scenario.Name,
		RunID:                uuid.NewString(),
		BaseMetrics:          metrics.Compute(basePost, len(baseReport.Conflicts), start),
		ModifiedMetrics:      metrics.Compute(modPost, len(modReport.Conflicts), start),
		BaseOptimization:     baseRes.Summary(),
		ModifiedOptimization: modRes.Summary(),
		ImprovementPct:       improvement(baseRes.TotalDelayMin, modRes.TotalDelayMin),
		Warnings:             warnings,
		Elapsed:              time.Since(start),
	}

	r.log.Info("simulation finished",
		"scenario", scenario.Name,
		"run_id", res.RunID,
		"base_status", string(baseRes.Status),
		"modified_status", string(modRes.Status),
		"improvement_pct", res.ImprovementPct,
		"warnings", len(warnings))
	return res, nil
}

// improvement is the relative delay saved by the modification, in percent.
func improvement(baseDelayMin, modDelayMin int) float64 {
	if baseDelayMin == 0 {
		return 0
	}
	return float64(baseDelayMin-modDelayMin) / float64(baseDelayMin) * 100
}

func cloneTrains(trains []railway.Train) []railway.Train {
	out := make([]railway.Train, len(trains))
	for i, t := range trains {
		out[i] = t.Clone()
	}
	return out
}

// playback applies optimizer decisions to a cloned schedule the way the
// live store would, so post-optimization metrics reflect them.
func playback(trains []railway.Train, adjs []railway.ScheduleAdjustment) []railway.Train {
	out := cloneTrains(trains)
	for _, adj := range adjs {
		for i := range out {
			if out[i].ID != adj.Train {
				continue
			}
			if adj.DelayMin > 0 {
				out[i].DelayMin += adj.DelayMin
				out[i].Status = railway.StatusDelayed
			}
			if adj.Reroute != nil {
				out[i].Itinerary = append([]railway.SectionID(nil), adj.Reroute...)
			}
			if adj.Cancelled {
				out[i].Status = railway.StatusCancelled
			}
		}
	}
	return out
}

// apply dispatches one modification against the cloned state and returns
// how many targets it touched.
func apply(net *network.Network, trains []railway.Train, m railway.Modification) (int, error) {
	switch mod := m.(type) {
	case railway.DelayTrains:
		return applyDelay(trains, mod), nil
	case railway.CancelTrains:
		return applyCancel(trains, mod), nil
	case railway.ReduceCapacity:
		return applyCapacity(net, mod)
	case railway.ChangePriority:
		return applyPriority(trains, mod), nil
	default:
		return 0, fmt.Errorf("unsupported modification kind %q", m.Kind())
	}
}

// applyDelay pushes the scheduled times back and marks the train delayed.
func applyDelay(trains []railway.Train, mod railway.DelayTrains) int {
	shift := time.Duration(mod.Minutes) * time.Minute
	matched := 0
	for i := range trains {
		if !mod.Filter.Matches(trains[i]) {
			continue
		}
		trains[i].ScheduledDeparture = trains[i].ScheduledDeparture.Add(shift)
		trains[i].ScheduledArrival = trains[i].ScheduledArrival.Add(shift)
		trains[i].Status = railway.StatusDelayed
		matched++
	}
	return matched
}

// applyCancel cancels up to Limit matches in departure order.
func applyCancel(trains []railway.Train, mod railway.CancelTrains) int {
	idx := make([]int, 0, len(trains))
	for i := range trains {
		if mod.Filter.Matches(trains[i]) {
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(a, b int) bool {
		ta, tb := trains[idx[a]], trains[idx[b]]
		if !ta.ScheduledDeparture.Equal(tb.ScheduledDeparture) {
			return ta.ScheduledDeparture.Before(tb.ScheduledDeparture)
		}
		return ta.ID < tb.ID
	})
	if mod.Limit > 0 && len(idx) > mod.Limit {
		idx = idx[:mod.Limit]
	}
	for _, i := range idx {
		trains[i].Status = railway.StatusCancelled
	}
	return len(idx)
}

// applyCapacity scales matching sections, never below one track.
func applyCapacity(net *network.Network, mod railway.ReduceCapacity) (int, error) {
	matched := 0
	for _, sec := range net.Sections() {
		if !mod.Filter.Matches(sec) {
			continue
		}
		sec.Capacity = int(math.Floor(float64(sec.Capacity) * mod.Factor))
		if sec.Capacity < 1 {
			sec.Capacity = 1
		}
		if err := net.SetSection(sec); err != nil {
			return matched, fmt.Errorf("reducing capacity of %s: %w", sec.ID, err)
		}
		matched++
	}
	return matched, nil
}

// applyPriority reassigns priority within the valid 1..10 band.
func applyPriority(trains []railway.Train, mod railway.ChangePriority) int {
	p := mod.Priority
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	matched := 0
	for i := range trains {
		if !mod.Filter.Matches(trains[i]) {
			continue
		}
		trains[i].Priority = p
		matched++
	}
	return matched
}

// BuiltinScenarios is the canonical what-if catalog exposed to dashboards.
func BuiltinScenarios() []railway.Scenario {
	return []railway.Scenario{
		{
			Name:        "Train Delay Impact",
			Description: "Impact of a 30 minute delay on every express service",
			Modifications: []railway.Modification{
				railway.DelayTrains{Filter: railway.TrainFilter{Type: railway.TypeExpress}, Minutes: 30},
			},
		},
		{
			Name:        "Train Cancellation",
			Description: "Cancellation of one local service",
			Modifications: []railway.Modification{
				railway.CancelTrains{Filter: railway.TrainFilter{Type: railway.TypeLocal}, Limit: 1},
			},
		},
		{
			Name:        "Track Maintenance",
			Description: "Maintenance halving Main Line capacity",
			Modifications: []railway.Modification{
				railway.ReduceCapacity{Filter: railway.SectionFilter{Name: "Main Line"}, Factor: 0.5},
			},
		},
		{
			Name:        "Priority Adjustment",
			Description: "Freight services raised to priority 8",
			Modifications: []railway.Modification{
				railway.ChangePriority{Filter: railway.TrainFilter{Type: railway.TypeFreight}, Priority: 8},
			},
		},
	}
}
