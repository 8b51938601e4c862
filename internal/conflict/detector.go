// Package conflict derives per-section occupancy intervals from train
// schedules and scans them for separation violations. Detection is a pure
// function of (network, trains, horizon): identical inputs always produce
// the identical ordered conflict list.
package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/AntoniyaJency/railopt/internal/common/logger"
	"github.com/AntoniyaJency/railopt/internal/network"
	"github.com/AntoniyaJency/railopt/pkg/railway"
)

// PlatformWindow is how long one arrival or departure holds a platform.
const PlatformWindow = 5 * time.Minute

// Detector scans a network and a set of trains for schedule conflicts.
type Detector struct {
	log logger.Logger
}

func NewDetector(log logger.Logger) *Detector {
	return &Detector{log: log}
}

// Plan derives the ordered occupancy intervals for one train. The itinerary
// must start at the train's origin; an empty itinerary falls back to the
// shortest route. Traversal of a section takes LengthKm / min(train speed,
// section max speed) hours and consecutive sections abut.
func Plan(net *network.Network, tr railway.Train) ([]railway.OccupancyInterval, error) {
	itinerary := tr.Itinerary
	if len(itinerary) == 0 {
		route, err := net.Route(tr.Origin, tr.Destination)
		if err != nil {
			return nil, fmt.Errorf("deriving route %s to %s: %w", tr.Origin, tr.Destination, err)
		}
		itinerary = route
	}

	stops, err := net.Walk(tr.Origin, itinerary)
	if err != nil {
		return nil, err
	}

	entry := tr.EffectiveDeparture()
	out := make([]railway.OccupancyInterval, 0, len(itinerary))
	for i, id := range itinerary {
		sec, err := net.Section(id)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", id, railway.ErrInvalidItinerary)
		}
		clears := entry.Add(traversal(sec, tr.SpeedKmh))
		out = append(out, railway.OccupancyInterval{
			Train:    tr.ID,
			Section:  id,
			From:     stops[i],
			To:       stops[i+1],
			EntersAt: entry,
			ClearsAt: clears,
		})
		entry = clears
	}
	return out, nil
}

func traversal(sec railway.TrackSection, trainSpeedKmh float64) time.Duration {
	speed := sec.MaxSpeedKmh
	if trainSpeedKmh > 0 && trainSpeedKmh < speed {
		speed = trainSpeedKmh
	}
	return time.Duration(sec.LengthKm / speed * float64(time.Hour))
}

// platformVisit is one train holding a platform at a station for
// PlatformWindow starting at the scheduled instant.
type platformVisit struct {
	train   railway.TrainID
	station railway.StationID
	at      time.Time
}

// Detect builds occupancies for every train active within the horizon and
// reports every separation violation. Trains whose itinerary cannot be
// resolved are excluded and surfaced in Skipped; the scan continues for the
// rest. A cancelled, arrived or maintenance train occupies nothing.
func (d *Detector) Detect(net *network.Network, trains []railway.Train, horizon railway.Horizon) railway.ConflictReport {
	report := railway.ConflictReport{Horizon: horizon}
	if horizon.Empty() {
		return report
	}

	var occupancies []railway.OccupancyInterval
	var visits []platformVisit
	for _, tr := range trains {
		if !activeStatus(tr.Status) {
			continue
		}
		occ, err := Plan(net, tr)
		if err != nil {
			report.Skipped = append(report.Skipped, railway.TrainIssue{Train: tr.ID, Reason: err.Error()})
			d.log.Warn("train excluded from conflict detection", "train_id", string(tr.ID), "reason", err.Error())
			continue
		}
		if len(occ) == 0 {
			continue
		}
		if !horizon.Overlaps(occ[0].EntersAt, occ[len(occ)-1].ClearsAt) {
			continue
		}
		occupancies = append(occupancies, occ...)
		visits = append(visits,
			platformVisit{train: tr.ID, station: occ[0].From, at: occ[0].EntersAt},
			platformVisit{train: tr.ID, station: occ[len(occ)-1].To, at: occ[len(occ)-1].ClearsAt},
		)
	}

	conflicts := d.scanSections(net, occupancies)
	conflicts = append(conflicts, d.scanPlatforms(net, visits)...)
	sortConflicts(conflicts)
	report.Conflicts = conflicts
	return report
}

func activeStatus(s railway.TrainStatus) bool {
	switch s {
	case railway.StatusCancelled, railway.StatusArrived, railway.StatusMaintenance:
		return false
	}
	return true
}

// scanSections groups occupancies per section and checks each group against
// the section's capacity and headway.
func (d *Detector) scanSections(net *network.Network, occs []railway.OccupancyInterval) []railway.Conflict {
	bySection := make(map[railway.SectionID][]railway.OccupancyInterval)
	for _, o := range occs {
		bySection[o.Section] = append(bySection[o.Section], o)
	}

	var out []railway.Conflict
	for id, group := range bySection {
		if len(group) < 2 {
			continue
		}
		sec, err := net.Section(id)
		if err != nil {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if !group[i].EntersAt.Equal(group[j].EntersAt) {
				return group[i].EntersAt.Before(group[j].EntersAt)
			}
			return group[i].Train < group[j].Train
		})
		if sec.Capacity == 1 {
			out = append(out, singleTrackConflicts(group, sec)...)
		} else {
			out = append(out, capacityConflicts(group, sec)...)
		}
	}
	return out
}

// singleTrackConflicts checks every pair on a capacity-1 section. Trains
// running the same way violate headway; trains running toward each other
// contest the single line.
func singleTrackConflicts(group []railway.OccupancyInterval, sec railway.TrackSection) []railway.Conflict {
	pad := sec.Headway()
	var out []railway.Conflict
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			earlier, later := group[i], group[j]
			if earlier.Train == later.Train {
				continue
			}
			if !later.EntersAt.Before(earlier.ClearsAt.Add(pad)) {
				continue
			}
			typ := railway.ConflictHeadway
			if earlier.From == later.To && earlier.To == later.From {
				typ = railway.ConflictSingleLine
			}
			out = append(out, newConflict(earlier, later, typ, pad))
		}
	}
	return out
}

// capacityConflicts sweeps a multi-track section in entry order. When an
// arrival would push the padded occupant count past capacity, the entering
// train is paired with the occupant holding the section longest.
func capacityConflicts(group []railway.OccupancyInterval, sec railway.TrackSection) []railway.Conflict {
	pad := sec.Headway()
	var out []railway.Conflict
	var active []railway.OccupancyInterval
	for _, o := range group {
		kept := active[:0]
		for _, a := range active {
			if a.Train == o.Train {
				continue
			}
			if a.ClearsAt.Add(pad).After(o.EntersAt) {
				kept = append(kept, a)
			}
		}
		active = kept
		if len(active)+1 > sec.Capacity {
			blocker := active[0]
			for _, a := range active[1:] {
				ac, bc := a.ClearsAt.Add(pad), blocker.ClearsAt.Add(pad)
				if ac.After(bc) || (ac.Equal(bc) && a.Train < blocker.Train) {
					blocker = a
				}
			}
			out = append(out, newConflict(blocker, o, railway.ConflictCapacity, pad))
		}
		active = append(active, o)
	}
	return out
}

// scanPlatforms sweeps station visits the same way capacity sections are
// swept, against the station's platform count.
func (d *Detector) scanPlatforms(net *network.Network, visits []platformVisit) []railway.Conflict {
	byStation := make(map[railway.StationID][]platformVisit)
	for _, v := range visits {
		byStation[v.station] = append(byStation[v.station], v)
	}

	var out []railway.Conflict
	for id, group := range byStation {
		if len(group) < 2 {
			continue
		}
		sta, err := net.Station(id)
		if err != nil {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if !group[i].at.Equal(group[j].at) {
				return group[i].at.Before(group[j].at)
			}
			return group[i].train < group[j].train
		})
		var active []platformVisit
		for _, v := range group {
			kept := active[:0]
			for _, a := range active {
				if a.train == v.train {
					continue
				}
				if a.at.Add(PlatformWindow).After(v.at) {
					kept = append(kept, a)
				}
			}
			active = kept
			if len(active)+1 > sta.Platforms {
				blocker := active[0]
				for _, a := range active[1:] {
					if a.at.After(blocker.at) || (a.at.Equal(blocker.at) && a.train < blocker.train) {
						blocker = a
					}
				}
				overlap := blocker.at.Add(PlatformWindow).Sub(v.at)
				t1, t2 := blocker.train, v.train
				if t2 < t1 {
					t1, t2 = t2, t1
				}
				out = append(out, railway.Conflict{
					Train1:   t1,
					Train2:   t2,
					Station:  id,
					Type:     railway.ConflictPlatform,
					Severity: clamp01(float64(overlap) / float64(PlatformWindow)),
					Overlap:  overlap,
					At:       v.at,
				})
			}
			active = append(active, v)
		}
	}
	return out
}

// newConflict records the later train violating the earlier train's padded
// hold. Overlap is the shortfall against the required separation, so
// delaying the later train by at least Overlap clears the pair.
func newConflict(earlier, later railway.OccupancyInterval, typ railway.ConflictType, pad time.Duration) railway.Conflict {
	overlap := earlier.ClearsAt.Add(pad).Sub(later.EntersAt)
	t1, t2 := earlier.Train, later.Train
	if t2 < t1 {
		t1, t2 = t2, t1
	}
	return railway.Conflict{
		Train1:   t1,
		Train2:   t2,
		Section:  later.Section,
		Type:     typ,
		Severity: clamp01(float64(overlap) / float64(pad)),
		Overlap:  overlap,
		At:       later.EntersAt,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sortConflicts(cs []railway.Conflict) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		if a.Section != b.Section {
			return a.Section < b.Section
		}
		if a.Station != b.Station {
			return a.Station < b.Station
		}
		if a.Train1 != b.Train1 {
			return a.Train1 < b.Train1
		}
		if a.Train2 != b.Train2 {
			return a.Train2 < b.Train2
		}
		return a.Type < b.Type
	})
}
