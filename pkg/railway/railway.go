// Package railway defines the entities exchanged between the network model,
// the train state store, the conflict detector, the optimizer and the
// simulation runner. Everything here is plain data; behaviour lives in the
// internal packages.
package railway

import (
	"fmt"
	"time"
)

type (
	StationID string
	SectionID string
	TrainID   string
)

// TrainType affects the optimizer's priority weighting.
type TrainType string

const (
	TypeExpress     TrainType = "express"
	TypeLocal       TrainType = "local"
	TypeFreight     TrainType = "freight"
	TypeSpecial     TrainType = "special"
	TypeMaintenance TrainType = "maintenance"
)

// Valid reports whether t is one of the known train types.
func (t TrainType) Valid() bool {
	switch t {
	case TypeExpress, TypeLocal, TypeFreight, TypeSpecial, TypeMaintenance:
		return true
	}
	return false
}

type TrainStatus string

const (
	StatusScheduled   TrainStatus = "scheduled"
	StatusRunning     TrainStatus = "running"
	StatusDelayed     TrainStatus = "delayed"
	StatusCancelled   TrainStatus = "cancelled"
	StatusMaintenance TrainStatus = "maintenance"
	StatusArrived     TrainStatus = "arrived"
)

// Valid reports whether s is one of the known statuses.
func (s TrainStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusRunning, StatusDelayed, StatusCancelled,
		StatusMaintenance, StatusArrived:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s TrainStatus) Terminal() bool {
	return s == StatusCancelled
}

// Station is immutable after network load.
type Station struct {
	ID        StationID `json:"id"`
	Name      string    `json:"name"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Platforms int       `json:"platforms"`
}

// DefaultHeadwayMin is the separation floor applied when a section does not
// specify its own minimum headway.
const DefaultHeadwayMin = 2.0

// TrackSection is a bidirectional segment of track between two stations.
// Capacity 1 means single-line working: one train at a time, either direction.
type TrackSection struct {
	ID          SectionID `json:"id"`
	Name        string    `json:"name"`
	From        StationID `json:"from"`
	To          StationID `json:"to"`
	LengthKm    float64   `json:"length_km"`
	MaxSpeedKmh float64   `json:"max_speed_kmh"`
	Capacity    int       `json:"capacity"`
	GradientPct float64   `json:"gradient_pct,omitempty"`
	HeadwayMin  float64   `json:"headway_min,omitempty"`
}

// Headway returns the minimum separation between consecutive occupants,
// falling back to DefaultHeadwayMin when the section does not set one.
func (s TrackSection) Headway() time.Duration {
	m := s.HeadwayMin
	if m <= 0 {
		m = DefaultHeadwayMin
	}
	return time.Duration(m * float64(time.Minute))
}

// Train is mutated only by the optimizer (delay, status, reroute) or by the
// external dispatch feed (position, speed). Dashboards read copies.
type Train struct {
	ID                 TrainID     `json:"id"`
	Number             string      `json:"number"`
	Type               TrainType   `json:"type"`
	Priority           int         `json:"priority"`
	Origin             StationID   `json:"origin"`
	Destination        StationID   `json:"destination"`
	ScheduledDeparture time.Time   `json:"scheduled_departure"`
	ScheduledArrival   time.Time   `json:"scheduled_arrival"`
	Itinerary          []SectionID `json:"itinerary,omitempty"`
	CurrentSection     SectionID   `json:"current_section,omitempty"`
	CurrentStation     StationID   `json:"current_station,omitempty"`
	SpeedKmh           float64     `json:"speed_kmh,omitempty"`
	LengthM            float64     `json:"length_m,omitempty"`
	WeightT            float64     `json:"weight_t,omitempty"`
	Status             TrainStatus `json:"status"`
	DelayMin           int         `json:"delay_minutes"`
	CreatedAt          time.Time   `json:"created_at,omitempty"`
	UpdatedAt          time.Time   `json:"updated_at,omitempty"`
}

// Validate checks the fields an upsert must reject early. Itinerary contents
// are validated against the network at detection time, not here.
func (t Train) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTrain)
	}
	if t.Number == "" {
		return fmt.Errorf("%w: train %s has no number", ErrInvalidTrain, t.ID)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: train %s has unknown type %q", ErrInvalidTrain, t.ID, t.Type)
	}
	if t.Priority < 1 || t.Priority > 10 {
		return fmt.Errorf("%w: train %s priority %d outside 1..10", ErrInvalidTrain, t.ID, t.Priority)
	}
	if t.Origin == "" || t.Destination == "" {
		return fmt.Errorf("%w: train %s missing origin or destination", ErrInvalidTrain, t.ID)
	}
	if t.Origin == t.Destination {
		return fmt.Errorf("%w: train %s origin equals destination", ErrInvalidTrain, t.ID)
	}
	if !t.ScheduledDeparture.Before(t.ScheduledArrival) {
		return fmt.Errorf("%w: train %s departs at or after its arrival", ErrInvalidTrain, t.ID)
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("%w: train %s has unknown status %q", ErrInvalidTrain, t.ID, t.Status)
	}
	return nil
}

// Clone returns a deep copy; the itinerary slice is never shared.
func (t Train) Clone() Train {
	c := t
	if t.Itinerary != nil {
		c.Itinerary = make([]SectionID, len(t.Itinerary))
		copy(c.Itinerary, t.Itinerary)
	}
	return c
}

// EffectiveDeparture is the scheduled departure shifted by the accumulated
// delay. Occupancy derivation starts from this instant.
func (t Train) EffectiveDeparture() time.Time {
	return t.ScheduledDeparture.Add(time.Duration(t.DelayMin) * time.Minute)
}

// Horizon is the planning window conflicts are detected within.
type Horizon struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Empty reports whether the window contains no time at all.
func (h Horizon) Empty() bool {
	return !h.From.Before(h.To)
}

// Overlaps reports whether [from, to) intersects the horizon.
func (h Horizon) Overlaps(from, to time.Time) bool {
	return from.Before(h.To) && to.After(h.From)
}

// OccupancyInterval records a train holding a section between two instants.
// Derived from itinerary and delay each detection run, never stored.
type OccupancyInterval struct {
	Train    TrainID   `json:"train_id"`
	Section  SectionID `json:"section_id"`
	From     StationID `json:"from"`
	To       StationID `json:"to"`
	EntersAt time.Time `json:"enters_at"`
	ClearsAt time.Time `json:"clears_at"`
}

type ConflictType string

const (
	ConflictHeadway    ConflictType = "headway"
	ConflictCapacity   ConflictType = "capacity"
	ConflictSingleLine ConflictType = "single_line"
	ConflictPlatform   ConflictType = "platform"
)

// Conflict pairs two trains violating a separation constraint. Train1 sorts
// before Train2 so identical inputs always produce identical conflicts.
type Conflict struct {
	Train1   TrainID       `json:"train1_id"`
	Train2   TrainID       `json:"train2_id"`
	Section  SectionID     `json:"section_id,omitempty"`
	Station  StationID     `json:"station_id,omitempty"`
	Type     ConflictType  `json:"type"`
	Severity float64       `json:"severity"`
	Overlap  time.Duration `json:"overlap"`
	At       time.Time     `json:"at"`
}

// Involves reports whether id is one of the conflicting trains.
func (c Conflict) Involves(id TrainID) bool {
	return c.Train1 == id || c.Train2 == id
}

// TrainIssue is a per-train failure isolated out of a detection run.
type TrainIssue struct {
	Train  TrainID `json:"train_id"`
	Reason string  `json:"reason"`
}

// ConflictReport is the detector's output: deterministic conflict order plus
// the trains excluded for itinerary problems.
type ConflictReport struct {
	Horizon   Horizon      `json:"horizon"`
	Conflicts []Conflict   `json:"conflicts"`
	Skipped   []TrainIssue `json:"skipped,omitempty"`
}

// ScheduleAdjustment is the only structure that mutates train schedule state.
type ScheduleAdjustment struct {
	Train     TrainID     `json:"train_id"`
	DelayMin  int         `json:"delay_minutes,omitempty"`
	Reroute   []SectionID `json:"reroute,omitempty"`
	Cancelled bool        `json:"cancelled,omitempty"`
}

type SolveStatus string

const (
	// SolveOptimal: no conflicts remain and the accepted move set found no
	// further objective improvement.
	SolveOptimal SolveStatus = "optimal"
	// SolveFeasible: conflicts resolved but the search stopped on budget
	// before verifying a local optimum.
	SolveFeasible SolveStatus = "feasible"
	// SolveInfeasible: at least one conflict could not be resolved within
	// the configured degrees of freedom. A result status, never an error.
	SolveInfeasible SolveStatus = "infeasible"
)

// OptimizationResult reports what the optimizer decided and how hard it
// had to work for it.
type OptimizationResult struct {
	Status            SolveStatus          `json:"status"`
	Adjustments       []ScheduleAdjustment `json:"adjustments"`
	TotalDelayMin     int                  `json:"total_delay_minutes"`
	ConflictsResolved int                  `json:"conflicts_resolved"`
	Unresolved        []Conflict           `json:"unresolved,omitempty"`
	Objective         float64              `json:"objective"`
	Iterations        int                  `json:"iterations"`
	Elapsed           time.Duration        `json:"elapsed"`
}

// Summary flattens the result for embedding in simulation comparisons.
func (r OptimizationResult) Summary() OptimizationSummary {
	return OptimizationSummary{
		Status:            r.Status,
		TotalDelayMin:     r.TotalDelayMin,
		ConflictsResolved: r.ConflictsResolved,
		Unresolved:        len(r.Unresolved),
		Iterations:        r.Iterations,
	}
}

type OptimizationSummary struct {
	Status            SolveStatus `json:"status"`
	TotalDelayMin     int         `json:"total_delay_minutes"`
	ConflictsResolved int         `json:"conflicts_resolved"`
	Unresolved        int         `json:"unresolved"`
	Iterations        int         `json:"iterations"`
}

// PerformanceMetrics is the pull-based dashboard snapshot.
type PerformanceMetrics struct {
	Timestamp            time.Time `json:"timestamp"`
	TotalTrains          int       `json:"total_trains"`
	RunningTrains        int       `json:"running_trains"`
	DelayedTrains        int       `json:"delayed_trains"`
	CancelledTrains      int       `json:"cancelled_trains"`
	AverageDelayMin      float64   `json:"average_delay_minutes"`
	PunctualityPct       float64   `json:"punctuality_percentage"`
	ConflictsDetected    int       `json:"conflicts_detected"`
	ThroughputEfficiency float64   `json:"throughput_efficiency"`
}

// SimulationResult compares a scenario run against the unmodified baseline.
type SimulationResult struct {
	Scenario             string              `json:"scenario"`
	RunID                string              `json:"run_id"`
	BaseMetrics          PerformanceMetrics  `json:"base_metrics"`
	ModifiedMetrics      PerformanceMetrics  `json:"modified_metrics"`
	BaseOptimization     OptimizationSummary `json:"base_optimization"`
	ModifiedOptimization OptimizationSummary `json:"modified_optimization"`
	ImprovementPct       float64             `json:"improvement_percentage"`
	Warnings             []string            `json:"warnings,omitempty"`
	Elapsed              time.Duration       `json:"execution_time"`
}
