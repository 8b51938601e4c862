// Package state holds the live train set. All mutations funnel through one
// mutex and emit audit records; reads hand out copies so dashboards never
// observe a half-updated train.
package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AntoniyaJency/railopt/internal/common/logger"
	"github.com/AntoniyaJency/railopt/pkg/railway"
)

// Recorder receives field-level mutation records. Satisfied by
// audit.Recorder; tests substitute their own.
type Recorder interface {
	Record(train railway.TrainID, field, oldValue, newValue string)
}

// Store is the single shared train state resource. One mutation in flight
// at a time; readers see consistent point-in-time copies.
type Store struct {
	mu     sync.RWMutex
	trains map[railway.TrainID]railway.Train
	rec    Recorder
	log    logger.Logger
	now    func() time.Time
}

func NewStore(rec Recorder, log logger.Logger) *Store {
	return &Store{
		trains: make(map[railway.TrainID]railway.Train),
		rec:    rec,
		log:    log,
		now:    time.Now,
	}
}

// SetClock overrides the timestamp source. Tests and the engine inject a
// deterministic clock here.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Upsert inserts or updates a train. Field changes on update are audited
// individually. A cancelled train only ever accepts another cancelled write.
func (s *Store) Upsert(t railway.Train) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Status == "" {
		t.Status = railway.StatusScheduled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	old, exists := s.trains[t.ID]
	if !exists {
		t.CreatedAt = now
		t.UpdatedAt = now
		s.trains[t.ID] = t.Clone()
		s.record(t.ID, "created", "", string(t.Status))
		s.log.Debug("train created", "train_id", t.ID, "number", t.Number, "type", t.Type)
		return nil
	}

	if old.Status.Terminal() && t.Status != old.Status {
		return fmt.Errorf("%w: train %s is cancelled", railway.ErrInvalidTransition, t.ID)
	}

	t.CreatedAt = old.CreatedAt
	t.UpdatedAt = now
	s.auditDiff(old, t)
	s.trains[t.ID] = t.Clone()
	return nil
}

// Get returns a copy of one train.
func (s *Store) Get(id railway.TrainID) (railway.Train, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trains[id]
	if !ok {
		return railway.Train{}, fmt.Errorf("%w: train %q", railway.ErrNotFound, id)
	}
	return t.Clone(), nil
}

// All returns copies of every train ordered by scheduled departure, then id.
func (s *Store) All() []railway.Train {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]railway.Train, 0, len(s.trains))
	for _, t := range s.trains {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledDeparture.Equal(out[j].ScheduledDeparture) {
			return out[i].ScheduledDeparture.Before(out[j].ScheduledDeparture)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Snapshot is the persistence-facing read: the same consistent copy All
// returns.
func (s *Store) Snapshot() []railway.Train {
	return s.All()
}

// Count returns the number of trains.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trains)
}

// SetStatus transitions one train. Cancelled is terminal.
func (s *Store) SetStatus(id railway.TrainID, status railway.TrainStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", railway.ErrInvalidTrain, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trains[id]
	if !ok {
		return fmt.Errorf("%w: train %q", railway.ErrNotFound, id)
	}
	if t.Status == status {
		return nil
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: train %s is cancelled", railway.ErrInvalidTransition, id)
	}

	s.record(id, "status", string(t.Status), string(status))
	t.Status = status
	t.UpdatedAt = s.now()
	s.trains[id] = t
	return nil
}

// UpdatePosition is the external dispatch feed's write path.
func (s *Store) UpdatePosition(id railway.TrainID, section railway.SectionID, station railway.StationID, speedKmh float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trains[id]
	if !ok {
		return fmt.Errorf("%w: train %q", railway.ErrNotFound, id)
	}

	if t.CurrentSection != section {
		s.record(id, "current_section", string(t.CurrentSection), string(section))
		t.CurrentSection = section
	}
	if t.CurrentStation != station {
		s.record(id, "current_station", string(t.CurrentStation), string(station))
		t.CurrentStation = station
	}
	if t.SpeedKmh != speedKmh {
		t.SpeedKmh = speedKmh
	}
	t.UpdatedAt = s.now()
	s.trains[id] = t
	return nil
}

// ApplyAdjustments applies an optimizer output to the live set. Failures are
// isolated per train; the returned count is how many adjustments fully
// applied and the error joins whatever went wrong.
func (s *Store) ApplyAdjustments(adjs []railway.ScheduleAdjustment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	var errs []error
	for _, adj := range adjs {
		t, ok := s.trains[adj.Train]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: train %q", railway.ErrNotFound, adj.Train))
			continue
		}
		if t.Status.Terminal() && !adj.Cancelled {
			errs = append(errs, fmt.Errorf("%w: train %s is cancelled", railway.ErrInvalidTransition, adj.Train))
			continue
		}

		if adj.DelayMin > 0 {
			old := t.DelayMin
			t.DelayMin += adj.DelayMin
			s.record(t.ID, "delay_minutes", fmt.Sprintf("%d", old), fmt.Sprintf("%d", t.DelayMin))
			if t.Status != railway.StatusDelayed {
				s.record(t.ID, "status", string(t.Status), string(railway.StatusDelayed))
				t.Status = railway.StatusDelayed
			}
		}
		if len(adj.Reroute) > 0 {
			s.record(t.ID, "itinerary", joinSections(t.Itinerary), joinSections(adj.Reroute))
			t.Itinerary = append([]railway.SectionID(nil), adj.Reroute...)
		}
		if adj.Cancelled && t.Status != railway.StatusCancelled {
			s.record(t.ID, "status", string(t.Status), string(railway.StatusCancelled))
			t.Status = railway.StatusCancelled
		}

		t.UpdatedAt = s.now()
		s.trains[t.ID] = t
		applied++
	}
	return applied, errors.Join(errs...)
}

// Replace swaps the entire train set. Simulations seed their cloned stores
// with it; the live engine never calls it after startup.
func (s *Store) Replace(trains []railway.Train) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trains = make(map[railway.TrainID]railway.Train, len(trains))
	for _, t := range trains {
		s.trains[t.ID] = t.Clone()
	}
}

// Clone returns an independent store over the same trains, without the
// recorder: hypothetical mutations should not pollute the audit trail.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := NewStore(nopRecorder{}, s.log)
	c.now = s.now
	for id, t := range s.trains {
		c.trains[id] = t.Clone()
	}
	return c
}

func (s *Store) record(id railway.TrainID, field, oldValue, newValue string) {
	if s.rec != nil {
		s.rec.Record(id, field, oldValue, newValue)
	}
}

// auditDiff emits one record per changed field on update.
func (s *Store) auditDiff(old, new railway.Train) {
	if old.Number != new.Number {
		s.record(new.ID, "number", old.Number, new.Number)
	}
	if old.Type != new.Type {
		s.record(new.ID, "type", string(old.Type), string(new.Type))
	}
	if old.Priority != new.Priority {
		s.record(new.ID, "priority", fmt.Sprintf("%d", old.Priority), fmt.Sprintf("%d", new.Priority))
	}
	if !old.ScheduledDeparture.Equal(new.ScheduledDeparture) {
		s.record(new.ID, "scheduled_departure", old.ScheduledDeparture.Format(time.RFC3339), new.ScheduledDeparture.Format(time.RFC3339))
	}
	if !old.ScheduledArrival.Equal(new.ScheduledArrival) {
		s.record(new.ID, "scheduled_arrival", old.ScheduledArrival.Format(time.RFC3339), new.ScheduledArrival.Format(time.RFC3339))
	}
	if old.Status != new.Status {
		s.record(new.ID, "status", string(old.Status), string(new.Status))
	}
	if old.DelayMin != new.DelayMin {
		s.record(new.ID, "delay_minutes", fmt.Sprintf("%d", old.DelayMin), fmt.Sprintf("%d", new.DelayMin))
	}
	if joinSections(old.Itinerary) != joinSections(new.Itinerary) {
		s.record(new.ID, "itinerary", joinSections(old.Itinerary), joinSections(new.Itinerary))
	}
}

func joinSections(ids []railway.SectionID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

type nopRecorder struct{}

func (nopRecorder) Record(railway.TrainID, string, string, string) {}
