// Package network holds the static rail topology: stations, track sections
// and connectivity. Loaded once at startup and treated as immutable by the
// live engine; simulations mutate their own clones.
package network

import (
	"fmt"
	"sort"

	"github.com/golang/geo/s2"

	"github.com/AntoniyaJency/railopt/pkg/railway"
)

const earthRadiusKm = 6371.0

// Network is an undirected graph of stations joined by track sections.
// Sections are traversable in both directions; direction of a particular
// movement comes from the train's itinerary order.
type Network struct {
	stations  map[railway.StationID]railway.Station
	sections  map[railway.SectionID]railway.TrackSection
	byStation map[railway.StationID][]railway.SectionID
}

func New() *Network {
	return &Network{
		stations:  make(map[railway.StationID]railway.Station),
		sections:  make(map[railway.SectionID]railway.TrackSection),
		byStation: make(map[railway.StationID][]railway.SectionID),
	}
}

// AddStation inserts a station. Duplicate ids and non-positive platform
// counts fail with ErrInvalidTopology.
func (n *Network) AddStation(s railway.Station) error {
	if s.ID == "" {
		return fmt.Errorf("%w: station with empty id", railway.ErrInvalidTopology)
	}
	if _, exists := n.stations[s.ID]; exists {
		return fmt.Errorf("%w: station %q already exists", railway.ErrInvalidTopology, s.ID)
	}
	if s.Platforms < 1 {
		return fmt.Errorf("%w: station %q must have at least one platform", railway.ErrInvalidTopology, s.ID)
	}
	n.stations[s.ID] = s
	return nil
}

// AddSection inserts a track section. Both endpoints must already exist;
// violations fail with ErrInvalidTopology at insertion time, not later.
// A zero length is derived from the endpoints' geodesic distance.
func (n *Network) AddSection(s railway.TrackSection) error {
	if s.ID == "" {
		return fmt.Errorf("%w: section with empty id", railway.ErrInvalidTopology)
	}
	if _, exists := n.sections[s.ID]; exists {
		return fmt.Errorf("%w: section %q already exists", railway.ErrInvalidTopology, s.ID)
	}
	from, ok := n.stations[s.From]
	if !ok {
		return fmt.Errorf("%w: section %q: endpoint station %q not found", railway.ErrInvalidTopology, s.ID, s.From)
	}
	to, ok := n.stations[s.To]
	if !ok {
		return fmt.Errorf("%w: section %q: endpoint station %q not found", railway.ErrInvalidTopology, s.ID, s.To)
	}
	if s.From == s.To {
		return fmt.Errorf("%w: section %q connects station %q to itself", railway.ErrInvalidTopology, s.ID, s.From)
	}
	if s.Capacity < 1 {
		return fmt.Errorf("%w: section %q capacity %d, must be >= 1", railway.ErrInvalidTopology, s.ID, s.Capacity)
	}
	if s.MaxSpeedKmh <= 0 {
		return fmt.Errorf("%w: section %q max speed must be positive", railway.ErrInvalidTopology, s.ID)
	}
	if s.LengthKm < 0 {
		return fmt.Errorf("%w: section %q has negative length", railway.ErrInvalidTopology, s.ID)
	}
	if s.LengthKm == 0 {
		s.LengthKm = geodesicKm(from, to)
		if s.LengthKm <= 0 {
			return fmt.Errorf("%w: section %q: cannot derive length from station coordinates", railway.ErrInvalidTopology, s.ID)
		}
	}

	n.sections[s.ID] = s
	n.byStation[s.From] = append(n.byStation[s.From], s.ID)
	n.byStation[s.To] = append(n.byStation[s.To], s.ID)
	return nil
}

// geodesicKm is the great-circle distance between two stations.
func geodesicKm(a, b railway.Station) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lon)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return p1.Distance(p2).Radians() * earthRadiusKm
}

// Station looks up a station by id.
func (n *Network) Station(id railway.StationID) (railway.Station, error) {
	s, ok := n.stations[id]
	if !ok {
		return railway.Station{}, fmt.Errorf("%w: station %q", railway.ErrNotFound, id)
	}
	return s, nil
}

// Section looks up a section by id.
func (n *Network) Section(id railway.SectionID) (railway.TrackSection, error) {
	s, ok := n.sections[id]
	if !ok {
		return railway.TrackSection{}, fmt.Errorf("%w: section %q", railway.ErrNotFound, id)
	}
	return s, nil
}

// Neighbors returns the sections touching a station, ordered by section id.
func (n *Network) Neighbors(id railway.StationID) ([]railway.TrackSection, error) {
	if _, ok := n.stations[id]; !ok {
		return nil, fmt.Errorf("%w: station %q", railway.ErrNotFound, id)
	}
	ids := append([]railway.SectionID(nil), n.byStation[id]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]railway.TrackSection, 0, len(ids))
	for _, sid := range ids {
		out = append(out, n.sections[sid])
	}
	return out, nil
}

// Stations returns every station ordered by id.
func (n *Network) Stations() []railway.Station {
	out := make([]railway.Station, 0, len(n.stations))
	for _, s := range n.stations {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sections returns every section ordered by id.
func (n *Network) Sections() []railway.TrackSection {
	out := make([]railway.TrackSection, 0, len(n.sections))
	for _, s := range n.sections {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Other returns the endpoint of section s opposite to station id.
func (n *Network) Other(s railway.TrackSection, id railway.StationID) railway.StationID {
	if s.From == id {
		return s.To
	}
	return s.From
}

// SetSection replaces an existing section in place. Used by simulations to
// apply capacity reductions to cloned networks.
func (n *Network) SetSection(s railway.TrackSection) error {
	old, ok := n.sections[s.ID]
	if !ok {
		return fmt.Errorf("%w: section %q", railway.ErrNotFound, s.ID)
	}
	if s.From != old.From || s.To != old.To {
		return fmt.Errorf("%w: section %q endpoints are immutable", railway.ErrInvalidTopology, s.ID)
	}
	if s.Capacity < 1 {
		return fmt.Errorf("%w: section %q capacity %d, must be >= 1", railway.ErrInvalidTopology, s.ID, s.Capacity)
	}
	n.sections[s.ID] = s
	return nil
}

// NumStations returns the station count.
func (n *Network) NumStations() int { return len(n.stations) }

// NumSections returns the section count.
func (n *Network) NumSections() int { return len(n.sections) }

// Clone returns a deep, independent copy.
func (n *Network) Clone() *Network {
	c := New()
	for id, s := range n.stations {
		c.stations[id] = s
	}
	for id, s := range n.sections {
		c.sections[id] = s
	}
	for id, secs := range n.byStation {
		c.byStation[id] = append([]railway.SectionID(nil), secs...)
	}
	return c
}
