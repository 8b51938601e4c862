package network

import (
	"fmt"
	"math"
	"sort"

	"github.com/AntoniyaJency/railopt/pkg/railway"
)

// Route finds the shortest path by track length between two stations and
// returns it as an ordered section sequence. Unknown stations fail with
// ErrNotFound; disconnected pairs fail with ErrInvalidItinerary.
func (n *Network) Route(from, to railway.StationID) ([]railway.SectionID, error) {
	return n.RouteAvoiding(from, to, nil)
}

// RouteAvoiding is Route with a set of sections excluded from consideration.
// The optimizer uses it to steer a train around a contested section.
func (n *Network) RouteAvoiding(from, to railway.StationID, avoid map[railway.SectionID]bool) ([]railway.SectionID, error) {
	if _, ok := n.stations[from]; !ok {
		return nil, fmt.Errorf("%w: station %q", railway.ErrNotFound, from)
	}
	if _, ok := n.stations[to]; !ok {
		return nil, fmt.Errorf("%w: station %q", railway.ErrNotFound, to)
	}
	if from == to {
		return nil, fmt.Errorf("%w: route from %q to itself", railway.ErrInvalidItinerary, from)
	}

	// Dijkstra over station ids. The network is small enough that a linear
	// min scan beats maintaining a heap, and scanning ids in sorted order
	// keeps equal-length routes deterministic.
	dist := make(map[railway.StationID]float64, len(n.stations))
	prevSec := make(map[railway.StationID]railway.SectionID, len(n.stations))
	prevSta := make(map[railway.StationID]railway.StationID, len(n.stations))
	visited := make(map[railway.StationID]bool, len(n.stations))

	ids := make([]railway.StationID, 0, len(n.stations))
	for id := range n.stations {
		ids = append(ids, id)
		dist[id] = math.Inf(1)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	dist[from] = 0

	for {
		cur := railway.StationID("")
		best := math.Inf(1)
		for _, id := range ids {
			if !visited[id] && dist[id] < best {
				best = dist[id]
				cur = id
			}
		}
		if cur == "" {
			break // remaining stations unreachable
		}
		if cur == to {
			break
		}
		visited[cur] = true

		secIDs := append([]railway.SectionID(nil), n.byStation[cur]...)
		sort.Slice(secIDs, func(i, j int) bool { return secIDs[i] < secIDs[j] })
		for _, sid := range secIDs {
			if avoid[sid] {
				continue
			}
			sec := n.sections[sid]
			next := n.Other(sec, cur)
			if visited[next] {
				continue
			}
			if d := dist[cur] + sec.LengthKm; d < dist[next] {
				dist[next] = d
				prevSec[next] = sid
				prevSta[next] = cur
			}
		}
	}

	if math.IsInf(dist[to], 1) {
		return nil, fmt.Errorf("%w: no route from %q to %q", railway.ErrInvalidItinerary, from, to)
	}

	var path []railway.SectionID
	for at := to; at != from; at = prevSta[at] {
		path = append(path, prevSec[at])
	}
	// reverse into origin→destination order
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Walk resolves an itinerary starting at origin into the ordered station
// visits it implies, validating that consecutive sections connect. Returns
// the visited stations including origin and final stop.
func (n *Network) Walk(origin railway.StationID, itinerary []railway.SectionID) ([]railway.StationID, error) {
	if _, ok := n.stations[origin]; !ok {
		return nil, fmt.Errorf("%w: station %q", railway.ErrNotFound, origin)
	}
	visits := []railway.StationID{origin}
	at := origin
	for _, sid := range itinerary {
		sec, ok := n.sections[sid]
		if !ok {
			return nil, fmt.Errorf("%w: itinerary references unknown section %q", railway.ErrInvalidItinerary, sid)
		}
		if sec.From != at && sec.To != at {
			return nil, fmt.Errorf("%w: section %q does not touch station %q", railway.ErrInvalidItinerary, sid, at)
		}
		at = n.Other(sec, at)
		visits = append(visits, at)
	}
	return visits, nil
}
