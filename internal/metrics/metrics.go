// Package metrics computes the pull-based dashboard snapshot from live
// train state. No timers, no background updates: callers ask, we count.
package metrics

import (
	"time"

	"github.com/AntoniyaJency/railopt/pkg/railway"
)

// Mean calculates the arithmetic mean of a slice of float64 values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Compute summarizes the fleet at one instant. Average delay covers delayed
// trains only. Punctuality is the on-time share of the non-cancelled fleet
// and reads 100 when nothing is active; throughput is the share of the whole
// fleet actually moving.
func Compute(trains []railway.Train, conflictsDetected int, now time.Time) railway.PerformanceMetrics {
	m := railway.PerformanceMetrics{
		Timestamp:         now,
		TotalTrains:       len(trains),
		ConflictsDetected: conflictsDetected,
	}

	var delays []float64
	for _, t := range trains {
		switch t.Status {
		case railway.StatusRunning:
			m.RunningTrains++
		case railway.StatusDelayed:
			m.DelayedTrains++
			delays = append(delays, float64(t.DelayMin))
		case railway.StatusCancelled:
			m.CancelledTrains++
		}
	}

	m.AverageDelayMin = Mean(delays)
	if m.TotalTrains > 0 {
		m.ThroughputEfficiency = float64(m.RunningTrains) / float64(m.TotalTrains) * 100
	}
	if active := m.TotalTrains - m.CancelledTrains; active > 0 {
		m.PunctualityPct = float64(active-m.DelayedTrains) / float64(active) * 100
	} else {
		m.PunctualityPct = 100
	}
	return m
}
