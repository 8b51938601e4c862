package railway

import "errors"

// Sentinel errors shared across the engine. Callers classify failures with
// errors.Is rather than string matching.
var (
	// ErrNotFound is returned when a station, section or train id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTopology is returned when a network edit would leave the
	// graph malformed (unknown endpoint, duplicate id, capacity < 1).
	// Raised at insertion time, never later.
	ErrInvalidTopology = errors.New("invalid topology")

	// ErrInvalidTrain is returned when a train fails field validation on
	// upsert (empty id, priority out of range, arrival before departure).
	ErrInvalidTrain = errors.New("invalid train")

	// ErrInvalidItinerary is returned when a train's itinerary references a
	// section absent from the network or its endpoints cannot be routed.
	// During conflict detection this is isolated per train, not a batch abort.
	ErrInvalidItinerary = errors.New("invalid itinerary")

	// ErrInvalidTransition is returned for illegal status changes. Cancelled
	// is terminal: no transition out of it is ever accepted.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNoMatch is returned when a scenario filter matches zero trains or
	// sections. Scenarios degrade it to a warning in the result.
	ErrNoMatch = errors.New("filter matched nothing")
)
