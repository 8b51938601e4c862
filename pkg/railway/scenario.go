package railway

import (
	"encoding/json"
	"fmt"
)

// Modification is one hypothetical change applied inside a what-if scenario.
// Each kind is its own type so handling stays exhaustive; the simulation
// runner type-switches over the concrete variants.
type Modification interface {
	// Kind returns the wire discriminator ("delay_train", "cancel_train",
	// "reduce_capacity", "change_priority").
	Kind() string
	// Describe renders the modification for warnings and logs.
	Describe() string
}

// Wire names for the modification discriminator.
const (
	KindDelayTrains    = "delay_train"
	KindCancelTrains   = "cancel_train"
	KindReduceCapacity = "reduce_capacity"
	KindChangePriority = "change_priority"
)

// TrainFilter selects trains by structural fields. Zero-value fields are
// ignored; a fully zero filter matches every train.
type TrainFilter struct {
	ID     TrainID     `json:"train_id,omitempty"`
	Number string      `json:"train_number,omitempty"`
	Type   TrainType   `json:"type,omitempty"`
	Status TrainStatus `json:"status,omitempty"`
}

// Matches reports whether t satisfies every set field.
func (f TrainFilter) Matches(t Train) bool {
	if f.ID != "" && t.ID != f.ID {
		return false
	}
	if f.Number != "" && t.Number != f.Number {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

func (f TrainFilter) String() string {
	s := ""
	if f.ID != "" {
		s += " id=" + string(f.ID)
	}
	if f.Number != "" {
		s += " number=" + f.Number
	}
	if f.Type != "" {
		s += " type=" + string(f.Type)
	}
	if f.Status != "" {
		s += " status=" + string(f.Status)
	}
	if s == "" {
		return "any train"
	}
	return "train" + s
}

// SectionFilter selects track sections by id or name.
type SectionFilter struct {
	ID   SectionID `json:"section_id,omitempty"`
	Name string    `json:"section_name,omitempty"`
}

// Matches reports whether s satisfies every set field.
func (f SectionFilter) Matches(s TrackSection) bool {
	if f.ID != "" && s.ID != f.ID {
		return false
	}
	if f.Name != "" && s.Name != f.Name {
		return false
	}
	return true
}

func (f SectionFilter) String() string {
	switch {
	case f.ID != "" && f.Name != "":
		return fmt.Sprintf("section id=%s name=%s", f.ID, f.Name)
	case f.ID != "":
		return "section id=" + string(f.ID)
	case f.Name != "":
		return "section name=" + f.Name
	}
	return "any section"
}

// DelayTrains shifts the schedule of every matching train by Minutes and
// marks it delayed.
type DelayTrains struct {
	Filter  TrainFilter `json:"train_filter"`
	Minutes int         `json:"delay_minutes"`
}

func (m DelayTrains) Kind() string { return KindDelayTrains }

func (m DelayTrains) Describe() string {
	return fmt.Sprintf("%s: %s by %d min", m.Kind(), m.Filter, m.Minutes)
}

// CancelTrains cancels up to Limit matching trains in (scheduled departure,
// id) order. Limit <= 0 cancels every match.
type CancelTrains struct {
	Filter TrainFilter `json:"train_filter"`
	Limit  int         `json:"limit,omitempty"`
}

func (m CancelTrains) Kind() string { return KindCancelTrains }

func (m CancelTrains) Describe() string {
	if m.Limit > 0 {
		return fmt.Sprintf("%s: %s (limit %d)", m.Kind(), m.Filter, m.Limit)
	}
	return fmt.Sprintf("%s: %s", m.Kind(), m.Filter)
}

// ReduceCapacity scales the capacity of matching sections. Factor is the
// fraction retained; the result never drops below 1.
type ReduceCapacity struct {
	Filter SectionFilter `json:"section_filter"`
	Factor float64       `json:"capacity_factor"`
}

func (m ReduceCapacity) Kind() string { return KindReduceCapacity }

func (m ReduceCapacity) Describe() string {
	return fmt.Sprintf("%s: %s to %.0f%%", m.Kind(), m.Filter, m.Factor*100)
}

// ChangePriority reassigns the priority of matching trains, clamped to 1..10.
type ChangePriority struct {
	Filter   TrainFilter `json:"train_filter"`
	Priority int         `json:"new_priority"`
}

func (m ChangePriority) Kind() string { return KindChangePriority }

func (m ChangePriority) Describe() string {
	return fmt.Sprintf("%s: %s to priority %d", m.Kind(), m.Filter, m.Priority)
}

// Scenario is a named list of modifications evaluated against a cloned
// schedule.
type Scenario struct {
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Modifications []Modification `json:"modifications"`
}

// modificationDisc is the minimum JSON structure needed to read the kind
// discriminator.
type modificationDisc struct {
	Type string `json:"type"`
}

// UnmarshalModification decodes one modification object. The "type" key
// selects the concrete variant; the rest of the object is forwarded to that
// variant's fields.
func UnmarshalModification(data []byte) (Modification, error) {
	var disc modificationDisc
	if err := json.Unmarshal(data, &disc); err != nil {
		return nil, fmt.Errorf("reading modification discriminator: %w", err)
	}

	switch disc.Type {
	case KindDelayTrains:
		var m DelayTrains
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", disc.Type, err)
		}
		return m, nil
	case KindCancelTrains:
		var m CancelTrains
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", disc.Type, err)
		}
		return m, nil
	case KindReduceCapacity:
		var m ReduceCapacity
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", disc.Type, err)
		}
		return m, nil
	case KindChangePriority:
		var m ChangePriority
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", disc.Type, err)
		}
		return m, nil
	case "":
		return nil, fmt.Errorf("modification missing \"type\" field")
	default:
		return nil, fmt.Errorf("unknown modification type %q", disc.Type)
	}
}

// MarshalModification encodes m with its "type" discriminator inlined.
func MarshalModification(m Modification) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	obj["type"] = m.Kind()
	return json.Marshal(obj)
}

// scenarioJSON is the raw JSON shape of a Scenario, before the modification
// variants are resolved.
type scenarioJSON struct {
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Modifications []json.RawMessage `json:"modifications"`
}

// UnmarshalJSON implements json.Unmarshaler for Scenario.
func (s *Scenario) UnmarshalJSON(data []byte) error {
	var aux scenarioJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Name = aux.Name
	s.Description = aux.Description
	s.Modifications = nil

	for i, raw := range aux.Modifications {
		m, err := UnmarshalModification(raw)
		if err != nil {
			return fmt.Errorf("scenario %q: modification %d: %w", s.Name, i, err)
		}
		s.Modifications = append(s.Modifications, m)
	}
	return nil
}

// MarshalJSON implements json.Marshaler for Scenario.
func (s Scenario) MarshalJSON() ([]byte, error) {
	aux := scenarioJSON{
		Name:        s.Name,
		Description: s.Description,
	}
	for _, m := range s.Modifications {
		raw, err := MarshalModification(m)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: encoding %s: %w", s.Name, m.Kind(), err)
		}
		aux.Modifications = append(aux.Modifications, raw)
	}
	return json.Marshal(aux)
}
