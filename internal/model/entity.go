package model

import "time"

// Default entity IDs used when a card config leaves them out.
const (
	DefaultChangedetectionEntity = "input_text.changedetection_all"
)

// EntityState is the current state of a Home Assistant entity.
type EntityState struct {
	EntityID    string    `json:"entity_id"`
	State       string    `json:"state"`
	LastChanged time.Time `json:"last_changed"`
}

// RawReading is a single historical state value. Only State is used for
// aggregation; LastChanged is kept for ordering in the recorder.
type RawReading struct {
	EntityID    string
	State       string
	LastChanged time.Time
}

// States is a snapshot of entity states keyed by entity ID.
type States map[string]EntityState

// Get returns the state of an entity, if known.
func (s States) Get(entityID string) (EntityState, bool) {
	if s == nil {
		return EntityState{}, false
	}
	st, ok := s[entityID]
	return st, ok
}

// Clone returns an independent copy of the snapshot.
func (s States) Clone() States {
	out := make(States, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

type TimeRange struct {
	Start time.Time
	End   time.Time
}
