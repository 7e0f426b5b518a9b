package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"dashboard_cards/internal/model"
)

// DefaultRetention bounds how far back the recorder keeps history; it must
// cover the year-ago comparison window.
const DefaultRetention = 400 * 24 * time.Hour

// Listener is notified with a fresh snapshot after every state change.
// changed lists the updated entity IDs; nil means the whole snapshot was
// replaced.
type Listener func(states model.States, changed []string)

// Store holds the latest entity states pushed by Home Assistant and records
// the history of selected entities in memory, indexed by entity ID.
type Store struct {
	mu        sync.RWMutex
	states    map[string]model.EntityState
	recorded  map[string]bool
	readings  map[string][]model.RawReading // keyed by entity ID, sorted by timestamp
	retention time.Duration
	listeners []Listener
	now       func() time.Time
}

func New() *Store {
	return &Store{
		states:    make(map[string]model.EntityState),
		readings:  make(map[string][]model.RawReading),
		retention: DefaultRetention,
		now:       time.Now,
	}
}

// Record selects the entities whose pushed states are kept as history.
// Until it is called no pushed state is recorded. Seeded readings
// (AddReadings, LoadCSV) are always kept.
func (s *Store) Record(entityIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		s.recorded[id] = true
	}
}

// Subscribe registers a listener for state changes.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// ReplaceStates swaps in a full snapshot, e.g. after (re)connecting.
func (s *Store) ReplaceStates(states model.States) {
	s.mu.Lock()
	s.states = make(map[string]model.EntityState, len(states))
	for id, st := range states {
		if st.EntityID == "" {
			st.EntityID = id
		}
		s.states[id] = st
		s.recordPushed(st)
	}
	snapshot, listeners := s.snapshotLocked(), s.listeners
	s.mu.Unlock()

	notify(listeners, snapshot, nil)
}

// UpdateState stores a single state change.
func (s *Store) UpdateState(st model.EntityState) {
	if st.EntityID == "" {
		return
	}
	if st.LastChanged.IsZero() {
		st.LastChanged = s.now()
	}

	s.mu.Lock()
	s.states[st.EntityID] = st
	s.recordPushed(st)
	snapshot, listeners := s.snapshotLocked(), s.listeners
	s.mu.Unlock()

	notify(listeners, snapshot, []string{st.EntityID})
}

// Merge applies a polled snapshot, recording and announcing only the
// entities whose state differs from what is stored. Entities missing from
// states are kept.
func (s *Store) Merge(states model.States) []string {
	s.mu.Lock()
	var changed []string
	for id, st := range states {
		if st.EntityID == "" {
			st.EntityID = id
		}
		if cur, ok := s.states[id]; ok && cur.State == st.State {
			continue
		}
		if st.LastChanged.IsZero() {
			st.LastChanged = s.now()
		}
		s.states[id] = st
		s.recordPushed(st)
		changed = append(changed, id)
	}
	if len(changed) == 0 {
		s.mu.Unlock()
		return nil
	}
	sort.Strings(changed)
	snapshot, listeners := s.snapshotLocked(), s.listeners
	s.mu.Unlock()

	notify(listeners, snapshot, changed)
	return changed
}

func notify(listeners []Listener, snapshot model.States, changed []string) {
	for _, l := range listeners {
		l(snapshot.Clone(), changed)
	}
}

// recordPushed records st if its entity is selected. Callers hold the write lock.
func (s *Store) recordPushed(st model.EntityState) {
	if s.recorded[st.EntityID] {
		s.record(st)
	}
}

// record appends a reading, keeping the slice sorted and trimmed.
// Callers hold the write lock.
func (s *Store) record(st model.EntityState) {
	if st.LastChanged.IsZero() {
		return
	}
	r := model.RawReading{EntityID: st.EntityID, State: st.State, LastChanged: st.LastChanged}
	all := s.readings[st.EntityID]

	idx := sort.Search(len(all), func(i int) bool {
		return all[i].LastChanged.After(r.LastChanged)
	})
	if idx > 0 && all[idx-1].LastChanged.Equal(r.LastChanged) {
		all[idx-1] = r
	} else {
		all = append(all, model.RawReading{})
		copy(all[idx+1:], all[idx:])
		all[idx] = r
	}

	cutoff := s.now().Add(-s.retention)
	drop := sort.Search(len(all), func(i int) bool {
		return !all[i].LastChanged.Before(cutoff)
	})
	s.readings[st.EntityID] = all[drop:]
}

// AddReadings seeds the recorder with historical readings.
func (s *Store) AddReadings(readings []model.RawReading) {
	if len(readings) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range readings {
		s.record(model.EntityState{EntityID: r.EntityID, State: r.State, LastChanged: r.LastChanged})
	}
}

// Snapshot returns a copy of the current states.
func (s *Store) Snapshot() model.States {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() model.States {
	out := make(model.States, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

// ReadingCount returns the number of recorded readings for an entity.
func (s *Store) ReadingCount(entityID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings[entityID])
}

// ReadingsInRange returns readings for an entity between start and end, both inclusive.
func (s *Store) ReadingsInRange(entityID string, start, end time.Time) []model.RawReading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.readings[entityID]
	if len(all) == 0 {
		return nil
	}

	startIdx := sort.Search(len(all), func(i int) bool {
		return !all[i].LastChanged.Before(start)
	})
	endIdx := sort.Search(len(all), func(i int) bool {
		return all[i].LastChanged.After(end)
	})

	if startIdx >= endIdx {
		return nil
	}

	result := make([]model.RawReading, endIdx-startIdx)
	copy(result, all[startIdx:endIdx])
	return result
}

// History implements history.Service from the recorded readings.
func (s *Store) History(ctx context.Context, tr model.TimeRange, entityID string) ([]model.RawReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.ReadingsInRange(entityID, tr.Start, tr.End), nil
}

// LoadCSV seeds the recorder from rows of entity_id,state,updated_ts (unix
// seconds, fractional allowed). The header row is skipped; malformed rows are
// ignored. It returns the number of readings loaded.
func (s *Store) LoadCSV(r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading header: %w", err)
	}

	var readings []model.RawReading
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) || (err == nil && len(row) < 3) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("reading row: %w", err)
		}
		ts, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			continue
		}
		sec := int64(ts)
		nsec := int64((ts - float64(sec)) * 1e9)
		readings = append(readings, model.RawReading{
			EntityID:    row[0],
			State:       row[1],
			LastChanged: time.Unix(sec, nsec).UTC(),
		})
	}

	s.AddReadings(readings)
	return len(readings), nil
}
