package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashboard_cards/internal/model"
)

var (
	entityID  = "sensor.living_temp"
	startTime = time.Date(2024, 11, 21, 12, 0, 0, 0, time.UTC)
	hour      = time.Hour
)

func makeReadings(entityID string, values []string, startTime time.Time, interval time.Duration) []model.RawReading {
	readings := make([]model.RawReading, len(values))
	for i, v := range values {
		readings[i] = model.RawReading{
			EntityID:    entityID,
			State:       v,
			LastChanged: startTime.Add(time.Duration(i) * interval),
		}
	}
	return readings
}

func newTestStore() *Store {
	s := New()
	s.now = func() time.Time { return startTime.Add(24 * hour) }
	return s
}

func TestStore_AddAndQuery(t *testing.T) {
	s := newTestStore()
	s.AddReadings(makeReadings(entityID, []string{"20", "21", "22", "23", "24"}, startTime, hour))

	assert.Equal(t, 5, s.ReadingCount(entityID))
	assert.Equal(t, 0, s.ReadingCount("nonexistent"))
}

func TestStore_KeepsSortedAndDeduplicates(t *testing.T) {
	s := newTestStore()
	s.AddReadings([]model.RawReading{
		{EntityID: entityID, State: "b", LastChanged: startTime.Add(2 * hour)},
		{EntityID: entityID, State: "a", LastChanged: startTime},
		{EntityID: entityID, State: "c", LastChanged: startTime.Add(hour)},
		{EntityID: entityID, State: "a2", LastChanged: startTime},
	})

	got := s.ReadingsInRange(entityID, startTime, startTime.Add(2*hour))
	require.Len(t, got, 3)
	assert.Equal(t, "a2", got[0].State)
	assert.Equal(t, "c", got[1].State)
	assert.Equal(t, "b", got[2].State)
}

func TestStore_ReadingsInRange(t *testing.T) {
	s := newTestStore()
	s.AddReadings(makeReadings(entityID, []string{"1", "2", "3", "4", "5"}, startTime, hour))

	result := s.ReadingsInRange(entityID, startTime.Add(hour), startTime.Add(3*hour))
	require.Len(t, result, 3)
	assert.Equal(t, "2", result[0].State)
	assert.Equal(t, "4", result[2].State)

	result = s.ReadingsInRange(entityID, startTime.Add(10*hour), startTime.Add(11*hour))
	assert.Empty(t, result)

	result = s.ReadingsInRange("nonexistent", startTime, startTime.Add(hour))
	assert.Empty(t, result)
}

func TestStore_History(t *testing.T) {
	s := newTestStore()
	s.AddReadings(makeReadings(entityID, []string{"1", "2", "3"}, startTime, hour))

	got, err := s.History(context.Background(), model.TimeRange{Start: startTime, End: startTime.Add(hour)}, entityID)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.History(ctx, model.TimeRange{Start: startTime, End: startTime.Add(hour)}, entityID)
	assert.Error(t, err)
}

func TestStore_Retention(t *testing.T) {
	s := newTestStore()
	s.retention = 2 * hour
	// now is startTime+24h, so only readings from startTime+22h on survive
	s.AddReadings(makeReadings(entityID, []string{"old", "new"}, startTime, 23*hour))

	assert.Equal(t, 1, s.ReadingCount(entityID))
}

func TestStore_UpdateStateNotifiesAndRecords(t *testing.T) {
	s := newTestStore()
	s.Record(entityID, "sensor.outside")

	var mu sync.Mutex
	var seen []model.States
	var changed [][]string
	s.Subscribe(func(st model.States, ids []string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st)
		changed = append(changed, ids)
	})

	s.UpdateState(model.EntityState{EntityID: entityID, State: "21.5", LastChanged: startTime})
	s.UpdateState(model.EntityState{EntityID: "sensor.outside", State: "3"})
	s.UpdateState(model.EntityState{State: "ignored"})

	require.Len(t, seen, 2)
	assert.Equal(t, "21.5", seen[1][entityID].State)
	assert.Equal(t, "3", seen[1]["sensor.outside"].State)
	assert.Equal(t, [][]string{{entityID}, {"sensor.outside"}}, changed)

	assert.Equal(t, "21.5", s.Snapshot()[entityID].State)

	assert.Equal(t, 1, s.ReadingCount(entityID))
	assert.Equal(t, 1, s.ReadingCount("sensor.outside"))
}

func TestStore_ReplaceStates(t *testing.T) {
	s := newTestStore()
	s.UpdateState(model.EntityState{EntityID: "sensor.stale", State: "1", LastChanged: startTime})

	notified := 0
	s.Subscribe(func(_ model.States, changed []string) {
		assert.Nil(t, changed)
		notified++
	})

	s.ReplaceStates(model.States{"sensor.a": {State: "2", LastChanged: startTime}})

	snap := s.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, "sensor.a", snap["sensor.a"].EntityID)
	assert.Equal(t, 1, notified)

	_, ok := s.Snapshot().Get("sensor.stale")
	assert.False(t, ok)
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := newTestStore()
	s.UpdateState(model.EntityState{EntityID: entityID, State: "1"})

	snap := s.Snapshot()
	snap[entityID] = model.EntityState{EntityID: entityID, State: "changed"}

	assert.Equal(t, "1", s.Snapshot()[entityID].State)
}

func TestStore_LoadCSV(t *testing.T) {
	s := newTestStore()
	input := `entity_id,state,updated_ts
sensor.living_temp,21.0,1732190400.5
sensor.living_temp,21.4,1732194000
sensor.living_temp,bad-row
sensor.outside_temp,unavailable,1732190400`

	n, err := s.LoadCSV(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, s.ReadingCount(entityID))

	got := s.ReadingsInRange(entityID, time.Unix(1732190400, 0), time.Unix(1732194000, 0))
	require.Len(t, got, 2)
	assert.Equal(t, int64(1732190400), got[0].LastChanged.Unix())
	assert.Equal(t, 500*time.Millisecond, time.Duration(got[0].LastChanged.Nanosecond()))
}

func TestStore_LoadCSVEmpty(t *testing.T) {
	n, err := newTestStore().LoadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_Merge(t *testing.T) {
	s := newTestStore()
	s.Record("sensor.a", "sensor.b")

	var calls [][]string
	s.Subscribe(func(_ model.States, changed []string) { calls = append(calls, changed) })

	changed := s.Merge(model.States{
		"sensor.b": {State: "1", LastChanged: startTime},
		"sensor.a": {State: "2", LastChanged: startTime},
	})
	assert.Equal(t, []string{"sensor.a", "sensor.b"}, changed)

	changed = s.Merge(model.States{
		"sensor.a": {State: "2", LastChanged: startTime.Add(hour)},
		"sensor.b": {State: "3", LastChanged: startTime.Add(hour)},
	})
	assert.Equal(t, []string{"sensor.b"}, changed)

	assert.Nil(t, s.Merge(model.States{"sensor.a": {State: "2"}}))
	assert.Equal(t, [][]string{{"sensor.a", "sensor.b"}, {"sensor.b"}}, calls)
	assert.Equal(t, "sensor.a", s.Snapshot()["sensor.a"].EntityID)
	assert.Equal(t, 2, s.ReadingCount("sensor.b"))
}

func TestStore_RecordsOnlySelectedEntities(t *testing.T) {
	s := newTestStore()
	s.Record(entityID)

	for i := 0; i < 1000; i++ {
		s.UpdateState(model.EntityState{EntityID: "sensor.grid_power", State: "1500", LastChanged: startTime.Add(time.Duration(i) * time.Second)})
	}
	s.UpdateState(model.EntityState{EntityID: entityID, State: "21", LastChanged: startTime})
	s.Merge(model.States{"sensor.grid_power": {State: "1700", LastChanged: startTime.Add(hour)}})
	s.ReplaceStates(model.States{
		entityID:            {State: "22", LastChanged: startTime.Add(2 * hour)},
		"sensor.grid_power": {State: "1800", LastChanged: startTime.Add(2 * hour)},
	})

	assert.Zero(t, s.ReadingCount("sensor.grid_power"))
	assert.Equal(t, 2, s.ReadingCount(entityID))
	assert.Equal(t, "1800", s.Snapshot()["sensor.grid_power"].State)
}

func TestStore_RecordsNothingUntilSelected(t *testing.T) {
	s := newTestStore()
	s.UpdateState(model.EntityState{EntityID: entityID, State: "21", LastChanged: startTime})
	assert.Zero(t, s.ReadingCount(entityID))

	// seeded history is kept regardless
	s.AddReadings(makeReadings(entityID, []string{"20"}, startTime.Add(hour), hour))
	assert.Equal(t, 1, s.ReadingCount(entityID))
}
