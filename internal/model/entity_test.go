package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStates_Get(t *testing.T) {
	s := States{"sensor.a": {EntityID: "sensor.a", State: "21.5"}}

	st, ok := s.Get("sensor.a")
	assert.True(t, ok)
	assert.Equal(t, "21.5", st.State)

	_, ok = s.Get("sensor.b")
	assert.False(t, ok)

	var empty States
	_, ok = empty.Get("sensor.a")
	assert.False(t, ok)
}

func TestStates_CloneIsIndependent(t *testing.T) {
	s := States{"sensor.a": {EntityID: "sensor.a", State: "1"}}
	c := s.Clone()
	c["sensor.a"] = EntityState{EntityID: "sensor.a", State: "2"}

	assert.Equal(t, "1", s["sensor.a"].State)
	assert.Equal(t, "2", c["sensor.a"].State)
}
