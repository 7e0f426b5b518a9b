package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_EveryRunsAndRemoves(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	s := New(logger)

	var runs atomic.Int32
	id, err := s.Every(time.Second, func() { runs.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	s.Remove(id)
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestScheduler_RejectsSubSecondInterval(t *testing.T) {
	s := New(nil)
	_, err := s.Every(0, func() {})
	assert.Error(t, err)
	_, err = s.Every(-time.Second, func() {})
	assert.Error(t, err)
	_, err = s.Every(500*time.Millisecond, func() {})
	assert.Error(t, err)
	assert.Zero(t, s.Len())
}

func TestCronLogger(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	cl := cronLogger{logger: logger}

	cl.Info("schedule", "entry", 1, "dangling")
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	assert.Equal(t, 1, hook.LastEntry().Data["entry"])

	cl.Error(errors.New("boom"), "panic", "job", "x")
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "x", hook.LastEntry().Data["job"])
}
