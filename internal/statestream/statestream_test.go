package statestream

import (
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashboard_cards/internal/config"
	"dashboard_cards/internal/model"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type captureUpdater struct {
	mu     sync.Mutex
	states []model.EntityState
}

func (c *captureUpdater) UpdateState(st model.EntityState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, st)
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		prefix string
		topic  string
		want   string
		ok     bool
	}{
		{"homeassistant", "homeassistant/sensor/outside_temp/state", "sensor.outside_temp", true},
		{"homeassistant/", "homeassistant/input_text/changedetection_all/state", "input_text.changedetection_all", true},
		{"ha/stream", "ha/stream/sensor/living/state", "sensor.living", true},
		{"homeassistant", "homeassistant/sensor/outside_temp/unit_of_measurement", "", false},
		{"homeassistant", "homeassistant/sensor/state", "", false},
		{"homeassistant", "other/sensor/outside_temp/state", "", false},
		{"homeassistant", "homeassistant//outside_temp/state", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := ParseTopic(tt.prefix, tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodePayload(t *testing.T) {
	assert.Equal(t, "21.5", decodePayload([]byte("21.5")))
	assert.Equal(t, "21.5", decodePayload([]byte(`"21.5"`)))
	assert.Equal(t, `[{"title":"x"}]`, decodePayload([]byte(` [{"title":"x"}] `)))
	assert.Equal(t, `"unterminated`, decodePayload([]byte(`"unterminated`)))
}

func TestSubscriber_Handle(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	updater := &captureUpdater{}
	s := New(config.MQTT{Broker: "tcp://127.0.0.1:1883", ClientID: "test", TopicPrefix: "homeassistant"}, updater, logger)
	now := time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.handle(nil, fakeMessage{topic: "homeassistant/sensor/outside_temp/state", payload: []byte("4.5")})
	s.handle(nil, fakeMessage{topic: "homeassistant/sensor/outside_temp/friendly_name", payload: []byte("Outside")})

	require.Len(t, updater.states, 1)
	assert.Equal(t, model.EntityState{EntityID: "sensor.outside_temp", State: "4.5", LastChanged: now}, updater.states[0])
	assert.Equal(t, "homeassistant/+/+/state", s.Topic())
}

func TestSubscriber_ClientOptions(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	s := New(config.MQTT{}, &captureUpdater{}, logger)

	opts := s.clientOptions(config.MQTT{
		Broker:   "tcp://mqtt.local:1883",
		ClientID: "dashboard-cards",
		Username: "user",
		Password: "secret",
	})
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "mqtt.local:1883", opts.Servers[0].Host)
	assert.Equal(t, "dashboard-cards", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.True(t, opts.AutoReconnect)
}
