package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashboard_cards/internal/config"
	"dashboard_cards/internal/hass"
	"dashboard_cards/internal/history"
	"dashboard_cards/internal/model"
	"dashboard_cards/internal/render"
)

const previewConfig = `
cards:
  - id: living
    type: temperature-comparison
    entities: [sensor.in, sensor.in_ly, sensor.out, sensor.out_ly]
  - id: prices
    type: changedetection-list
`

func previewStates() model.States {
	s := model.States{}
	for id, v := range map[string]string{
		"sensor.in":                        "21",
		"sensor.in_ly":                     "22.5",
		"sensor.out":                       "5",
		"sensor.out_ly":                    "4",
		model.DefaultChangedetectionEntity: `[{"title":"Drill","prices":[{"ts":"2025-01-01","raw":"100"}]}]`,
	} {
		s[id] = model.EntityState{EntityID: id, State: v}
	}
	return s
}

func TestPreview_AllCards(t *testing.T) {
	cfg, err := config.Parse([]byte(previewConfig))
	require.NoError(t, err)
	logger, _ := logtest.NewNullLogger()
	var buf bytes.Buffer

	err = preview(cfg, "", previewStates(), history.NewFetcher(nil, logger), nil, render.NewTerminal(&buf, render.FormatTable), logger)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Temperature Comparison (7 days)")
	// (22.5 - 21) + (5 - 4)
	assert.Contains(t, out, "2.50°C")
	assert.Contains(t, out, "Changedetection items")
	assert.Contains(t, out, "Drill")
}

func TestPreview_SingleCardJSON(t *testing.T) {
	cfg, err := config.Parse([]byte(previewConfig))
	require.NoError(t, err)
	logger, _ := logtest.NewNullLogger()
	var buf bytes.Buffer

	err = preview(cfg, "prices", previewStates(), history.NewFetcher(nil, logger), nil, render.NewTerminal(&buf, render.FormatJSON), logger)
	require.NoError(t, err)

	var view map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &view))
	assert.Equal(t, "prices", view["card_id"])
}

func TestPreview_UnknownCard(t *testing.T) {
	cfg, err := config.Parse([]byte(previewConfig))
	require.NoError(t, err)
	logger, _ := logtest.NewNullLogger()

	err = preview(cfg, "missing", model.States{}, history.NewFetcher(nil, logger), nil, render.NewTerminal(&bytes.Buffer{}, render.FormatTable), logger)
	assert.Error(t, err)
}

func TestPreview_LiveStatesFromREST(t *testing.T) {
	live := map[string]string{
		"sensor.in":     "20",
		"sensor.in_ly":  "21",
		"sensor.out":    "6",
		"sensor.out_ly": "2",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		id := strings.TrimPrefix(r.URL.Path, "/api/states/")
		v, ok := live[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"entity_id": id, "state": v})
	}))
	defer srv.Close()

	cfg, err := config.Parse([]byte(previewConfig))
	require.NoError(t, err)
	logger, _ := logtest.NewNullLogger()
	client := hass.NewTokenClient(srv.URL, "t", hass.WithHTTPClient(srv.Client()), hass.WithLogger(logger))
	var buf bytes.Buffer

	// the snapshot is stale; the point reads go to /api/states/<id>
	err = preview(cfg, "living", previewStates(), history.NewFetcher(nil, logger), client, render.NewTerminal(&buf, render.FormatJSON), logger)
	require.NoError(t, err)

	var view map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &view))
	// (21 - 20) + (6 - 2)
	assert.Equal(t, "5.00°C", view["difference"])
	assert.Equal(t, "6.00°C", view["outside_now"])
}
