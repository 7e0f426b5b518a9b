package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"dashboard_cards/internal/model"
)

// History fetches the raw states of entityID within tr from
// /api/history/period.
func (c *Client) History(ctx context.Context, tr model.TimeRange, entityID string) ([]model.RawReading, error) {
	path := "history/period/" + url.PathEscape(tr.Start.UTC().Format(time.RFC3339))
	query := url.Values{}
	query.Set("filter_entity_id", entityID)
	query.Set("end_time", tr.End.UTC().Format(time.RFC3339))
	query.Set("minimal_response", "")
	query.Set("no_attributes", "")

	body, err := c.get(ctx, path, query)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", entityID, err)
	}
	return parseHistoryResponse(body, entityID)
}

type historyEntry struct {
	EntityID    string  `json:"entity_id"`
	State       *string `json:"state"`
	LastChanged string  `json:"last_changed"`
}

// parseHistoryResponse parses the HA history API response.
// Format: array of arrays, one inner array per entity. With minimal_response
// only the first entry of each group carries entity_id. A response without
// that grouping yields no readings; only invalid JSON is an error.
func parseHistoryResponse(data []byte, entityID string) ([]model.RawReading, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("parsing JSON: invalid history response")
	}

	var outer []json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil || len(outer) == 0 {
		return []model.RawReading{}, nil
	}

	var groups [][]json.RawMessage
	for _, raw := range outer {
		var g []json.RawMessage
		if err := json.Unmarshal(raw, &g); err != nil {
			continue
		}
		groups = append(groups, g)
	}
	if len(groups) == 0 {
		return []model.RawReading{}, nil
	}

	group := groups[0]
	for _, g := range groups {
		if groupEntityID(g) == entityID {
			group = g
			break
		}
	}

	readings := make([]model.RawReading, 0, len(group))
	currentEntityID := entityID
	for _, raw := range group {
		var entry historyEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.EntityID != "" {
			currentEntityID = entry.EntityID
		}
		if entry.State == nil {
			continue
		}
		readings = append(readings, model.RawReading{
			EntityID:    currentEntityID,
			State:       *entry.State,
			LastChanged: parseTimestamp(entry.LastChanged),
		})
	}
	return readings, nil
}

func groupEntityID(group []json.RawMessage) string {
	if len(group) == 0 {
		return ""
	}
	var entry historyEntry
	if err := json.Unmarshal(group[0], &entry); err != nil {
		return ""
	}
	return entry.EntityID
}

// parseTimestamp accepts the formats HA emits; unparseable input yields the
// zero time.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Try alternate format without nanoseconds
		ts, err = time.Parse("2006-01-02T15:04:05+00:00", s)
		if err != nil {
			return time.Time{}
		}
	}
	return ts
}
