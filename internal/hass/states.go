package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"dashboard_cards/internal/model"
)

type stateObject struct {
	EntityID    string `json:"entity_id"`
	State       string `json:"state"`
	LastChanged string `json:"last_changed"`
}

func (s stateObject) toModel() model.EntityState {
	return model.EntityState{
		EntityID:    s.EntityID,
		State:       s.State,
		LastChanged: parseTimestamp(s.LastChanged),
	}
}

// State returns the current state of one entity. An unknown entity is
// reported as not found rather than as an error.
func (c *Client) State(ctx context.Context, entityID string) (model.EntityState, bool, error) {
	body, err := c.get(ctx, "states/"+url.PathEscape(entityID), nil)
	if err != nil {
		if isNotFound(err) {
			return model.EntityState{}, false, nil
		}
		return model.EntityState{}, false, fmt.Errorf("state %s: %w", entityID, err)
	}

	var obj stateObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return model.EntityState{}, false, fmt.Errorf("parsing state %s: %w", entityID, err)
	}
	if obj.EntityID == "" {
		obj.EntityID = entityID
	}
	return obj.toModel(), true, nil
}

// Live implements comparison.LiveLookup.
func (c *Client) Live(ctx context.Context, entityID string) (string, bool, error) {
	st, ok, err := c.State(ctx, entityID)
	if err != nil || !ok {
		return "", false, err
	}
	return st.State, true, nil
}

// States returns a snapshot of all entity states.
func (c *Client) States(ctx context.Context) (model.States, error) {
	body, err := c.get(ctx, "states", nil)
	if err != nil {
		return nil, fmt.Errorf("states: %w", err)
	}

	var objs []stateObject
	if err := json.Unmarshal(body, &objs); err != nil {
		return nil, fmt.Errorf("parsing states: %w", err)
	}

	states := make(model.States, len(objs))
	for _, o := range objs {
		if o.EntityID == "" {
			continue
		}
		states[o.EntityID] = o.toModel()
	}
	return states, nil
}
