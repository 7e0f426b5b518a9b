package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"dashboard_cards/internal/model"
)

// StateHandler receives states pushed by Home Assistant.
type StateHandler interface {
	ReplaceStates(states model.States)
	UpdateState(state model.EntityState)
}

// Subscriber follows state_changed events over the websocket API.
type Subscriber struct {
	url     string
	token   string
	handler StateHandler
	logger  *logrus.Logger
	dialer  *websocket.Dialer
	nextID  int
}

// NewSubscriber derives the websocket endpoint from the REST base URL.
func NewSubscriber(baseURL, token string, handler StateHandler, logger *logrus.Logger) (*Subscriber, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing home assistant url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported home assistant url scheme %q", u.Scheme)
	}
	u.Path += "/api/websocket"

	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Subscriber{
		url:     u.String(),
		token:   token,
		handler: handler,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
	}, nil
}

// Client -> Server
type wsCommand struct {
	ID          int    `json:"id,omitempty"`
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
	EventType   string `json:"event_type,omitempty"`
}

// Server -> Client
type wsMessage struct {
	ID      int             `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Message string          `json:"message"`
	Event   *struct {
		EventType string `json:"event_type"`
		Data      struct {
			EntityID string       `json:"entity_id"`
			NewState *stateObject `json:"new_state"`
		} `json:"data"`
	} `json:"event"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	TypeAuthRequired    = "auth_required"
	TypeAuth            = "auth"
	TypeAuthOK          = "auth_ok"
	TypeAuthInvalid     = "auth_invalid"
	TypeGetStates       = "get_states"
	TypeSubscribeEvents = "subscribe_events"
	TypeResult          = "result"
	TypeEvent           = "event"

	EventStateChanged = "state_changed"
)

// Run connects, loads the initial state snapshot and forwards state changes
// until ctx is cancelled or the connection fails.
func (s *Subscriber) Run(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := s.authenticate(conn); err != nil {
		return err
	}

	s.nextID = 0
	statesID, err := s.send(conn, wsCommand{Type: TypeGetStates})
	if err != nil {
		return err
	}
	result, err := s.awaitResult(conn, statesID)
	if err != nil {
		return fmt.Errorf("get_states: %w", err)
	}
	var objs []stateObject
	if err := json.Unmarshal(result, &objs); err != nil {
		return fmt.Errorf("parsing get_states result: %w", err)
	}
	snapshot := make(model.States, len(objs))
	for _, o := range objs {
		snapshot[o.EntityID] = o.toModel()
	}
	s.handler.ReplaceStates(snapshot)
	s.logger.WithField("entities", len(snapshot)).Info("loaded home assistant states")

	subID, err := s.send(conn, wsCommand{Type: TypeSubscribeEvents, EventType: EventStateChanged})
	if err != nil {
		return err
	}
	if _, err := s.awaitResult(conn, subID); err != nil {
		return fmt.Errorf("subscribe_events: %w", err)
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading event: %w", err)
		}
		if msg.Type != TypeEvent || msg.ID != subID || msg.Event == nil {
			continue
		}
		if msg.Event.Data.NewState == nil {
			// entity removed
			continue
		}
		st := msg.Event.Data.NewState.toModel()
		if st.EntityID == "" {
			st.EntityID = msg.Event.Data.EntityID
		}
		s.handler.UpdateState(st)
	}
}

// RunForever keeps the subscription alive, reconnecting with capped
// exponential backoff until ctx is cancelled.
func (s *Subscriber) RunForever(ctx context.Context) {
	wait := time.Second
	for {
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.WithFields(logrus.Fields{"error": err, "retry_in": wait}).Warn("home assistant websocket disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait = min(wait*2, time.Minute)
	}
}

func (s *Subscriber) authenticate(conn *websocket.Conn) error {
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("reading auth_required: %w", err)
	}
	if msg.Type != TypeAuthRequired {
		return fmt.Errorf("unexpected message %q before auth", msg.Type)
	}
	if err := conn.WriteJSON(wsCommand{Type: TypeAuth, AccessToken: s.token}); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("reading auth response: %w", err)
	}
	switch msg.Type {
	case TypeAuthOK:
		return nil
	case TypeAuthInvalid:
		return fmt.Errorf("authentication failed: %s", msg.Message)
	default:
		return fmt.Errorf("unexpected auth response %q", msg.Type)
	}
}

func (s *Subscriber) send(conn *websocket.Conn, cmd wsCommand) (int, error) {
	s.nextID++
	cmd.ID = s.nextID
	if err := conn.WriteJSON(cmd); err != nil {
		return 0, fmt.Errorf("sending %s: %w", cmd.Type, err)
	}
	return cmd.ID, nil
}

func (s *Subscriber) awaitResult(conn *websocket.Conn, id int) (json.RawMessage, error) {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, err
		}
		if msg.Type != TypeResult || msg.ID != id {
			continue
		}
		if !msg.Success {
			if msg.Error != nil {
				return nil, errors.New(msg.Error.Code + ": " + msg.Error.Message)
			}
			return nil, errors.New("command failed")
		}
		return msg.Result, nil
	}
}
