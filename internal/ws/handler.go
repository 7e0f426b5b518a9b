package ws

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"dashboard_cards/internal/card"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler manages WebSocket connections and routes messages to the cards.
type Handler struct {
	hub      *Hub
	registry *card.Registry
	logger   *logrus.Logger
}

func NewHandler(hub *Hub, registry *card.Registry, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{hub: hub, registry: registry, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.hub.Register(client)
	go client.writePump()

	// Send the card layout, then whatever each card last rendered
	h.sendCardsList(client)
	h.sendViews(client)

	h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Warn("WebSocket read error")
			}
			return
		}

		h.handleMessage(msg)
	}
}

func (h *Handler) handleMessage(msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		h.logger.WithError(err).Warn("invalid message")
		return
	}

	switch env.Type {
	case TypeCardRefresh:
		var p RefreshPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.logger.WithError(err).Warn("invalid card:refresh payload")
			return
		}
		c, ok := h.registry.Get(p.CardID)
		if !ok {
			h.logger.WithField("card", p.CardID).Warn("refresh for unknown card")
			return
		}
		// a comparison cycle blocks on history calls; the result arrives via the bridge
		go c.Refresh()

	default:
		h.logger.WithField("type", env.Type).Warn("unknown message type")
	}
}

func (h *Handler) sendCardsList(c *Client) {
	msg, err := NewEnvelope(TypeCardsList, CardsListFromRegistry(h.registry))
	if err != nil {
		h.logger.WithError(err).Error("creating cards:list message")
		return
	}
	trySend(c, msg)
}

func (h *Handler) sendViews(c *Client) {
	for _, cd := range h.registry.All() {
		view := cd.View()
		if view == nil {
			continue
		}
		msg, err := ViewMessage(view)
		if err != nil {
			h.logger.WithError(err).WithField("card", cd.ID()).Error("encoding card view")
			continue
		}
		trySend(c, msg)
	}
}

func trySend(c *Client, msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}
