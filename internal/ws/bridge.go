package ws

import (
	"github.com/sirupsen/logrus"

	"dashboard_cards/internal/card"
)

// Bridge implements card.Renderer and broadcasts views to the WebSocket hub.
type Bridge struct {
	hub    *Hub
	logger *logrus.Logger
}

func NewBridge(hub *Hub, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bridge{hub: hub, logger: logger}
}

func (b *Bridge) RenderComparison(v card.ComparisonView) {
	b.broadcast(v, v.CardID)
}

func (b *Bridge) RenderPriceList(v card.PriceListView) {
	b.broadcast(v, v.CardID)
}

func (b *Bridge) broadcast(view any, cardID string) {
	msg, err := ViewMessage(view)
	if err != nil {
		b.logger.WithError(err).WithField("card", cardID).Error("marshaling card view")
		return
	}
	b.hub.Broadcast(msg)
}
