package ws

import (
	"encoding/json"
	"fmt"

	"dashboard_cards/internal/card"
)

// Envelope wraps all WebSocket messages with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants
const (
	// Client -> Server
	TypeCardRefresh = "card:refresh"

	// Server -> Client
	TypeCardsList      = "cards:list"
	TypeCardComparison = "card:comparison"
	TypeCardPriceList  = "card:price_list"
)

// Client -> Server messages

type RefreshPayload struct {
	CardID string `json:"card_id"`
}

// Server -> Client messages

type CardInfo struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	DisplaySize int    `json:"display_size"`
}

type CardsListPayload struct {
	Cards []CardInfo `json:"cards"`
}

const (
	kindComparison = "temperature-comparison"
	kindPriceList  = "changedetection-list"
)

func NewEnvelope(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// CardsListFromRegistry describes the configured cards in order.
func CardsListFromRegistry(reg *card.Registry) CardsListPayload {
	cards := reg.All()
	out := CardsListPayload{Cards: make([]CardInfo, 0, len(cards))}
	for _, c := range cards {
		out.Cards = append(out.Cards, InfoOf(c))
	}
	return out
}

func InfoOf(c card.Card) CardInfo {
	return CardInfo{
		ID:          c.ID(),
		Kind:        kindOf(c),
		DisplaySize: c.DisplaySize(),
	}
}

func kindOf(c card.Card) string {
	switch c.(type) {
	case *card.ComparisonCard:
		return kindComparison
	case *card.PriceListCard:
		return kindPriceList
	default:
		return ""
	}
}

// ViewMessage encodes a card view with the message type matching its kind.
func ViewMessage(view any) ([]byte, error) {
	switch v := view.(type) {
	case card.ComparisonView:
		return NewEnvelope(TypeCardComparison, v)
	case card.PriceListView:
		return NewEnvelope(TypeCardPriceList, v)
	default:
		return nil, fmt.Errorf("unsupported view %T", view)
	}
}
