// Package card implements the dashboard cards: their configuration, state
// delivery, refresh timers and the views they publish.
package card

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"dashboard_cards/internal/model"
	"dashboard_cards/internal/scheduler"
)

// DefaultDisplaySize is reported before a card has anything to show.
const DefaultDisplaySize = 3

// Card is a dashboard card driven by pushed state and its own refresh.
type Card interface {
	ID() string
	// Watches reports whether the card reads entityID.
	Watches(entityID string) bool
	// ReceiveState delivers a new state snapshot and re-renders.
	ReceiveState(states model.States)
	// DisplaySize approximates the card height in dashboard rows.
	DisplaySize() int
	// Refresh re-renders from the last received state.
	Refresh()
	// View returns the last rendered view, or nil.
	View() any
	// Close stops timers; later renders are discarded.
	Close()
}

// Renderer receives every view a card produces.
type Renderer interface {
	RenderComparison(v ComparisonView)
	RenderPriceList(v PriceListView)
}

// poller is implemented by cards that re-render on a recurring schedule.
type poller interface {
	Start(s *scheduler.Scheduler) error
}

// Registry holds the configured cards in order.
type Registry struct {
	mu     sync.RWMutex
	cards  []Card
	byID   map[string]Card
	logger *logrus.Logger
}

func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{byID: make(map[string]Card), logger: logger}
}

// Add registers a card; ids must be unique.
func (r *Registry) Add(c Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.ID()]; ok {
		return fmt.Errorf("duplicate card id %q", c.ID())
	}
	r.cards = append(r.cards, c)
	r.byID[c.ID()] = c
	return nil
}

func (r *Registry) Get(id string) (Card, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// All returns the cards in registration order.
func (r *Registry) All() []Card {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Card, len(r.cards))
	copy(out, r.cards)
	return out
}

// Start registers the recurring jobs of cards that poll.
func (r *Registry) Start(s *scheduler.Scheduler) error {
	for _, c := range r.All() {
		p, ok := c.(poller)
		if !ok {
			continue
		}
		if err := p.Start(s); err != nil {
			return fmt.Errorf("starting card %s: %w", c.ID(), err)
		}
	}
	return nil
}

// Dispatch delivers a state snapshot to the cards watching any of the changed
// entities, or to every card when changed is nil. Each card runs its cycle on
// its own goroutine; cycles are independent and the last render wins.
func (r *Registry) Dispatch(states model.States, changed []string) {
	for _, c := range r.All() {
		if changed != nil && !watchesAny(c, changed) {
			continue
		}
		go c.ReceiveState(states)
	}
}

func watchesAny(c Card, ids []string) bool {
	for _, id := range ids {
		if c.Watches(id) {
			return true
		}
	}
	return false
}

// Close tears down every card.
func (r *Registry) Close() {
	for _, c := range r.All() {
		c.Close()
	}
	r.logger.Debug("cards closed")
}
