package card

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"dashboard_cards/internal/config"
	"dashboard_cards/internal/model"
	"dashboard_cards/internal/pricelist"
	"dashboard_cards/internal/scheduler"
)

const textNoPrices = "No prices stored yet."

// PriceEntryView is one displayed price.
type PriceEntryView struct {
	Timestamp string `json:"timestamp"`
	Price     string `json:"price"`
}

// PriceItemView is one monitored page.
type PriceItemView struct {
	Title    string           `json:"title"`
	URL      string           `json:"url,omitempty"`
	Prices   []PriceEntryView `json:"prices"`
	NoPrices string           `json:"no_prices,omitempty"`
	Change   string           `json:"change,omitempty"`
}

// PriceListView is what the changedetection card displays.
type PriceListView struct {
	CardID      string          `json:"card_id"`
	Title       string          `json:"title"`
	Entity      string          `json:"entity"`
	Empty       bool            `json:"empty"`
	EmptyText   string          `json:"empty_text,omitempty"`
	Items       []PriceItemView `json:"items"`
	DisplaySize int             `json:"display_size"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PriceListCard lists changedetection items and their recent prices.
type PriceListCard struct {
	cfg      config.PriceList
	renderer Renderer
	logger   *logrus.Logger
	now      func() time.Time

	mu       sync.Mutex
	states   model.States
	hasState bool
	items    []pricelist.Item
	sched    *scheduler.Scheduler
	job      cron.EntryID
	closed   bool
	view     *PriceListView
}

func NewPriceList(cfg config.PriceList, renderer Renderer, logger *logrus.Logger) *PriceListCard {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PriceListCard{cfg: cfg, renderer: renderer, logger: logger, now: time.Now}
}

func (c *PriceListCard) ID() string { return c.cfg.ID }

func (c *PriceListCard) Watches(entityID string) bool { return entityID == c.cfg.Entity }

// Start re-renders the card every poll interval.
func (c *PriceListCard) Start(s *scheduler.Scheduler) error {
	id, err := s.Every(c.cfg.PollInterval, c.Refresh)
	if err != nil {
		return fmt.Errorf("price list poll: %w", err)
	}
	c.mu.Lock()
	c.sched, c.job = s, id
	c.mu.Unlock()
	return nil
}

func (c *PriceListCard) ReceiveState(states model.States) {
	c.mu.Lock()
	c.states = states
	c.hasState = true
	c.mu.Unlock()
	c.render()
}

func (c *PriceListCard) Refresh() {
	c.mu.Lock()
	ready := c.hasState
	c.mu.Unlock()
	if ready {
		c.render()
	}
}

// DisplaySize is 3 until a state arrives, then grows with the item count.
func (c *PriceListCard) DisplaySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasState {
		return DefaultDisplaySize
	}
	return pricelist.DisplaySize(c.items)
}

func (c *PriceListCard) View() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return nil
	}
	v := *c.view
	return v
}

func (c *PriceListCard) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.sched != nil {
		c.sched.Remove(c.job)
		c.sched = nil
	}
}

func (c *PriceListCard) render() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	payload := ""
	if st, ok := c.states.Get(c.cfg.Entity); ok {
		payload = st.State
	}
	c.mu.Unlock()

	items := pricelist.Parse(payload, c.logger)
	view := c.buildView(items)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.items = items
	c.view = &view
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{"card": c.cfg.ID, "items": len(items)}).Debug("price list rendered")
	if c.renderer != nil {
		c.renderer.RenderPriceList(view)
	}
}

func (c *PriceListCard) buildView(items []pricelist.Item) PriceListView {
	view := PriceListView{
		CardID:      c.cfg.ID,
		Title:       c.cfg.Title,
		Entity:      c.cfg.Entity,
		Items:       make([]PriceItemView, 0, len(items)),
		DisplaySize: pricelist.DisplaySize(items),
		UpdatedAt:   c.now(),
	}
	if len(items) == 0 {
		view.Empty = true
		view.EmptyText = fmt.Sprintf("No items stored in %s.", c.cfg.Entity)
		return view
	}

	for _, it := range items {
		iv := PriceItemView{
			Title:  it.Title,
			URL:    it.URL,
			Prices: []PriceEntryView{},
		}
		shown := pricelist.Select(it.Prices, c.cfg.MaxPrices, c.cfg.ShowLatestOnly)
		if len(shown) == 0 {
			iv.NoPrices = textNoPrices
		}
		for _, p := range shown {
			iv.Prices = append(iv.Prices, PriceEntryView{
				Timestamp: p.When(),
				Price:     pricelist.NormalizePrice(p.Value()),
			})
		}
		if change, ok := pricelist.Change(shown); ok {
			iv.Change = change
		}
		view.Items = append(view.Items, iv)
	}
	return view
}
