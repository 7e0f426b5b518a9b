package card

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dashboard_cards/internal/comparison"
	"dashboard_cards/internal/config"
	"dashboard_cards/internal/history"
	"dashboard_cards/internal/model"
)

const (
	textNotAvailable = "n/a"
	textInsufficient = "insufficient data"
	textError        = "error"
	comparisonNote   = "Calculated as (inside_last_year_avg - inside_now_avg) + (outside_now - outside_last_year)"
)

// ComparisonValues carries the raw numbers; nil means absent.
type ComparisonValues struct {
	InsideNow           *float64 `json:"inside_now"`
	InsideLastYear      *float64 `json:"inside_last_year"`
	OutsideNow          *float64 `json:"outside_now"`
	OutsideLastYear     *float64 `json:"outside_last_year"`
	CorrectedDifference *float64 `json:"corrected_difference"`
}

// ComparisonView is what the temperature comparison card displays.
type ComparisonView struct {
	CardID          string           `json:"card_id"`
	Title           string           `json:"title"`
	InsideNow       string           `json:"inside_now"`
	InsideLastYear  string           `json:"inside_last_year"`
	OutsideNow      string           `json:"outside_now"`
	OutsideLastYear string           `json:"outside_last_year"`
	Difference      string           `json:"difference"`
	Note            string           `json:"note"`
	Error           string           `json:"error,omitempty"`
	Values          ComparisonValues `json:"values"`
	Phase           string           `json:"phase"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// ComparisonCard shows the outdoor-corrected year-over-year difference of
// 7-day inside temperature averages.
type ComparisonCard struct {
	cfg      config.Comparison
	engine   *comparison.Engine
	renderer Renderer
	logger   *logrus.Logger
	timeout  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	states   model.States
	hasState bool
	live     comparison.LiveLookup
	timer    *time.Timer
	closed   bool
	phase    comparison.Phase
	view     *ComparisonView
}

type ComparisonOption func(*ComparisonCard)

// WithLiveLookup reads live values from l instead of the pushed snapshot.
// Such a card can run cycles before any state has been pushed.
func WithLiveLookup(l comparison.LiveLookup) ComparisonOption {
	return func(c *ComparisonCard) { c.live = l }
}

// WithFetchTimeout bounds one cycle's history calls.
func WithFetchTimeout(d time.Duration) ComparisonOption {
	return func(c *ComparisonCard) { c.timeout = d }
}

func withClock(now func() time.Time) ComparisonOption {
	return func(c *ComparisonCard) { c.now = now }
}

func NewComparison(cfg config.Comparison, fetcher *history.Fetcher, renderer Renderer, logger *logrus.Logger, opts ...ComparisonOption) *ComparisonCard {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &ComparisonCard{
		cfg:      cfg,
		renderer: renderer,
		logger:   logger,
		timeout:  config.DefaultFetchTimeout,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	engine := comparison.NewEngine(fetcher, comparison.Entities{
		InsideNow:       cfg.InsideNow,
		InsideLastYear:  cfg.InsideLastYear,
		OutsideNow:      cfg.OutsideNow,
		OutsideLastYear: cfg.OutsideLastYear,
	}, comparison.Options{
		Weight:         cfg.Weight,
		FallbackToLive: cfg.FallbackToLive,
	}, logger)
	c.engine = engine.WithPhaseObserver(c.setPhase)
	return c
}

func (c *ComparisonCard) ID() string { return c.cfg.ID }

func (c *ComparisonCard) Watches(entityID string) bool {
	switch entityID {
	case c.cfg.InsideNow, c.cfg.InsideLastYear, c.cfg.OutsideNow, c.cfg.OutsideLastYear:
		return true
	}
	return false
}

func (c *ComparisonCard) DisplaySize() int { return DefaultDisplaySize }

func (c *ComparisonCard) ReceiveState(states model.States) {
	c.mu.Lock()
	c.states = states
	c.hasState = true
	c.mu.Unlock()
	c.runCycle()
}

func (c *ComparisonCard) Refresh() { c.runCycle() }

// Phase returns the phase of the most recent cycle.
func (c *ComparisonCard) Phase() comparison.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *ComparisonCard) View() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return nil
	}
	v := *c.view
	return v
}

// Close stops the refresh timer. In-flight cycles finish but their results
// are discarded.
func (c *ComparisonCard) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *ComparisonCard) setPhase(p comparison.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = p
}

func (c *ComparisonCard) runCycle() {
	c.mu.Lock()
	if c.closed || (!c.hasState && c.live == nil) {
		c.mu.Unlock()
		return
	}
	var lookup comparison.LiveLookup = comparison.SnapshotLookup(c.states)
	if c.live != nil {
		lookup = c.live
	}
	c.phase = comparison.PhaseIdle
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	res, err := c.engine.Run(ctx, c.now(), lookup)
	cancel()

	var view ComparisonView
	if err != nil {
		c.logger.WithFields(logrus.Fields{"card": c.cfg.ID, "error": err}).Error("temperature comparison failed")
		view = c.errorView(err)
	} else {
		view = c.resultView(res)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.phase = comparison.PhaseErrored
	} else {
		c.phase = comparison.PhaseRendered
	}
	view.Phase = c.phase.String()
	c.view = &view
	// the next cycle is scheduled whether or not this one failed
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.cfg.RefreshInterval, c.runCycle)
	c.mu.Unlock()

	if c.renderer != nil {
		c.renderer.RenderComparison(view)
	}
}

func (c *ComparisonCard) note() string {
	if c.cfg.Weight == 1 {
		return comparisonNote
	}
	return fmt.Sprintf("%s × %.2f", comparisonNote, c.cfg.Weight)
}

func (c *ComparisonCard) resultView(res comparison.Result) ComparisonView {
	difference := textInsufficient
	if res.CorrectedDifference.OK {
		difference = formatTemp(res.CorrectedDifference)
	}
	return ComparisonView{
		CardID:          c.cfg.ID,
		Title:           c.cfg.Title,
		InsideNow:       formatTemp(res.InsideNow),
		InsideLastYear:  formatTemp(res.InsideLastYear),
		OutsideNow:      formatTemp(res.OutsideNow),
		OutsideLastYear: formatTemp(res.OutsideLastYear),
		Difference:      difference,
		Note:            c.note(),
		Values: ComparisonValues{
			InsideNow:           ptr(res.InsideNow),
			InsideLastYear:      ptr(res.InsideLastYear),
			OutsideNow:          ptr(res.OutsideNow),
			OutsideLastYear:     ptr(res.OutsideLastYear),
			CorrectedDifference: ptr(res.CorrectedDifference),
		},
		UpdatedAt: c.now(),
	}
}

func (c *ComparisonCard) errorView(err error) ComparisonView {
	return ComparisonView{
		CardID:          c.cfg.ID,
		Title:           c.cfg.Title,
		InsideNow:       textError,
		InsideLastYear:  textError,
		OutsideNow:      textError,
		OutsideLastYear: textError,
		Difference:      textError,
		Note:            c.note(),
		Error:           "Error: " + err.Error(),
		UpdatedAt:       c.now(),
	}
}

func formatTemp(v comparison.Value) string {
	if !v.OK {
		return textNotAvailable
	}
	return fmt.Sprintf("%.2f°C", v.V)
}

func ptr(v comparison.Value) *float64 {
	if !v.OK {
		return nil
	}
	f := v.V
	return &f
}
