// Package comparison computes the week-over-week, year-over-year temperature
// comparison: two 7-day inside averages, two outside point readings and an
// outdoor-corrected difference.
package comparison

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dashboard_cards/internal/history"
	"dashboard_cards/internal/model"
)

// Phase is a step of one computation cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRangesBuilt
	PhaseHistoryFetched
	PhaseAggregated
	PhaseCombined
	PhaseRendered
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRangesBuilt:
		return "ranges_built"
	case PhaseHistoryFetched:
		return "history_fetched"
	case PhaseAggregated:
		return "aggregated"
	case PhaseCombined:
		return "combined"
	case PhaseRendered:
		return "rendered"
	case PhaseErrored:
		return "errored"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Entities are the four series of a comparison, in configuration order.
type Entities struct {
	InsideNow       string
	InsideLastYear  string
	OutsideNow      string
	OutsideLastYear string
}

// Options tune the aggregation.
type Options struct {
	Weight         float64
	FallbackToLive bool
}

// LiveLookup returns the current textual state of an entity.
type LiveLookup interface {
	Live(ctx context.Context, entityID string) (string, bool, error)
}

// SnapshotLookup serves live values from a pushed state snapshot.
type SnapshotLookup model.States

func (s SnapshotLookup) Live(_ context.Context, entityID string) (string, bool, error) {
	st, ok := model.States(s).Get(entityID)
	if !ok {
		return "", false, nil
	}
	return st.State, true, nil
}

// Result is the outcome of one cycle. Absent values propagate into
// CorrectedDifference.
type Result struct {
	Ranges              Ranges
	InsideNow           Value
	InsideLastYear      Value
	OutsideNow          Value
	OutsideLastYear     Value
	CorrectedDifference Value
	// UsedLive is set for inside series whose history was empty and were
	// substituted by the live state.
	InsideNowLive      bool
	InsideLastYearLive bool
}

// Engine runs comparison cycles. It is immutable after construction and safe
// for concurrent use.
type Engine struct {
	fetcher  *history.Fetcher
	entities Entities
	opts     Options
	logger   *logrus.Logger
	onPhase  func(Phase)
}

func NewEngine(fetcher *history.Fetcher, entities Entities, opts Options, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{fetcher: fetcher, entities: entities, opts: opts, logger: logger}
}

// WithPhaseObserver returns a copy of the engine that reports every phase
// transition of Run to fn.
func (e *Engine) WithPhaseObserver(fn func(Phase)) *Engine {
	cp := *e
	cp.onPhase = fn
	return &cp
}

func (e *Engine) phase(p Phase) {
	if e.onPhase != nil {
		e.onPhase(p)
	}
}

// Run executes one cycle for the given instant. Fetch failures are absorbed
// by the fetcher; only live lookup errors and panics are returned.
func (e *Engine) Run(ctx context.Context, now time.Time, live LiveLookup) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("comparison cycle: %v", r)
		}
	}()

	res.Ranges = BuildRanges(now)
	e.phase(PhaseRangesBuilt)

	var insideNowHist, insideLastHist []model.RawReading
	var g errgroup.Group
	g.Go(func() error {
		insideNowHist = e.fetcher.Fetch(ctx, res.Ranges.Current, e.entities.InsideNow)
		return nil
	})
	g.Go(func() error {
		insideLastHist = e.fetcher.Fetch(ctx, res.Ranges.LastYear, e.entities.InsideLastYear)
		return nil
	})
	_ = g.Wait()
	e.phase(PhaseHistoryFetched)

	res.InsideNow = Average(insideNowHist)
	res.InsideLastYear = Average(insideLastHist)

	if e.opts.FallbackToLive {
		if !res.InsideNow.OK {
			v, err := e.liveValue(ctx, live, e.entities.InsideNow)
			if err != nil {
				return res, err
			}
			res.InsideNow, res.InsideNowLive = v, v.OK
		}
		if !res.InsideLastYear.OK {
			v, err := e.liveValue(ctx, live, e.entities.InsideLastYear)
			if err != nil {
				return res, err
			}
			res.InsideLastYear, res.InsideLastYearLive = v, v.OK
		}
	}

	if res.OutsideNow, err = e.liveValue(ctx, live, e.entities.OutsideNow); err != nil {
		return res, err
	}
	if res.OutsideLastYear, err = e.liveValue(ctx, live, e.entities.OutsideLastYear); err != nil {
		return res, err
	}
	e.phase(PhaseAggregated)

	res.CorrectedDifference = Combine(res.InsideNow, res.InsideLastYear, res.OutsideNow, res.OutsideLastYear, e.opts.Weight)
	e.phase(PhaseCombined)

	e.logger.WithFields(logrus.Fields{
		"inside_now":       res.InsideNow.OK,
		"inside_last_year": res.InsideLastYear.OK,
		"outside_now":      res.OutsideNow.OK,
		"outside_last":     res.OutsideLastYear.OK,
		"samples_now":      len(insideNowHist),
		"samples_last":     len(insideLastHist),
	}).Debug("comparison computed")
	return res, nil
}

func (e *Engine) liveValue(ctx context.Context, live LiveLookup, entityID string) (Value, error) {
	if live == nil {
		return None, nil
	}
	s, ok, err := live.Live(ctx, entityID)
	if err != nil {
		return None, fmt.Errorf("live state %s: %w", entityID, err)
	}
	if !ok {
		return None, nil
	}
	return ParseValue(s), nil
}
