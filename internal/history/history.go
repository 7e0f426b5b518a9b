// Package history retrieves raw entity state history for a time range.
//
// A Fetcher never fails: transport and decoding errors are logged and turned
// into an empty result, so callers only ever deal with "no readings".
package history

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"dashboard_cards/internal/model"
)

// Service is a source of entity history.
type Service interface {
	History(ctx context.Context, tr model.TimeRange, entityID string) ([]model.RawReading, error)
}

// Availability is implemented by services that may be configured but unusable
// at runtime (e.g. an authenticated client without a token).
type Availability interface {
	Available() bool
}

// Select returns the first usable service in preference order, or nil.
func Select(candidates ...Service) Service {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if a, ok := c.(Availability); ok && !a.Available() {
			continue
		}
		return c
	}
	return nil
}

// Fetcher wraps a Service and absorbs its failures.
type Fetcher struct {
	service Service
	logger  *logrus.Logger
}

func NewFetcher(service Service, logger *logrus.Logger) *Fetcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Fetcher{service: service, logger: logger}
}

// Fetch returns the readings of entityID within tr. Any failure yields an
// empty slice and a warning.
func (f *Fetcher) Fetch(ctx context.Context, tr model.TimeRange, entityID string) []model.RawReading {
	fields := logrus.Fields{
		"entity_id": entityID,
		"start":     tr.Start.Format(time.RFC3339),
		"end":       tr.End.Format(time.RFC3339),
	}
	if f.service == nil {
		f.logger.WithFields(fields).Warn("no history service available")
		return []model.RawReading{}
	}

	readings, err := f.service.History(ctx, tr, entityID)
	if err != nil {
		fields["error"] = err
		f.logger.WithFields(fields).Warn("history call failed")
		return []model.RawReading{}
	}
	if readings == nil {
		return []model.RawReading{}
	}
	return readings
}
