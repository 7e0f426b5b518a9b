// ha-fetch-history exports Home Assistant entity history to the CSV format the
// server's recorder is seeded from (entity_id,state,updated_ts). Reruns resume
// from the newest exported timestamp.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dashboard_cards/internal/config"
	"dashboard_cards/internal/hass"
	"dashboard_cards/internal/model"
)

type record struct {
	entityID string
	state    string
	ts       float64 // unix epoch seconds
}

type options struct {
	configPath string
	url        string
	token      string
	entities   []string
	days       int
	output     string
	pause      time.Duration
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "ha-fetch-history",
		Short:        "Export Home Assistant history for the configured cards to CSV",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, logrus.StandardLogger())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "config.yaml", "config file whose comparison cards name the entities")
	f.StringVar(&opts.url, "url", "", "Home Assistant base URL (overrides HA_URL)")
	f.StringVar(&opts.token, "token", "", "long-lived access token (overrides HA_TOKEN)")
	f.StringSliceVarP(&opts.entities, "entity", "e", nil, "extra entity to export (repeatable)")
	f.IntVar(&opts.days, "days", 400, "days to fetch on first run (ignored if output file has data)")
	f.StringVarP(&opts.output, "output", "o", "input/history.csv", "output CSV path")
	f.DurationVar(&opts.pause, "pause", 500*time.Millisecond, "pause between daily requests")
	return cmd
}

func run(ctx context.Context, opts options, logger *logrus.Logger) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	haURL := resolveFlag(opts.url, cfg.HomeAssistant.URL)
	haToken := resolveFlag(opts.token, cfg.HomeAssistant.Token)
	if haURL == "" {
		return errors.New("HA_URL not set: use --url or set HA_URL in .env")
	}
	if haToken == "" {
		return errors.New("HA_TOKEN not set: use --token or set HA_TOKEN in .env")
	}

	entityIDs := collectEntityIDs(cfg, opts.entities)
	if len(entityIDs) == 0 {
		return errors.New("no entities: add a temperature-comparison card or pass --entity")
	}

	existing, latestTS, err := loadExistingRecords(opts.output)
	if err != nil {
		return err
	}

	now := time.Now()
	var startTime time.Time
	if latestTS > 0 {
		startTime = time.Unix(int64(latestTS), 0).Add(-1 * time.Minute)
		logger.WithField("from", startTime.Format(time.RFC3339)).Info("resuming from latest timestamp minus 1min overlap")
	} else {
		startTime = now.AddDate(0, 0, -opts.days)
		logger.WithFields(logrus.Fields{"days": opts.days, "from": startTime.Format(time.RFC3339)}).Info("first run")
	}

	client := hass.NewTokenClient(haURL, haToken, hass.WithLogger(logger), hass.WithRetry(5, time.Second))
	newRecords, err := fetchRange(ctx, client, entityIDs, startTime, now, opts.pause, logger)
	if err != nil {
		return err
	}

	merged := mergeRecords(existing, newRecords)
	if err := os.MkdirAll(filepath.Dir(opts.output), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := writeCSV(opts.output, merged); err != nil {
		return fmt.Errorf("writing CSV: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"path":    opts.output,
		"records": len(merged),
		"was":     len(existing),
		"fetched": len(newRecords),
	}).Info("history exported")
	return nil
}

func resolveFlag(flagVal, fallback string) string {
	if flagVal != "" {
		return flagVal
	}
	return fallback
}

// collectEntityIDs returns the comparison-card entities plus extra, sorted
// and de-duplicated.
func collectEntityIDs(cfg *config.Config, extra []string) []string {
	ids := cfg.ComparisonEntities()
	for _, id := range extra {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// historySource is the part of the Home Assistant client the export needs.
type historySource interface {
	History(ctx context.Context, tr model.TimeRange, entityID string) ([]model.RawReading, error)
}

// fetchRange fetches day-sized windows so a long first run stays within
// what the history API returns comfortably.
func fetchRange(ctx context.Context, src historySource, entityIDs []string, startTime, endTime time.Time, pause time.Duration, logger *logrus.Logger) ([]record, error) {
	var out []record
	for start := startTime; start.Before(endTime); start = start.Add(24 * time.Hour) {
		end := start.Add(24 * time.Hour)
		if end.After(endTime) {
			end = endTime
		}

		day := 0
		for _, id := range entityIDs {
			readings, err := src.History(ctx, model.TimeRange{Start: start, End: end}, id)
			if err != nil {
				return nil, fmt.Errorf("fetching %s on %s: %w", id, start.Format("2006-01-02"), err)
			}
			for _, r := range readings {
				if r.State == "unavailable" || r.State == "unknown" || r.State == "" {
					continue
				}
				out = append(out, record{
					entityID: r.EntityID,
					state:    r.State,
					ts:       float64(r.LastChanged.UnixNano()) / 1e9,
				})
				day++
			}
		}
		logger.WithField("records", day).Infof("  %s", start.Format("2006-01-02"))

		if end.Before(endTime) && pause > 0 {
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return out, nil
}

func loadExistingRecords(path string) ([]record, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	// skip header
	if _, err := cr.Read(); err != nil {
		return nil, 0, nil
	}

	var records []record
	var maxTS float64

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(row) < 3 {
			continue
		}

		ts, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			continue
		}

		records = append(records, record{
			entityID: row[0],
			state:    row[1],
			ts:       ts,
		})
		if ts > maxTS {
			maxTS = ts
		}
	}

	return records, maxTS, nil
}

func mergeRecords(existing, new []record) []record {
	type key struct {
		entityID string
		ts       float64
	}

	seen := make(map[key]record, len(existing)+len(new))
	for _, r := range existing {
		seen[key{r.entityID, r.ts}] = r
	}
	for _, r := range new {
		seen[key{r.entityID, r.ts}] = r // new overwrites existing on conflict
	}

	merged := make([]record, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].entityID != merged[j].entityID {
			return merged[i].entityID < merged[j].entityID
		}
		return merged[i].ts < merged[j].ts
	})

	return merged
}

func writeCSV(path string, records []record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"entity_id", "state", "updated_ts"}); err != nil {
		return err
	}

	for _, r := range records {
		if err := w.Write([]string{
			r.entityID,
			r.state,
			strconv.FormatFloat(r.ts, 'f', 7, 64),
		}); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
