// card-preview renders the configured cards once in the terminal, reading
// states and history from the Home Assistant REST API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dashboard_cards/internal/card"
	"dashboard_cards/internal/comparison"
	"dashboard_cards/internal/config"
	"dashboard_cards/internal/hass"
	"dashboard_cards/internal/history"
	"dashboard_cards/internal/model"
	"dashboard_cards/internal/render"
)

type options struct {
	configPath string
	format     string
	cardID     string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "card-preview",
		Short:        "Render dashboard cards once from live Home Assistant data",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML config file")
	cmd.Flags().StringVarP(&opts.format, "format", "o", string(render.FormatTable), "output format: table or json")
	cmd.Flags().StringVar(&opts.cardID, "card", "", "render only the card with this id")
	return cmd
}

func run(ctx context.Context, opts options, out io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	format := render.Format(opts.format)
	if format != render.FormatTable && format != render.FormatJSON {
		return fmt.Errorf("unknown format %q", opts.format)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	client := hass.NewTokenClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, hass.WithLogger(logger))
	if !client.Available() {
		return fmt.Errorf("home_assistant.url and token (or HA_URL/HA_TOKEN) are required")
	}

	statesCtx, cancel := context.WithTimeout(ctx, cfg.HomeAssistant.FetchTimeout)
	states, err := client.States(statesCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("reading states: %w", err)
	}

	return preview(cfg, opts.cardID, states, history.NewFetcher(client, logger), client, render.NewTerminal(out, format), logger)
}

// preview runs one cycle of every selected card against states. Comparison
// cards read their point values from live when it is set.
func preview(cfg *config.Config, only string, states model.States, fetcher *history.Fetcher, live comparison.LiveLookup, renderer card.Renderer, logger *logrus.Logger) error {
	found := false
	for _, spec := range cfg.Cards {
		if only != "" && spec.ID != only {
			continue
		}
		found = true

		var c card.Card
		switch spec.Type {
		case config.TypeTemperatureComparison:
			cc, err := spec.Comparison()
			if err != nil {
				return err
			}
			opts := []card.ComparisonOption{card.WithFetchTimeout(cfg.HomeAssistant.FetchTimeout)}
			if live != nil {
				opts = append(opts, card.WithLiveLookup(live))
			}
			c = card.NewComparison(cc, fetcher, renderer, logger, opts...)
		case config.TypeChangedetectionList:
			pc, err := spec.PriceList()
			if err != nil {
				return err
			}
			c = card.NewPriceList(pc, renderer, logger)
		default:
			return fmt.Errorf("card %s: unknown type %q", spec.ID, spec.Type)
		}
		c.ReceiveState(states)
		c.Close()
	}
	if !found {
		return fmt.Errorf("no card with id %q", only)
	}
	return nil
}
