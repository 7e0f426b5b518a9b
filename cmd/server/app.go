package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"

	"dashboard_cards/internal/api"
	"dashboard_cards/internal/card"
	"dashboard_cards/internal/config"
	"dashboard_cards/internal/hass"
	"dashboard_cards/internal/history"
	"dashboard_cards/internal/scheduler"
	"dashboard_cards/internal/statestream"
	"dashboard_cards/internal/store"
	"dashboard_cards/internal/ws"
)

const shutdownTimeout = 5 * time.Second

// app wires the push sources, the recorder and the cards together.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	store    *store.Store
	rest     *hass.Client
	registry *card.Registry
	hub      *ws.Hub
	sched    *scheduler.Scheduler
	router   http.Handler
}

func newApp(cfg *config.Config, logger *logrus.Logger, frontendDir string) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  store.New(),
		hub:    ws.NewHub(logger),
		sched:  scheduler.New(logger),
	}

	if cfg.Recorder.SeedCSV != "" {
		n, err := loadSeed(cfg.Recorder.SeedCSV, a.store, logger)
		if err != nil {
			return nil, fmt.Errorf("seeding recorder: %w", err)
		}
		logger.WithFields(logrus.Fields{"path": cfg.Recorder.SeedCSV, "readings": n}).Info("recorder seeded")
	}

	ha := cfg.HomeAssistant
	a.rest = hass.NewTokenClient(ha.URL, ha.Token, hass.WithLogger(logger))
	recorder := a.recorder()
	service := history.Select(a.rest, recorder, a.session())
	if recorder != nil && service == recorder {
		a.store.Record(cfg.ComparisonEntities()...)
	}
	if service == nil {
		logger.Warn("no history source configured; cards fall back to live states")
	}
	fetcher := history.NewFetcher(service, logger)

	a.registry = card.NewRegistry(logger)
	if err := buildCards(cfg, a.registry, fetcher, ws.NewBridge(a.hub, logger), logger); err != nil {
		return nil, err
	}

	wsHandler := ws.NewHandler(a.hub, a.registry, logger)
	a.router = api.NewRouter(a.registry, wsHandler, frontendDir, logger)
	return a, nil
}

// recorder is the in-memory history, used when it can be filled.
func (a *app) recorder() history.Service {
	if a.cfg.MQTT.Broker == "" && a.cfg.Recorder.SeedCSV == "" {
		return nil
	}
	return a.store
}

// session covers a Home Assistant behind a proxy that handles auth.
func (a *app) session() history.Service {
	if a.cfg.HomeAssistant.URL == "" || a.cfg.HomeAssistant.Token != "" {
		return nil
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil
	}
	return hass.NewSessionClient(a.cfg.HomeAssistant.URL, jar, hass.WithLogger(a.logger))
}

func buildCards(cfg *config.Config, reg *card.Registry, fetcher *history.Fetcher, renderer card.Renderer, logger *logrus.Logger) error {
	for _, spec := range cfg.Cards {
		var c card.Card
		switch spec.Type {
		case config.TypeTemperatureComparison:
			cc, err := spec.Comparison()
			if err != nil {
				return fmt.Errorf("card %s: %w", spec.ID, err)
			}
			c = card.NewComparison(cc, fetcher, renderer, logger, card.WithFetchTimeout(cfg.HomeAssistant.FetchTimeout))
		case config.TypeChangedetectionList:
			pc, err := spec.PriceList()
			if err != nil {
				return fmt.Errorf("card %s: %w", spec.ID, err)
			}
			c = card.NewPriceList(pc, renderer, logger)
		default:
			return fmt.Errorf("card %s: unknown type %q", spec.ID, spec.Type)
		}
		if err := reg.Add(c); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) run(ctx context.Context) error {
	a.store.Subscribe(a.registry.Dispatch)
	if err := a.registry.Start(a.sched); err != nil {
		return err
	}

	pushed := false
	ha := a.cfg.HomeAssistant
	if ha.WebsocketEnabled() {
		sub, err := hass.NewSubscriber(ha.URL, ha.Token, a.store, a.logger)
		if err != nil {
			return err
		}
		go sub.RunForever(ctx)
		pushed = true
	}

	if a.cfg.MQTT.Broker != "" {
		mq := statestream.New(a.cfg.MQTT, a.store, a.logger)
		if err := mq.Start(ctx); err != nil {
			a.logger.WithError(err).Error("statestream unavailable")
		} else {
			defer mq.Stop()
			pushed = true
		}
	}

	switch {
	case pushed:
	case a.rest.Available():
		if _, err := a.sched.Every(ha.PollInterval, func() { a.pollStates(ctx) }); err != nil {
			return err
		}
		go a.pollStates(ctx)
	default:
		// nothing will push states; render once from the recorder
		a.registry.Dispatch(a.store.Snapshot(), nil)
	}
	a.sched.Start()

	access := a.logger.Writer()
	defer access.Close()
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           handlers.LoggingHandler(access, a.router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", srv.Addr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("http shutdown")
	}
	a.registry.Close()
	a.sched.Stop()
	return runErr
}

// pollStates merges the REST state list into the store; only changed
// entities reach the cards.
func (a *app) pollStates(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, a.cfg.HomeAssistant.FetchTimeout)
	defer cancel()
	states, err := a.rest.States(pollCtx)
	if err != nil {
		a.logger.WithError(err).Warn("polling states failed")
		return
	}
	a.store.Merge(states)
}
