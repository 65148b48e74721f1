package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/market-engine/api"
	"github.com/warp/market-engine/config"
	"github.com/warp/market-engine/generic"
	"github.com/warp/market-engine/market"
	"github.com/warp/market-engine/metrics"
	"github.com/warp/market-engine/quests"
	"github.com/warp/market-engine/reports"
	"github.com/warp/market-engine/store/relational"
	"github.com/warp/market-engine/store/sqlite"
)

// app holds the wired services shared by every command.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	doc *sqlite.Store
	rel *relational.Store

	market  *market.Service
	tracker *quests.Tracker
	reports *reports.Service
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	defs := quests.DefaultDefinitions()
	if cfg.QuestFile != "" {
		var err error
		if defs, err = quests.LoadDefinitions(cfg.QuestFile); err != nil {
			return nil, err
		}
	}

	doc, err := sqlite.New(cfg.DocumentDBPath)
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}
	dialect, err := relational.ParseDialect(cfg.RelationalDriver)
	if err != nil {
		doc.Close()
		return nil, err
	}
	rel, err := relational.Open(ctx, dialect, cfg.RelationalDSN)
	if err != nil {
		doc.Close()
		return nil, fmt.Errorf("relational store: %w", err)
	}

	m := metrics.New()
	coord := generic.NewCoordinator(doc, cfg.RetryPolicy(), logger, m)
	ledger := generic.NewLedger()

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		doc:     doc,
		rel:     rel,
		market:  market.NewService(coord, ledger, cfg.Fee(), logger, m),
		tracker: quests.NewTracker(quests.Deps{
			Coordinator: coord,
			Ledger:      ledger,
			Definitions: defs,
			Scores:      rel,
			Activity:    rel,
			Contracts:   doc,
			Recorder:    m,
			Logger:      logger,
			Location:    cfg.Location(),
		}),
		reports: reports.NewService(rel, rel, doc, doc, reports.Config{
			Domain:      cfg.Domain,
			Limit:       cfg.ReportLimit,
			Concurrency: cfg.ReportConcurrency,
		}, logger, m),
	}
	return a, nil
}

func (a *app) handler() *api.Handler {
	return &api.Handler{
		Market:  a.market,
		Quests:  a.tracker,
		Reports: a.reports,
		Ledger:  a.doc,
		Checks:  map[string]api.Pinger{"document": a.doc, "relational": a.rel},
		Logger:  a.logger,
	}
}

func (a *app) poller() *api.TriggerPoller {
	p := api.NewTriggerPoller(a.rel, a.tracker, a.logger)
	p.Interval = a.cfg.TriggerPollInterval
	p.BatchSize = a.cfg.TriggerBatchSize
	return p
}

func (a *app) Close() error {
	return errors.Join(a.rel.Close(), a.doc.Close())
}
