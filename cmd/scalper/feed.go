package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"goldscalper/config"
	"goldscalper/internal/marketdata/agg"
	"goldscalper/internal/marketdata/bus"
	"goldscalper/internal/marketdata/replay"
	"goldscalper/internal/marketdata/ws"
	"goldscalper/internal/metrics"
	"goldscalper/internal/model"
	sqlitestore "goldscalper/internal/store/sqlite"
)

// openFeed builds the bar source for the configured feed mode. In ws mode
// the ingest, aggregator, fan-out and bar archive run on g.
func openFeed(ctx context.Context, g *errgroup.Group, cfg *config.Config, reader *sqlitestore.Reader,
	writer *sqlitestore.Writer, prom *metrics.Metrics, health *metrics.HealthStatus) (model.BarStream, error) {

	if cfg.Feed.Mode == "replay" {
		from := time.Time{}
		if cfg.Feed.ReplayFrom > 0 {
			from = time.Now().Add(-cfg.Feed.ReplayFrom)
		}
		s, err := replay.FromReader(ctx, reader, cfg.Symbol, from, cfg.Feed.ReplaySpeed)
		if err != nil {
			return nil, err
		}
		health.SetFeedConnected(true)
		return s, nil
	}

	ing, err := ws.New(ws.Config{URL: cfg.Feed.URL, Symbol: cfg.Symbol})
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	ing.OnConnect = func() { health.SetFeedConnected(true) }
	ing.OnDisconnect = func(error) { health.SetFeedConnected(false) }
	ing.OnDrop = func() { prom.PublishDrops.WithLabelValues("ticks").Inc() }

	tickCh := make(chan model.Tick, 10000)
	barCh := make(chan model.PriceBar, 1000)

	aggregator := agg.New(cfg.BarInterval)
	aggregator.OnDroppedTick = func() { prom.PublishDrops.WithLabelValues("agg_late_tick").Inc() }
	fanout := bus.New(1000)
	fanout.OnDrop = func(name string) {
		prom.PublishDrops.WithLabelValues("bus_" + name).Inc()
	}
	sessionCh := fanout.Subscribe("session")
	archiveCh := fanout.Subscribe("sqlite")

	g.Go(func() error { return ing.Start(ctx, tickCh) })
	g.Go(func() error {
		aggregator.Run(ctx, tickCh, barCh)
		return nil
	})
	g.Go(func() error {
		fanout.Run(ctx, barCh)
		return nil
	})
	g.Go(func() error {
		writer.Run(ctx, cfg.Symbol, archiveCh)
		return nil
	})

	log.Printf("[scalper] tick feed %s -> %s bars", cfg.Feed.URL, aggregator.Interval())
	return replay.Chan(sessionCh), nil
}
