// cmd/scalper runs one XAUUSD scalping session against the paper gateway.
//
// Bars come from a websocket tick feed (aggregated into N-second bars) or
// are replayed from the SQLite bar store. Every processed bar is published
// to websocket clients, Redis and the log.
//
// Usage:
//
//	go run ./cmd/scalper -config scalper.yaml
//	go run ./cmd/scalper -print-config
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"goldscalper/config"
	"goldscalper/internal/api"
	"goldscalper/internal/execution"
	"goldscalper/internal/gateway"
	"goldscalper/internal/logger"
	"goldscalper/internal/markethours"
	"goldscalper/internal/metrics"
	"goldscalper/internal/model"
	"goldscalper/internal/notification"
	"goldscalper/internal/portfolio"
	"goldscalper/internal/session"
	redisstore "goldscalper/internal/store/redis"
	sqlitestore "goldscalper/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "Path to YAML config (optional; SCALPER_* env vars override)")
	printCfg := flag.Bool("print-config", false, "Print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[scalper] %v", err)
	}
	if *printCfg {
		out, err := cfg.YAML()
		if err != nil {
			log.Fatalf("[scalper] render config: %v", err)
		}
		os.Stdout.Write(out)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[scalper] %v", err)
	}
	log.Println("[scalper] stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	slogger := logger.Init("scalper", logger.ParseLevel(cfg.LogLevel))
	log.Printf("[scalper] starting: symbol=%s feed=%s interval=%s (%s)",
		cfg.Symbol, cfg.Feed.Mode, cfg.BarInterval, markethours.StatusString(time.Now()))

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus(cfg.Storage.RedisAddr != "", true)

	// ---- SQLite bar store ----
	for _, p := range []string{cfg.Storage.SQLitePath, cfg.Storage.JournalPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	bars, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.Storage.SQLitePath})
	if err != nil {
		return fmt.Errorf("sqlite init: %w", err)
	}
	defer bars.Close()
	reader, err := sqlitestore.NewReader(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("sqlite reader: %w", err)
	}
	defer reader.Close()

	journal, err := execution.NewJournal(cfg.Storage.JournalPath)
	if err != nil {
		return fmt.Errorf("journal init: %w", err)
	}
	defer journal.Close()

	// ---- Redis (optional) ----
	var redis *redisstore.Store
	if cfg.Storage.RedisAddr != "" {
		redis, err = redisstore.New(redisstore.Config{
			Addr:         cfg.Storage.RedisAddr,
			Password:     cfg.Storage.RedisPassword,
			DB:           cfg.Storage.RedisDB,
			EventChannel: cfg.Storage.EventChannel,
			OnStateChange: func(from, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
			},
		})
		if err != nil {
			log.Printf("[scalper] WARNING: redis init failed: %v (continuing without redis)", err)
			redis = nil
		} else {
			defer redis.Close()
		}
	}

	// ---- Notifications ----
	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.Notify.TelegramToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(notification.WebhookConfig{
			URL:      cfg.Notify.WebhookURL,
			Source:   "scalper",
			Symbol:   cfg.Symbol,
			MinLevel: notification.AlertLevel(cfg.Notify.WebhookMinLevel),
		}))
	}

	// ---- Bar feed & paper gateway ----
	instrument := model.XAUUSD()
	instrument.Symbol = cfg.Symbol
	g, gctx := errgroup.WithContext(ctx)

	source, err := openFeed(gctx, g, cfg, reader, bars, prom, health)
	if err != nil {
		return err
	}
	paper := execution.NewPaperGateway(execution.PaperConfig{
		Instrument:     instrument,
		SlippagePoints: cfg.Execution.SlippagePoints,
	}, source)
	stream, err := paper.StreamBars(gctx)
	if err != nil {
		return err
	}

	// ---- Session ----
	risk := portfolio.NewRiskManager(cfg.Risk, instrument, cfg.Execution.InitialEquity)
	var store model.SessionStore = bars
	if redis != nil {
		store = redis
	}
	sess, err := session.New(session.Config{
		SessionID:      cfg.Session.ID,
		Instrument:     instrument,
		Indicators:     cfg.Indicators,
		Strategy:       cfg.Strategy,
		GatewayTimeout: cfg.Execution.Timeout,
		PendingTimeout: cfg.Execution.PendingTimeout,
	}, session.Deps{
		Gateway:  paper,
		Risk:     risk,
		Store:    store,
		Trades:   journal,
		Notifier: notifiers,
		Metrics:  prom,
		Health:   health,
		Logger:   slogger,
	})
	if err != nil {
		return err
	}
	if cfg.Session.Resume {
		if cfg.Session.ID == "" {
			log.Println("[scalper] WARNING: session.resume needs session.id; starting fresh")
		} else if ok, err := sess.Resume(ctx); err != nil {
			return err
		} else if ok {
			log.Printf("[scalper] resumed session %s", sess.ID())
		}
	}
	if cfg.Feed.Mode == "ws" && cfg.Session.WarmupBars > 0 {
		if _, err := sess.Warmup(ctx, reader); err != nil {
			log.Printf("[scalper] WARNING: warmup failed: %v", err)
		}
	}

	hub := gateway.NewHub(0)
	sess.AddPublisher("ws", hub)
	sess.AddPublisher("log", session.NewLogPublisher(slogger))
	if redis != nil {
		sess.AddPublisher("redis", redis)
	}
	log.Printf("[scalper] session %s ready (lookback %d bars)", sess.ID(), sess.Window().Lookback())

	// ---- Servers ----
	router := &api.Router{Session: sess, Lag: hub.Lag, Health: health}
	if redis != nil {
		router.History = redis
	}
	if cfg.Server.WSAddr == "" {
		router.Stream = hub
	} else {
		g.Go(func() error { return serve(gctx, cfg.Server.WSAddr, hub) })
	}
	if cfg.Server.APIAddr != "" {
		srv := api.NewServer(cfg.Server.APIAddr, router)
		g.Go(func() error { return srv.Run(gctx) })
	}
	if cfg.Server.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.Server.MetricsAddr, health, nil)
		g.Go(func() error { return srv.Run(gctx) })
	}

	// ---- Background workers ----
	g.Go(func() error {
		if redis != nil {
			health.RunLivenessChecker(gctx, redis.Client(), bars.DB(), 10*time.Second)
		} else {
			health.RunLivenessChecker(gctx, nil, bars.DB(), 10*time.Second)
		}
		return nil
	})
	g.Go(func() error { return sess.RunAlerts(gctx) })
	g.Go(func() error { return sess.ListenClosures(gctx) })
	g.Go(func() error { return resetDaily(gctx, risk, slogger) })

	// ---- Session loop ----
	g.Go(func() error {
		defer hub.Shutdown()
		err := sess.Run(gctx, stream)
		st := sess.Stats()
		log.Printf("[scalper] session %s finished: closed=%d wins=%d losses=%d pnl=%s",
			sess.ID(), st.Closed, st.Wins, st.Losses, st.TotalPnL.StringFixed(2))
		if err == nil {
			// replay ended; stop the servers too
			return errReplayDone
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errReplayDone) {
		return err
	}
	return nil
}

var errReplayDone = errors.New("replay finished")

// resetDaily clears the daily loss counter at every trading-day rollover.
func resetDaily(ctx context.Context, risk *portfolio.RiskManager, log *slog.Logger) error {
	for {
		next := markethours.NextRollover(time.Now())
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
			risk.ResetDaily()
			log.Info("daily risk counters reset", slog.Time("rollover", next))
		}
	}
}

// serve runs a plain HTTP server for h until ctx is cancelled.
func serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[scalper] websocket hub listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	}
}
