// cmd/backtest replays stored bars from SQLite through the paper gateway and
// a full scalping session, then prints the session statistics.
//
// Usage:
//
//	go run ./cmd/backtest -config scalper.yaml -speed=0 -from=2024-03-01
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"goldscalper/config"
	"goldscalper/internal/execution"
	"goldscalper/internal/logger"
	"goldscalper/internal/marketdata/replay"
	"goldscalper/internal/model"
	"goldscalper/internal/portfolio"
	"goldscalper/internal/session"
	sqlitestore "goldscalper/internal/store/sqlite"
)

// tradeLog keeps closed trades in memory for the summary.
type tradeLog struct {
	mu     sync.Mutex
	trades []model.ClosedTrade
}

func (l *tradeLog) RecordTrade(_ context.Context, _ string, t model.ClosedTrade) error {
	l.mu.Lock()
	l.trades = append(l.trades, t)
	l.mu.Unlock()
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "Path to YAML config (strategy, indicators, risk)")
	dbPath := flag.String("db", "", "SQLite bar database (default: storage.sqlite_path)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	fromStr := flag.String("from", "", "Replay bars from this date (YYYY-MM-DD, UTC); empty = all")
	verbose := flag.Bool("v", false, "Print every closed trade")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	if *dbPath == "" {
		*dbPath = cfg.Storage.SQLitePath
	}
	var from time.Time
	if *fromStr != "" {
		if from, err = time.Parse("2006-01-02", *fromStr); err != nil {
			log.Fatalf("[backtest] bad -from: %v", err)
		}
	}
	slogger := logger.Init("backtest", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	source, err := replay.FromReader(ctx, reader, cfg.Symbol, from, *speed)
	if err != nil {
		log.Fatalf("[backtest] load bars: %v", err)
	}
	if source.Len() == 0 {
		log.Fatalf("[backtest] no %s bars in %s", cfg.Symbol, *dbPath)
	}

	instrument := model.XAUUSD()
	instrument.Symbol = cfg.Symbol
	paper := execution.NewPaperGateway(execution.PaperConfig{
		Instrument:     instrument,
		SlippagePoints: cfg.Execution.SlippagePoints,
	}, source)
	stream, err := paper.StreamBars(ctx)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	trades := &tradeLog{}
	risk := portfolio.NewRiskManager(cfg.Risk, instrument, cfg.Execution.InitialEquity)
	sess, err := session.New(session.Config{
		SessionID:      cfg.Session.ID,
		Instrument:     instrument,
		Indicators:     cfg.Indicators,
		Strategy:       cfg.Strategy,
		GatewayTimeout: cfg.Execution.Timeout,
		PendingTimeout: cfg.Execution.PendingTimeout,
	}, session.Deps{
		Gateway: paper,
		Risk:    risk,
		Trades:  trades,
		Logger:  slogger,
	})
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	log.Printf("[backtest] replaying %d %s bars from %s (speed=%.0fx)", source.Len(), cfg.Symbol, *dbPath, *speed)
	started := time.Now()
	if err := sess.Run(ctx, stream); err != nil {
		log.Printf("[backtest] stopped early: %v", err)
	}

	if *verbose {
		for _, t := range trades.trades {
			fmt.Printf("  #%s %-5s %s -> %s  %s lots  pnl=%s  %s\n",
				t.Ticket, t.Side,
				instrument.Price(t.EntryPrice).StringFixed(2), instrument.Price(t.ExitPrice).StringFixed(2),
				t.LotSize.String(), t.PnL.StringFixed(2), t.CloseReason)
		}
	}

	st := sess.Stats()
	ev, _ := sess.LastEvent()
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Bars processed:    %-16d ║\n", ev.Seq)
	fmt.Printf("║  Trades opened:     %-16d ║\n", st.Opened)
	fmt.Printf("║  Trades closed:     %-16d ║\n", st.Closed)
	fmt.Printf("║  Wins / Losses:     %-16s ║\n", fmt.Sprintf("%d / %d", st.Wins, st.Losses))
	fmt.Printf("║  Win rate:          %-16s ║\n", fmt.Sprintf("%.1f%%", st.WinRate()))
	fmt.Printf("║  Total P&L:         %-16s ║\n", st.TotalPnL.StringFixed(2))
	fmt.Printf("║  Largest win:       %-16s ║\n", st.LargestWin.StringFixed(2))
	fmt.Printf("║  Largest loss:      %-16s ║\n", st.LargestLoss.StringFixed(2))
	fmt.Printf("║  Profit factor:     %-16s ║\n", profitFactor(trades.trades))
	fmt.Printf("║  Elapsed:           %-16s ║\n", time.Since(started).Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")

	if st.Opened > st.Closed {
		fmt.Fprintf(os.Stderr, "[backtest] %d position(s) still open at end of data\n", st.Opened-st.Closed)
	}
}

// profitFactor is gross profit over gross loss, "inf" when nothing was lost.
func profitFactor(trades []model.ClosedTrade) string {
	gain, loss := decimal.Zero, decimal.Zero
	for _, t := range trades {
		if t.PnL.IsPositive() {
			gain = gain.Add(t.PnL)
		} else {
			loss = loss.Add(t.PnL.Neg())
		}
	}
	if loss.IsZero() {
		if gain.IsZero() {
			return "-"
		}
		return "inf"
	}
	return gain.Div(loss).StringFixed(2)
}
