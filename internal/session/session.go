// Package session runs one trading session: every bar goes through the
// indicator window, the rule set, the position tracker and the statistics
// aggregator, and comes out as an Event for the publishers.
//
// A Session is an explicit context object. Nothing is global; two sessions
// in one process share nothing.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"goldscalper/internal/execution"
	"goldscalper/internal/indicator"
	"goldscalper/internal/metrics"
	"goldscalper/internal/model"
	"goldscalper/internal/notification"
	"goldscalper/internal/portfolio"
	"goldscalper/internal/strategy"
)

const alertQueueSize = 64

// Config holds the session parameters. Strategy and Indicators are assumed
// validated.
type Config struct {
	SessionID      string // empty = generate
	Instrument     model.Instrument
	Indicators     indicator.Config
	Strategy       strategy.Config
	GatewayTimeout time.Duration
	SessionKey     string // persistence key; empty = "scalper:session:{id}"
	// PendingTimeout is how long a timed-out submit may stay Pending
	// without a matching gateway fill before it is abandoned. Default 30s.
	PendingTimeout time.Duration
}

// Deps are the collaborators a session drives. Only Gateway is required.
type Deps struct {
	Gateway  execution.Gateway
	Rules    strategy.Strategy      // default: strategy.NewRuleSet(cfg.Strategy)
	Risk     *portfolio.RiskManager // lot sizing and daily loss guard
	Store    model.SessionStore     // resumable snapshot
	Trades   model.TradeRecorder    // closed-trade journal
	Bars     model.BarWriter        // bar archive
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Logger   *slog.Logger
}

type namedPublisher struct {
	name string
	pub  Publisher
}

// Session is one trading session. ProcessBar must be called from a single
// goroutine; HandleClosure and the read accessors are safe from any.
type Session struct {
	id  string
	key string
	cfg Config

	window  *indicator.Window
	rules   strategy.Strategy
	tracker *portfolio.Tracker
	stats   *portfolio.Stats
	gw      execution.Gateway
	deps    Deps
	log     *slog.Logger

	publishers []namedPublisher
	alerts     chan notification.Alert

	seq     uint64
	evicted uint64
	last    atomic.Pointer[Event]

	mu       sync.Mutex
	pending  []model.ClosedTrade // applied closes not yet carried by an event
	reported map[string]struct{} // tickets whose close side effects ran
	dirty    bool                // state changed since the last save

	now func() time.Time
}

// New creates a session. The tracker and statistics start empty; call
// Resume to continue a persisted session.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Gateway == nil {
		return nil, fmt.Errorf("session: gateway is required")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.SessionKey == "" {
		cfg.SessionKey = "scalper:session:" + cfg.SessionID
	}
	if cfg.Instrument.Symbol == "" {
		cfg.Instrument = model.XAUUSD()
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 30 * time.Second
	}
	if cfg.Strategy.VolumeMin.IsZero() {
		cfg.Strategy.VolumeMin = cfg.Instrument.VolumeMin
	}
	if cfg.Strategy.VolumeStep.IsZero() {
		cfg.Strategy.VolumeStep = cfg.Instrument.VolumeStep
	}
	if deps.Rules == nil {
		deps.Rules = strategy.NewRuleSet(cfg.Strategy)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Session{
		id:       cfg.SessionID,
		key:      cfg.SessionKey,
		cfg:      cfg,
		window:   indicator.NewWindow(cfg.Indicators),
		rules:    deps.Rules,
		stats:    portfolio.NewStats(cfg.SessionID, time.Now().UTC()),
		gw:       deps.Gateway,
		deps:     deps,
		log:      deps.Logger.With(slog.String("session_id", cfg.SessionID)),
		alerts:   make(chan notification.Alert, alertQueueSize),
		reported: make(map[string]struct{}),
		now:      time.Now,
	}
	s.tracker = portfolio.NewTracker(observe(deps.Gateway, deps.Metrics), s.stats, portfolio.TrackerConfig{
		MaxConcurrentPositions: cfg.Strategy.MaxConcurrentPositions,
		Instrument:             cfg.Instrument,
		CallTimeout:            cfg.GatewayTimeout,
		Clock:                  func() time.Time { return s.now() },
	})
	if deps.Metrics != nil {
		deps.Metrics.WarmupBarsLeft.Set(float64(s.window.Lookback()))
	}
	return s, nil
}

// AddPublisher registers a publisher. Call before the first bar.
func (s *Session) AddPublisher(name string, p Publisher) {
	s.publishers = append(s.publishers, namedPublisher{name: name, pub: p})
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Key returns the persistence key.
func (s *Session) Key() string { return s.key }

// Tracker exposes the position tracker for pending-order reconciliation.
func (s *Session) Tracker() *portfolio.Tracker { return s.tracker }

// Window exposes the indicator window.
func (s *Session) Window() *indicator.Window { return s.window }

// Stats returns the current session statistics.
func (s *Session) Stats() portfolio.SessionStats { return s.tracker.Stats() }

// Positions returns copies of the non-closed positions.
func (s *Session) Positions() []model.PositionView { return s.tracker.Views() }

// LastEvent returns the most recent event, if any bar was processed.
func (s *Session) LastEvent() (Event, bool) {
	ev := s.last.Load()
	if ev == nil {
		return Event{}, false
	}
	return *ev, true
}

// Risk returns the risk guard status, or false when none is configured.
func (s *Session) Risk() (portfolio.RiskStatus, bool) {
	if s.deps.Risk == nil {
		return portfolio.RiskStatus{}, false
	}
	return s.deps.Risk.GetStatus(), true
}
