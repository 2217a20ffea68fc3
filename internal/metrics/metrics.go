// Package metrics exposes Prometheus instrumentation for the scalper and a
// /healthz liveness endpoint.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for one scalper process.
type Metrics struct {
	BarsTotal      prometheus.Counter
	BarsRejected   prometheus.Counter
	BarProcessDur  prometheus.Histogram
	WarmupBarsLeft prometheus.Gauge
	BarLag         prometheus.Gauge

	// Signal evaluation
	DecisionsTotal *prometheus.CounterVec // labels: kind
	EntriesBlocked *prometheus.CounterVec // labels: reason=capacity|risk|gateway

	// Execution gateway
	GatewayCalls   *prometheus.CounterVec   // labels: op, result=ok|error|timeout
	GatewayLatency *prometheus.HistogramVec // labels: op

	// Positions & session
	OpenPositions     prometheus.Gauge
	ClosedTradesTotal *prometheus.CounterVec // labels: result=win|loss|breakeven
	SessionPnL        prometheus.Gauge

	// Bar history retention
	RingBufEvicted prometheus.Counter

	// Presentation fan-out
	PublishDrops *prometheus.CounterVec // labels: publisher

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_bars_total",
			Help: "Total bars processed",
		}),
		BarsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_bars_rejected_total",
			Help: "Bars rejected as invalid or out of order",
		}),
		BarProcessDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalper_bar_process_duration_seconds",
			Help:    "Time to run one bar through indicators, rules and tracker",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		WarmupBarsLeft: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_warmup_bars_remaining",
			Help: "Bars still needed before the indicator window is ready",
		}),
		BarLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_bar_lag_seconds",
			Help: "Lag between bar timestamp and processing time",
		}),

		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_decisions_total",
			Help: "Decisions produced by the rule set (by kind)",
		}, []string{"kind"}),
		EntriesBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_entries_blocked_total",
			Help: "Entry decisions downgraded to hold (by reason)",
		}, []string{"reason"}),

		GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_gateway_calls_total",
			Help: "Execution gateway calls (by operation and result)",
		}, []string{"op", "result"}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scalper_gateway_latency_seconds",
			Help:    "Execution gateway call latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),

		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_open_positions",
			Help: "Positions not yet closed, pending included",
		}),
		ClosedTradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_closed_trades_total",
			Help: "Closed trades (by result)",
		}, []string{"result"}),
		SessionPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_session_pnl",
			Help: "Realized session P&L in account currency",
		}),

		RingBufEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_ringbuf_evicted_total",
			Help: "Bars dropped from the bounded history",
		}),

		PublishDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalper_publish_drops_total",
			Help: "Events not delivered to a publisher",
		}, []string{"publisher"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalper_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalper_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.BarsTotal,
		m.BarsRejected,
		m.BarProcessDur,
		m.WarmupBarsLeft,
		m.BarLag,
		m.DecisionsTotal,
		m.EntriesBlocked,
		m.GatewayCalls,
		m.GatewayLatency,
		m.OpenPositions,
		m.ClosedTradesTotal,
		m.SessionPnL,
		m.RingBufEvicted,
		m.PublishDrops,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)
	return m
}

// ObserveGateway records one gateway call outcome.
func (m *Metrics) ObserveGateway(op string, started time.Time, err error, timeout bool) {
	result := "ok"
	switch {
	case timeout:
		result = "timeout"
	case err != nil:
		result = "error"
	}
	m.GatewayCalls.WithLabelValues(op, result).Inc()
	m.GatewayLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastBarTime    time.Time `json:"last_bar_time"`
	WindowReady    bool      `json:"window_ready"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// Dependencies that must be up for "healthy".
	requireRedis  bool
	requireSQLite bool
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(requireRedis, requireSQLite bool) *HealthStatus {
	return &HealthStatus{
		StartedAt:     time.Now(),
		requireRedis:  requireRedis,
		requireSQLite: requireSQLite,
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBar(t time.Time, windowReady bool) {
	h.mu.Lock()
	h.LastBarTime = t
	h.WindowReady = windowReady
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// RunLivenessChecker runs periodic dependency checks until ctx is done.
func (h *HealthStatus) RunLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if rdb != nil {
				h.CheckRedis(probeCtx, rdb)
			}
			if sqlDB != nil {
				h.CheckSQLite(probeCtx, sqlDB)
			}
			cancel()
		}
	}
}

// Report is the /healthz response body.
type Report struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	FeedConnected   bool    `json:"feed_connected"`
	LastBarTime     string  `json:"last_bar_time"`
	BarAge          string  `json:"bar_age"`
	WindowReady     bool    `json:"window_ready"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCheckAt     string  `json:"last_check_at"`
}

// Report summarizes the current health.
func (h *HealthStatus) Report() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, code := "healthy", http.StatusOK
	if !h.FeedConnected || (h.requireRedis && !h.RedisConnected) || (h.requireSQLite && !h.SQLiteOK) {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	if !h.FeedConnected && h.LastBarTime.IsZero() {
		status = "unhealthy"
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}
	return Report{
		Status:          status,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		WindowReady:     h.WindowReady,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(report)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. A nil gatherer serves the
// default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
