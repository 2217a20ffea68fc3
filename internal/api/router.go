// Package api serves the read-only session status over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"goldscalper/internal/gateway"
	"goldscalper/internal/markethours"
	"goldscalper/internal/model"
	"goldscalper/internal/portfolio"
	"goldscalper/internal/session"
)

// SessionView is the part of a session the API reads.
type SessionView interface {
	ID() string
	LastEvent() (session.Event, bool)
	Stats() portfolio.SessionStats
	Positions() []model.PositionView
	Risk() (portfolio.RiskStatus, bool)
}

// EventHistory returns recent events, oldest first.
type EventHistory interface {
	RecentEvents(ctx context.Context, n int64) ([]json.RawMessage, error)
}

const maxRecent = 500

// Router exposes the status endpoints.
type Router struct {
	Session SessionView
	History EventHistory    // optional
	Lag     *gateway.BarLag // optional
	Health  http.Handler    // optional, served at /healthz
	Stream  http.Handler    // optional websocket hub, served at /ws
}

// Register mounts the routes on the engine.
func (r *Router) Register(e *gin.Engine) {
	if r.Health != nil {
		e.GET("/healthz", gin.WrapH(r.Health))
	} else {
		e.GET("/healthz", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
	if r.Stream != nil {
		e.GET("/ws", gin.WrapH(r.Stream))
	}

	g := e.Group("/api/v1")
	g.GET("/status", r.handleStatus)
	g.GET("/positions", r.handlePositions)
	g.GET("/stats", r.handleStats)
	g.GET("/events/latest", r.handleLatest)
	g.GET("/events/recent", r.handleRecent)
}

type statusResponse struct {
	SessionID string                 `json:"session_id"`
	Seq       uint64                 `json:"seq"`
	LastBar   *model.PriceBar        `json:"last_bar,omitempty"`
	Warmup    bool                   `json:"warmup"`
	Market    string                 `json:"market"`
	Positions int                    `json:"open_positions"`
	Stats     portfolio.SessionStats `json:"stats"`
	WinRate   float64                `json:"win_rate"`
	Risk      *portfolio.RiskStatus  `json:"risk,omitempty"`
	Lag       *gateway.LagStats      `json:"fanout_lag_ms,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	stats := r.Session.Stats()
	resp := statusResponse{
		SessionID: r.Session.ID(),
		Warmup:    true,
		Market:    markethours.StatusString(time.Now()),
		Positions: len(r.Session.Positions()),
		Stats:     stats,
		WinRate:   stats.WinRate(),
	}
	if ev, ok := r.Session.LastEvent(); ok {
		resp.Seq = ev.Seq
		resp.LastBar = &ev.Bar
		resp.Warmup = ev.Warmup
	}
	if rs, ok := r.Session.Risk(); ok {
		resp.Risk = &rs
	}
	if r.Lag != nil {
		st := r.Lag.Stats()
		resp.Lag = &st
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handlePositions(c *gin.Context) {
	positions := r.Session.Positions()
	if positions == nil {
		positions = []model.PositionView{}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (r *Router) handleStats(c *gin.Context) {
	stats := r.Session.Stats()
	c.JSON(http.StatusOK, gin.H{"stats": stats, "win_rate": stats.WinRate()})
}

func (r *Router) handleLatest(c *gin.Context) {
	ev, ok := r.Session.LastEvent()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no bar processed yet"})
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (r *Router) handleRecent(c *gin.Context) {
	if r.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event history not configured"})
		return
	}
	n, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	if n > maxRecent {
		n = maxRecent
	}
	events, err := r.History.RecentEvents(c.Request.Context(), n)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []json.RawMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
