package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"goldscalper/internal/model"
)

// SessionStats is the aggregate performance of one session.
type SessionStats struct {
	SessionID   string          `json:"session_id"`
	Opened      int             `json:"opened"`
	Closed      int             `json:"closed"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	Breakeven   int             `json:"breakeven"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	LargestWin  decimal.Decimal `json:"largest_win"`
	LargestLoss decimal.Decimal `json:"largest_loss"` // most negative pnl seen, <= 0
	StartedAt   time.Time       `json:"started_at"`
}

// WinRate returns wins as a percentage of closed trades.
func (s SessionStats) WinRate() float64 {
	if s.Closed == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Closed) * 100
}

// Stats aggregates closed trades for one session. Each ticket is counted at
// most once; duplicate close notifications are ignored.
//
// Not safe for concurrent use. The Tracker serializes access under its lock.
type Stats struct {
	cur      SessionStats
	recorded map[string]struct{}
}

// NewStats starts a fresh session.
func NewStats(sessionID string, startedAt time.Time) *Stats {
	return &Stats{
		cur: SessionStats{
			SessionID:   sessionID,
			TotalPnL:    decimal.Zero,
			LargestWin:  decimal.Zero,
			LargestLoss: decimal.Zero,
			StartedAt:   startedAt,
		},
		recorded: make(map[string]struct{}),
	}
}

// RecordOpen counts a newly opened position.
func (s *Stats) RecordOpen() {
	s.cur.Opened++
}

// RecordClose folds a closed trade into the totals. Returns false when the
// ticket was already recorded.
func (s *Stats) RecordClose(tr model.ClosedTrade) bool {
	if _, dup := s.recorded[tr.Ticket]; dup {
		return false
	}
	s.recorded[tr.Ticket] = struct{}{}

	s.cur.Closed++
	s.cur.TotalPnL = s.cur.TotalPnL.Add(tr.PnL)
	switch tr.PnL.Sign() {
	case 1:
		s.cur.Wins++
		if tr.PnL.GreaterThan(s.cur.LargestWin) {
			s.cur.LargestWin = tr.PnL
		}
	case -1:
		s.cur.Losses++
		if tr.PnL.LessThan(s.cur.LargestLoss) {
			s.cur.LargestLoss = tr.PnL
		}
	default:
		s.cur.Breakeven++
	}
	return true
}

// Recorded reports whether the ticket's close has been counted.
func (s *Stats) Recorded(ticket string) bool {
	_, ok := s.recorded[ticket]
	return ok
}

// Snapshot returns a copy of the current totals.
func (s *Stats) Snapshot() SessionStats {
	return s.cur
}

// Tickets returns the recorded tickets, for persistence.
func (s *Stats) Tickets() []string {
	out := make([]string, 0, len(s.recorded))
	for t := range s.recorded {
		out = append(out, t)
	}
	return out
}

// Restore replaces the totals with a persisted snapshot.
func (s *Stats) Restore(st SessionStats, tickets []string) {
	s.cur = st
	s.recorded = make(map[string]struct{}, len(tickets))
	for _, t := range tickets {
		s.recorded[t] = struct{}{}
	}
}
