package portfolio

import (
	"fmt"
	"log"
	"sync"

	"github.com/shopspring/decimal"

	"goldscalper/internal/model"
)

// RiskLimits defines configurable risk management thresholds. Zero disables
// a limit.
type RiskLimits struct {
	RiskPercent    float64         `mapstructure:"risk_percent" json:"risk_percent" validate:"gte=0,lte=100"`         // equity % risked per trade
	MaxDailyLoss   decimal.Decimal `mapstructure:"max_daily_loss" json:"max_daily_loss"`                              // account currency
	MaxDrawdownPct float64         `mapstructure:"max_drawdown_pct" json:"max_drawdown_pct" validate:"gte=0,lte=100"` // from peak equity
}

// DefaultRiskLimits returns conservative default limits.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		RiskPercent:    0,
		MaxDailyLoss:   decimal.Zero,
		MaxDrawdownPct: 0,
	}
}

// RiskManager sizes entries from account equity and blocks new trades once
// the daily loss or drawdown limit is breached.
type RiskManager struct {
	mu         sync.RWMutex
	limits     RiskLimits
	instrument model.Instrument

	dailyPnL   decimal.Decimal
	equity     decimal.Decimal
	peakEquity decimal.Decimal
}

// NewRiskManager creates a RiskManager with the given limits and starting equity.
func NewRiskManager(limits RiskLimits, instrument model.Instrument, initialEquity decimal.Decimal) *RiskManager {
	return &RiskManager{
		limits:     limits,
		instrument: instrument,
		dailyPnL:   decimal.Zero,
		equity:     initialEquity,
		peakEquity: initialEquity,
	}
}

// LotSize returns the lots that risk RiskPercent of equity over a stop of
// stopLossPoints, normalized to the instrument's volume constraints. Falls
// back to fallback when sizing is disabled or impossible.
func (rm *RiskManager) LotSize(stopLossPoints int64, fallback decimal.Decimal) decimal.Decimal {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if rm.limits.RiskPercent <= 0 || stopLossPoints <= 0 || !rm.equity.IsPositive() {
		return fallback
	}
	riskAmount := rm.equity.Mul(decimal.NewFromFloat(rm.limits.RiskPercent)).Div(decimal.NewFromInt(100))
	lossPerLot := rm.instrument.PnL(stopLossPoints, decimal.NewFromInt(1))
	if !lossPerLot.IsPositive() {
		return fallback
	}
	return rm.instrument.NormalizeLots(riskAmount.Div(lossPerLot))
}

// CanTrade checks whether a new entry is allowed. Returns false with a
// reason when a limit is breached.
func (rm *RiskManager) CanTrade() (bool, string) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if rm.limits.MaxDailyLoss.IsPositive() && rm.dailyPnL.LessThanOrEqual(rm.limits.MaxDailyLoss.Neg()) {
		return false, fmt.Sprintf("daily loss %s reached limit %s", rm.dailyPnL.Neg(), rm.limits.MaxDailyLoss)
	}
	if rm.limits.MaxDrawdownPct > 0 {
		if dd := rm.drawdownLocked(); dd > rm.limits.MaxDrawdownPct {
			return false, fmt.Sprintf("drawdown %.2f%% exceeds %.2f%%", dd, rm.limits.MaxDrawdownPct)
		}
	}
	return true, ""
}

// RecordPnL updates daily P&L and equity tracking.
func (rm *RiskManager) RecordPnL(pnl decimal.Decimal) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.dailyPnL = rm.dailyPnL.Add(pnl)
	rm.equity = rm.equity.Add(pnl)
	if rm.equity.GreaterThan(rm.peakEquity) {
		rm.peakEquity = rm.equity
	}

	log.Printf("[risk] daily P&L: %s, equity: %s, peak: %s", rm.dailyPnL, rm.equity, rm.peakEquity)
}

// ResetDaily resets the daily P&L counter (call at the start of a trading day).
func (rm *RiskManager) ResetDaily() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.dailyPnL = decimal.Zero
}

func (rm *RiskManager) drawdownLocked() float64 {
	if !rm.peakEquity.IsPositive() {
		return 0
	}
	dd, _ := rm.peakEquity.Sub(rm.equity).Div(rm.peakEquity).Mul(decimal.NewFromInt(100)).Float64()
	return dd
}

// RiskStatus is the current risk view.
type RiskStatus struct {
	DailyPnL    decimal.Decimal `json:"daily_pnl"`
	Equity      decimal.Decimal `json:"equity"`
	PeakEquity  decimal.Decimal `json:"peak_equity"`
	DrawdownPct float64         `json:"drawdown_pct"`
	Limits      RiskLimits      `json:"limits"`
}

// GetStatus returns current risk status.
func (rm *RiskManager) GetStatus() RiskStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return RiskStatus{
		DailyPnL:    rm.dailyPnL,
		Equity:      rm.equity,
		PeakEquity:  rm.peakEquity,
		DrawdownPct: rm.drawdownLocked(),
		Limits:      rm.limits,
	}
}
