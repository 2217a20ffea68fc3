package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"goldscalper/internal/model"
)

// Manage evaluates the exit and adjustment rules for each open position
// against the snapshot close. Pending positions and positions with a gateway
// call in flight are skipped. An exit for a position suppresses any other
// decision for it on the same bar.
func Manage(snap model.IndicatorSnapshot, open []model.PositionView, cfg Config) []model.Decision {
	var out []model.Decision
	for i := range open {
		p := &open[i]
		if p.InFlight || !p.State.Active() || p.Ticket == "" {
			continue
		}
		profit := p.ProfitPoints(snap.Close)

		if d, ok := exitRule(snap, p, profit, cfg); ok {
			out = append(out, d)
			continue
		}

		if !p.PartialClosed && cfg.PartialCloseTriggerPoints > 0 && cfg.PartialCloseFraction.IsPositive() &&
			profit >= cfg.PartialCloseTriggerPoints && partialAllowed(p.LotSize, cfg) {
			out = append(out, model.Decision{
				Kind:          model.DecisionPartialClose,
				Side:          p.Side,
				Ticket:        p.Ticket,
				CloseFraction: cfg.PartialCloseFraction,
				Conditions:    []model.Condition{model.CondPartialProfit},
				Reason:        fmt.Sprintf("profit %d >= %d points", profit, cfg.PartialCloseTriggerPoints),
			})
		}

		if !p.BreakEvenApplied && cfg.BreakEvenTriggerPoints > 0 && profit >= cfg.BreakEvenTriggerPoints &&
			stopBehindEntry(p) {
			out = append(out, model.Decision{
				Kind:       model.DecisionMoveStop,
				Side:       p.Side,
				Ticket:     p.Ticket,
				StopLoss:   p.EntryPrice,
				TakeProfit: p.TakeProfit,
				Conditions: []model.Condition{model.CondBreakEven},
				Reason:     fmt.Sprintf("profit %d >= %d points", profit, cfg.BreakEvenTriggerPoints),
			})
			continue
		}

		if d, ok := trailRule(snap, p, profit, cfg); ok {
			out = append(out, d)
		}
	}
	return out
}

// trailRule moves the stop to close ∓ ATR×k for a position in profit. The
// stop only tightens and never passes entry.
func trailRule(snap model.IndicatorSnapshot, p *model.PositionView, profit int64, cfg Config) (model.Decision, bool) {
	if cfg.TrailATRMultiplier <= 0 || snap.ATR <= 0 || profit <= 0 || p.BreakEvenApplied {
		return model.Decision{}, false
	}
	dist := int64(math.Round(float64(snap.ATR) * cfg.TrailATRMultiplier))
	var stop int64
	if p.Side == model.SideLong {
		stop = min(snap.Close-dist, p.EntryPrice)
		if p.StopLoss != 0 && stop <= p.StopLoss {
			return model.Decision{}, false
		}
	} else {
		stop = max(snap.Close+dist, p.EntryPrice)
		if p.StopLoss != 0 && stop >= p.StopLoss {
			return model.Decision{}, false
		}
	}
	return model.Decision{
		Kind:       model.DecisionMoveStop,
		Side:       p.Side,
		Ticket:     p.Ticket,
		StopLoss:   stop,
		TakeProfit: p.TakeProfit,
		Conditions: []model.Condition{model.CondTrailingStop},
		Reason:     fmt.Sprintf("trail %d points (ATR %d x %.2f) from %d", dist, snap.ATR, cfg.TrailATRMultiplier, snap.Close),
	}, true
}

// partialAllowed reports whether closing cfg.PartialCloseFraction of lots,
// floored to the volume step, leaves both parts at or above the minimum.
func partialAllowed(lots decimal.Decimal, cfg Config) bool {
	part := lots.Mul(cfg.PartialCloseFraction)
	if cfg.VolumeStep.IsPositive() {
		part = part.Div(cfg.VolumeStep).Floor().Mul(cfg.VolumeStep)
	}
	rest := lots.Sub(part)
	if !part.IsPositive() || !rest.IsPositive() {
		return false
	}
	return part.GreaterThanOrEqual(cfg.VolumeMin) && rest.GreaterThanOrEqual(cfg.VolumeMin)
}

func exitRule(snap model.IndicatorSnapshot, p *model.PositionView, profit int64, cfg Config) (model.Decision, bool) {
	exit := func(cond model.Condition, reason string) (model.Decision, bool) {
		return model.Decision{
			Kind:       model.DecisionExitPosition,
			Side:       p.Side,
			Ticket:     p.Ticket,
			Conditions: []model.Condition{cond},
			Reason:     reason,
		}, true
	}
	if cfg.MaxAdverseExcursionPoints > 0 && -profit >= cfg.MaxAdverseExcursionPoints {
		return exit(model.CondAdverseExcursion,
			fmt.Sprintf("adverse excursion %d >= %d points", -profit, cfg.MaxAdverseExcursionPoints))
	}
	if cfg.MaxHoldTime > 0 && profit <= 0 && !p.OpenedAt.IsZero() {
		if held := snap.Time.Sub(p.OpenedAt); held > cfg.MaxHoldTime {
			return exit(model.CondMaxHoldTime,
				fmt.Sprintf("held %s > %s at %d points", held, cfg.MaxHoldTime, profit))
		}
	}
	return model.Decision{}, false
}

// stopBehindEntry reports whether moving the stop to entry would tighten it.
func stopBehindEntry(p *model.PositionView) bool {
	if p.StopLoss == 0 {
		return true
	}
	if p.Side == model.SideLong {
		return p.StopLoss < p.EntryPrice
	}
	return p.StopLoss > p.EntryPrice
}
