package strategy

import (
	"fmt"

	"goldscalper/internal/model"
)

// Evaluate applies the entry rules to one snapshot.
//
// Long: RSI below oversold, %K crossing above %D, the bar dipping to the MA
// from above in an up-sloping trend, room under the position cap and an
// acceptable spread. Short mirrors it. If both directions fire the result is
// Hold.
func Evaluate(in Input, cfg Config) model.Decision {
	snap := in.Snapshot

	longConds, longReasons := longSignal(snap, cfg)
	shortConds, shortReasons := shortSignal(snap, cfg)

	side, hold, ok := pickSide(longConds != nil, shortConds != nil)
	if !ok {
		return hold
	}
	conds, reasons := longConds, longReasons
	if side == model.SideShort {
		conds, reasons = shortConds, shortReasons
	}

	if n := len(in.Open); n >= cfg.MaxConcurrentPositions {
		return holdBecause("", fmt.Sprintf("%d of %d positions open", n, cfg.MaxConcurrentPositions))
	}
	if snap.SpreadPoints > cfg.MaxSpreadPoints {
		return holdBecause("", fmt.Sprintf("spread %.1f above max %.1f", snap.SpreadPoints, cfg.MaxSpreadPoints))
	}
	if msg, cooling := cooldownActive(side, in, cfg); cooling {
		return holdBecause("", msg)
	}

	conds = append(conds, model.CondSpreadOK)
	reasons = append(reasons, fmt.Sprintf("spread %.1f <= %.1f", snap.SpreadPoints, cfg.MaxSpreadPoints))

	entry := snap.Close
	sign := side.Sign()
	kind := model.DecisionEnterLong
	if side == model.SideShort {
		kind = model.DecisionEnterShort
	}
	return model.Decision{
		Kind:       kind,
		Side:       side,
		Entry:      entry,
		StopLoss:   entry - sign*cfg.StopLossPoints,
		TakeProfit: entry + sign*TakeProfitDistance(snap.ATR, cfg),
		LotSize:    cfg.DefaultLotSize,
		Conditions: conds,
		Reason:     model.JoinReasons(reasons),
	}
}

// pickSide resolves the two signal results into a side to trade. The MA
// slope cannot be up and down at once, so both firing needs a rule change;
// it still resolves to Hold.
func pickSide(longOK, shortOK bool) (model.Side, model.Decision, bool) {
	switch {
	case longOK && shortOK:
		return "", holdBecause(model.CondConflictingSignal, "long and short conditions both fired"), false
	case longOK:
		return model.SideLong, model.Decision{}, true
	case shortOK:
		return model.SideShort, model.Decision{}, true
	default:
		return "", model.Hold(), false
	}
}

// longSignal returns nil conditions unless every long signal rule fired.
func longSignal(s model.IndicatorSnapshot, cfg Config) ([]model.Condition, []string) {
	if s.RSI >= cfg.RSIOversold {
		return nil, nil
	}
	if !(s.PrevStochK <= s.PrevStochD && s.StochK > s.StochD) {
		return nil, nil
	}
	if !(s.Low <= s.MA && s.PrevClose > s.MA && s.MASlope == model.SlopeUp) {
		return nil, nil
	}
	return []model.Condition{model.CondRSIOversold, model.CondStochCrossUp, model.CondMAPullbackUp},
		[]string{
			fmt.Sprintf("RSI %.2f < %.2f", s.RSI, cfg.RSIOversold),
			fmt.Sprintf("%%K %.2f crossed above %%D %.2f", s.StochK, s.StochD),
			fmt.Sprintf("low %d <= MA %d from prev close %d, slope %s", s.Low, s.MA, s.PrevClose, s.MASlope),
		}
}

// shortSignal mirrors longSignal.
func shortSignal(s model.IndicatorSnapshot, cfg Config) ([]model.Condition, []string) {
	if s.RSI <= cfg.RSIOverbought {
		return nil, nil
	}
	if !(s.PrevStochK >= s.PrevStochD && s.StochK < s.StochD) {
		return nil, nil
	}
	if !(s.High >= s.MA && s.PrevClose < s.MA && s.MASlope == model.SlopeDown) {
		return nil, nil
	}
	return []model.Condition{model.CondRSIOverbought, model.CondStochCrossDown, model.CondMAPullbackDown},
		[]string{
			fmt.Sprintf("RSI %.2f > %.2f", s.RSI, cfg.RSIOverbought),
			fmt.Sprintf("%%K %.2f crossed below %%D %.2f", s.StochK, s.StochD),
			fmt.Sprintf("high %d >= MA %d from prev close %d, slope %s", s.High, s.MA, s.PrevClose, s.MASlope),
		}
}

func cooldownActive(side model.Side, in Input, cfg Config) (string, bool) {
	now := in.Snapshot.Time
	cd := in.Cooldown
	if cfg.LossCooldown > 0 && !cd.LastLossClose.IsZero() && now.Sub(cd.LastLossClose) < cfg.LossCooldown {
		return fmt.Sprintf("loss cooldown until %s", cd.LastLossClose.Add(cfg.LossCooldown).Format("15:04:05")), true
	}
	last := cd.LastLongEntry
	if side == model.SideShort {
		last = cd.LastShortEntry
	}
	if cfg.EntryCooldown > 0 && !last.IsZero() && now.Sub(last) < cfg.EntryCooldown {
		return fmt.Sprintf("%s entry cooldown until %s", side, last.Add(cfg.EntryCooldown).Format("15:04:05")), true
	}
	return "", false
}

// TakeProfitDistance returns the take-profit distance in points. In ATR mode
// it is ATR times the multiple, clamped to the configured range, and falls
// back to the fixed distance while ATR is unavailable.
func TakeProfitDistance(atr int64, cfg Config) int64 {
	if cfg.TakeProfitMode != TakeProfitATR || atr <= 0 {
		return cfg.TakeProfitPoints
	}
	d := int64(float64(atr)*cfg.TakeProfitATRMultiple + 0.5)
	if d < cfg.MinTakeProfitPoints {
		d = cfg.MinTakeProfitPoints
	}
	if cfg.MaxTakeProfitPoints > 0 && d > cfg.MaxTakeProfitPoints {
		d = cfg.MaxTakeProfitPoints
	}
	if d < 1 {
		d = 1
	}
	return d
}

func holdBecause(cond model.Condition, reason string) model.Decision {
	d := model.Hold()
	if cond != "" {
		d.Conditions = []model.Condition{cond}
	}
	d.Reason = reason
	return d
}
