// Package strategy holds the scalper's rule set: a pure entry evaluator and
// the position management rules (break-even, partial close, time and
// excursion exits).
//
// Nothing here keeps state between calls. Everything a rule needs, including
// cooldown timestamps, arrives in its arguments, so identical inputs always
// produce identical decisions.
package strategy

import (
	"time"

	"goldscalper/internal/model"
)

// Strategy is the interface the session drives once per bar.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Evaluate decides whether to open a new position.
	Evaluate(in Input) model.Decision

	// Manage returns adjustments and exits for the open positions.
	Manage(snap model.IndicatorSnapshot, open []model.PositionView) []model.Decision
}

// Input is everything an entry evaluation reads.
type Input struct {
	Snapshot model.IndicatorSnapshot
	Open     []model.PositionView // pending positions included
	Cooldown Cooldown
}

// Cooldown carries the timestamps the cooldown rules compare against the
// snapshot time. Zero values mean "never".
type Cooldown struct {
	LastLongEntry  time.Time `json:"last_long_entry"`
	LastShortEntry time.Time `json:"last_short_entry"`
	LastLossClose  time.Time `json:"last_loss_close"`
}

// RuleSet binds a Config to the package-level rule functions.
type RuleSet struct {
	cfg Config
}

// NewRuleSet creates the scalper rule set. cfg is assumed validated.
func NewRuleSet(cfg Config) *RuleSet {
	return &RuleSet{cfg: cfg}
}

func (r *RuleSet) Name() string { return "rsi_stoch_ma_pullback" }

// Config returns the thresholds in use.
func (r *RuleSet) Config() Config { return r.cfg }

func (r *RuleSet) Evaluate(in Input) model.Decision {
	return Evaluate(in, r.cfg)
}

func (r *RuleSet) Manage(snap model.IndicatorSnapshot, open []model.PositionView) []model.Decision {
	return Manage(snap, open, r.cfg)
}
