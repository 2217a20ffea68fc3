package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Take-profit modes.
const (
	TakeProfitFixed = "fixed"
	TakeProfitATR   = "atr"
)

// Config holds every threshold the rule set reads. Point values are in
// instrument points (0.01 for XAUUSD).
type Config struct {
	RSIOversold   float64 `mapstructure:"rsi_oversold" json:"rsi_oversold" validate:"gte=0,lte=100"`
	RSIOverbought float64 `mapstructure:"rsi_overbought" json:"rsi_overbought" validate:"gte=0,lte=100"`

	MaxConcurrentPositions int     `mapstructure:"max_concurrent_positions" json:"max_concurrent_positions" validate:"gte=1"`
	MaxSpreadPoints        float64 `mapstructure:"max_spread_points" json:"max_spread_points" validate:"gt=0"`

	DefaultLotSize decimal.Decimal `mapstructure:"default_lot_size" json:"default_lot_size"`
	StopLossPoints int64           `mapstructure:"stop_loss_points" json:"stop_loss_points" validate:"gt=0"`

	TakeProfitMode        string  `mapstructure:"take_profit_mode" json:"take_profit_mode" validate:"oneof=fixed atr"`
	TakeProfitPoints      int64   `mapstructure:"take_profit_points" json:"take_profit_points" validate:"gt=0"`
	TakeProfitATRMultiple float64 `mapstructure:"take_profit_atr_multiple" json:"take_profit_atr_multiple" validate:"gte=0"`
	MinTakeProfitPoints   int64   `mapstructure:"min_take_profit_points" json:"min_take_profit_points" validate:"gte=0"`
	MaxTakeProfitPoints   int64   `mapstructure:"max_take_profit_points" json:"max_take_profit_points" validate:"gte=0"`

	BreakEvenTriggerPoints    int64           `mapstructure:"break_even_trigger_points" json:"break_even_trigger_points" validate:"gte=0"`
	PartialCloseTriggerPoints int64           `mapstructure:"partial_close_trigger_points" json:"partial_close_trigger_points" validate:"gte=0"`
	PartialCloseFraction      decimal.Decimal `mapstructure:"partial_close_fraction" json:"partial_close_fraction"`

	// TrailATRMultiplier ratchets the stop to close ∓ ATR×k while a position
	// is in profit, never past entry. Zero disables it.
	TrailATRMultiplier float64 `mapstructure:"trail_atr_multiplier" json:"trail_atr_multiplier" validate:"gte=0"`

	// Broker volume limits, copied from the instrument. A partial close is
	// only proposed when both parts are at least VolumeMin.
	VolumeMin  decimal.Decimal `mapstructure:"-" json:"-"`
	VolumeStep decimal.Decimal `mapstructure:"-" json:"-"`

	// Zero disables the rule.
	EntryCooldown             time.Duration `mapstructure:"entry_cooldown" json:"entry_cooldown" validate:"gte=0"`
	LossCooldown              time.Duration `mapstructure:"loss_cooldown" json:"loss_cooldown" validate:"gte=0"`
	MaxHoldTime               time.Duration `mapstructure:"max_hold_time" json:"max_hold_time" validate:"gte=0"`
	MaxAdverseExcursionPoints int64         `mapstructure:"max_adverse_excursion_points" json:"max_adverse_excursion_points" validate:"gte=0"`
}

// DefaultConfig returns the XAUUSD 5-second scalper defaults.
func DefaultConfig() Config {
	return Config{
		RSIOversold:               30,
		RSIOverbought:             70,
		MaxConcurrentPositions:    3,
		MaxSpreadPoints:           35,
		DefaultLotSize:            decimal.RequireFromString("0.01"),
		StopLossPoints:            300,
		TakeProfitMode:            TakeProfitFixed,
		TakeProfitPoints:          1000,
		TakeProfitATRMultiple:     2,
		MinTakeProfitPoints:       50,
		MaxTakeProfitPoints:       1000,
		BreakEvenTriggerPoints:    200,
		PartialCloseTriggerPoints: 150,
		PartialCloseFraction:      decimal.RequireFromString("0.5"),
		TrailATRMultiplier:        0,
		VolumeMin:                 decimal.RequireFromString("0.01"),
		VolumeStep:                decimal.RequireFromString("0.01"),
		EntryCooldown:             10 * time.Second,
		LossCooldown:              60 * time.Second,
		MaxHoldTime:               0,
		MaxAdverseExcursionPoints: 0,
	}
}

// Validate checks the relations between fields that struct tags cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.RSIOversold >= c.RSIOverbought {
		errs = append(errs, fmt.Errorf("rsi_oversold %.2f must be below rsi_overbought %.2f", c.RSIOversold, c.RSIOverbought))
	}
	if !c.DefaultLotSize.IsPositive() {
		errs = append(errs, fmt.Errorf("default_lot_size %s must be positive", c.DefaultLotSize))
	}
	if c.PartialCloseFraction.IsNegative() || c.PartialCloseFraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("partial_close_fraction %s must be in [0, 1)", c.PartialCloseFraction))
	}
	if c.TakeProfitMode == TakeProfitATR {
		if c.TakeProfitATRMultiple <= 0 {
			errs = append(errs, errors.New("take_profit_atr_multiple must be positive in atr mode"))
		}
		if c.MaxTakeProfitPoints > 0 && c.MinTakeProfitPoints > c.MaxTakeProfitPoints {
			errs = append(errs, fmt.Errorf("min_take_profit_points %d exceeds max_take_profit_points %d", c.MinTakeProfitPoints, c.MaxTakeProfitPoints))
		}
	}
	return errors.Join(errs...)
}
