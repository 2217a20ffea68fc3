package model

import "github.com/shopspring/decimal"

// Instrument describes the traded symbol and its broker volume constraints.
type Instrument struct {
	Symbol       string          `json:"symbol"`
	Point        decimal.Decimal `json:"point"`         // price of one point, e.g. 0.01
	ContractSize decimal.Decimal `json:"contract_size"` // units per 1.00 lot, e.g. 100 oz
	VolumeMin    decimal.Decimal `json:"volume_min"`
	VolumeMax    decimal.Decimal `json:"volume_max"`
	VolumeStep   decimal.Decimal `json:"volume_step"`
}

// XAUUSD returns the usual retail contract spec for spot gold.
func XAUUSD() Instrument {
	return Instrument{
		Symbol:       "XAUUSD",
		Point:        decimal.New(1, -2),
		ContractSize: decimal.NewFromInt(100),
		VolumeMin:    decimal.New(1, -2),
		VolumeMax:    decimal.NewFromInt(100),
		VolumeStep:   decimal.New(1, -2),
	}
}

// Price converts points into a price.
func (i Instrument) Price(points int64) decimal.Decimal {
	return decimal.NewFromInt(points).Mul(i.Point)
}

// Points converts a price into whole points, rounding half away from zero.
func (i Instrument) Points(price decimal.Decimal) int64 {
	if i.Point.IsZero() {
		return 0
	}
	return price.Div(i.Point).Round(0).IntPart()
}

// PnL returns the money result of moving `points` on `lots` lots.
func (i Instrument) PnL(points int64, lots decimal.Decimal) decimal.Decimal {
	return i.Price(points).Mul(i.ContractSize).Mul(lots)
}

// NormalizeLots floors lots to the volume step and clamps to [min, max].
func (i Instrument) NormalizeLots(lots decimal.Decimal) decimal.Decimal {
	if i.VolumeStep.IsPositive() {
		lots = lots.Div(i.VolumeStep).Floor().Mul(i.VolumeStep)
	}
	if lots.LessThan(i.VolumeMin) {
		lots = i.VolumeMin
	}
	if i.VolumeMax.IsPositive() && lots.GreaterThan(i.VolumeMax) {
		lots = i.VolumeMax
	}
	return lots
}
