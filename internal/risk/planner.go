package risk

import (
	"fmt"
	"math"
)

// Config holds the fixed percentage offsets and sizing parameters used for
// every trade. All values are set at process start.
type Config struct {
	NotionalAmount float64 // Quote-asset amount committed per trade (e.g., 1000 USDT)
	Leverage       int     // Position leverage (e.g., 3)
	StopLossPct    float64 // Stop-loss offset below entry, in percent (e.g., 2 for -2%)
	TakeProfitPct  float64 // Take-profit offset above entry, in percent (e.g., 15 for +15%)
}

// Planner derives the order parameters for a long entry from a fill price.
type Planner struct {
	cfg Config
}

// OrderPlan holds the derived parameters for one trade. Prices satisfy
// StopLossPrice < entry < TakeProfitPrice for any valid configuration.
type OrderPlan struct {
	Quantity        float64 // NotionalAmount * Leverage / entry price, before lot-size rounding
	StopLossPrice   float64 // entry * (1 - StopLossPct/100), rounded to price precision
	TakeProfitPrice float64 // entry * (1 + TakeProfitPct/100), rounded to price precision
}

// New validates the configuration and creates a planner.
func New(cfg Config) (*Planner, error) {
	if cfg.NotionalAmount <= 0 {
		return nil, fmt.Errorf("notional amount must be positive, got %f", cfg.NotionalAmount)
	}
	if cfg.Leverage <= 0 {
		return nil, fmt.Errorf("leverage must be positive, got %d", cfg.Leverage)
	}
	if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 100 {
		return nil, fmt.Errorf("stop loss percent must be between 0 and 100 (exclusive), got %f", cfg.StopLossPct)
	}
	if cfg.TakeProfitPct <= 0 {
		return nil, fmt.Errorf("take profit percent must be positive, got %f", cfg.TakeProfitPct)
	}
	return &Planner{cfg: cfg}, nil
}

// PlanEntry computes quantity and protective prices for a long entry filled
// at the given price. The derivation is deterministic and the resulting
// prices are never recalculated after the trade record is created.
func (p *Planner) PlanEntry(entryPrice float64) (*OrderPlan, error) {
	if entryPrice <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %f", entryPrice)
	}

	precision := PricePrecision(entryPrice)
	return &OrderPlan{
		Quantity:        p.cfg.NotionalAmount * float64(p.cfg.Leverage) / entryPrice,
		StopLossPrice:   RoundPrice(entryPrice*(1-p.cfg.StopLossPct/100), precision),
		TakeProfitPrice: RoundPrice(entryPrice*(1+p.cfg.TakeProfitPct/100), precision),
	}, nil
}

// PricePrecision returns the number of decimal places appropriate for the
// price level. Newly listed contracts trade at wildly different magnitudes,
// so precision is keyed on the price itself rather than per-symbol metadata.
func PricePrecision(price float64) int {
	switch {
	case price <= 10:
		return 4
	case price <= 100:
		return 3
	case price <= 1000:
		return 2
	default:
		return 1
	}
}

// RoundPrice rounds a price to the given number of decimal places.
func RoundPrice(price float64, precision int) float64 {
	factor := math.Pow10(precision)
	return math.Round(price*factor) / factor
}
