package domain

import (
	"fmt"
	"time"
)

// Trade is the persisted record of one listing trade. It is created at
// admission time, mutated only by the supervisor, and never deleted; the
// ledger keeps the full history for audit.
type Trade struct {
	ID              string      // Unique identifier, derived from symbol + entry timestamp
	Symbol          string      // Trading pair (e.g., "TAIKOUSDT")
	Side            OrderSide   // Entry side; always BUY for listing trades
	EntryTime       time.Time   // Timestamp when the position was entered
	EntryPrice      float64     // Fill price of the entry market order
	Quantity        float64     // Position size, fixed at entry
	StopLossPrice   float64     // Protective stop price, fixed at entry
	TakeProfitPrice float64     // Protective target price, fixed at entry
	Leverage        int         // Leverage used for the position
	NotionalAmount  float64     // Configured notional committed to the trade
	SourceMessage   string      // Raw announcement text, kept for audit
	Status          TradeStatus // ACTIVE until the single terminal write to CLOSED
	MaxHoldUntil    time.Time   // Hard hold deadline, fixed at creation
	CloseReason     CloseReason // Empty until closed
	ExitTime        time.Time   // Zero value until closed
	ExitPrice       float64     // 0 until closed
	PNL             float64     // Calculated on close
}

// NewTradeID derives the record identifier from the symbol and entry time.
func NewTradeID(symbol string, entryTime time.Time) string {
	return fmt.Sprintf("%s_%d", symbol, entryTime.Unix())
}

// IsActive checks whether the trade is still being supervised.
func (t *Trade) IsActive() bool {
	return t.Status == StatusActive
}

// HoldExpired reports whether the hold deadline has passed at the given instant.
func (t *Trade) HoldExpired(now time.Time) bool {
	return !now.Before(t.MaxHoldUntil)
}
