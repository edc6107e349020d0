package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// TradeStatus represents the lifecycle status of a trade record.
type TradeStatus string

const (
	StatusActive TradeStatus = "ACTIVE"
	StatusClosed TradeStatus = "CLOSED"
)

// CloseReason indicates why a trade was closed.
type CloseReason string

const (
	// CloseReasonTargetOrStopLoss is recorded when the protective orders
	// flattened the position on the exchange (detected as zero size).
	CloseReasonTargetOrStopLoss CloseReason = "TARGET_OR_STOPLOSS_HIT"
	// CloseReasonMaxHoldExpired is recorded when the hold deadline fired first.
	CloseReasonMaxHoldExpired CloseReason = "MAX_HOLD_EXPIRED"
	// CloseReasonManualStop is recorded for an operator/shutdown stop.
	CloseReasonManualStop CloseReason = "MANUAL_STOP"
	// CloseReasonProtectiveFailed is recorded when stop/target placement
	// failed after a filled entry and the position was emergency-closed.
	CloseReasonProtectiveFailed CloseReason = "PROTECTIVE_ORDER_FAILED"
)
