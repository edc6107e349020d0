package ports

import "context"

// EntryFill reports the outcome of a filled market entry.
type EntryFill struct {
	Symbol   string  // Symbol the entry was placed for
	Price    float64 // Average fill price (ticker fallback if the exchange omits it)
	Quantity float64 // Executed quantity after lot-size rounding
	Leverage int     // Leverage in effect for the position
	OrderID  int64   // Exchange's order ID
}

// CloseFill reports the outcome of a force-close at market.
type CloseFill struct {
	Price    float64 // Exit price (mark-price fallback if the exchange omits it)
	Quantity float64 // Quantity that was flattened; 0 if the position was already flat
}

// ExecutionGateway defines the interface for executing trades on an exchange.
// This abstraction decouples the trade supervisor from a specific exchange
// implementation.
type ExecutionGateway interface {
	// PlaceMarketEntry sizes and places a market buy for the given notional
	// and leverage, returning the fill. Failures leave no position open.
	PlaceMarketEntry(ctx context.Context, symbol string, notional float64, leverage int) (*EntryFill, error)

	// PlaceProtectiveOrders places the stop-loss and take-profit orders for
	// an open position of the given quantity.
	PlaceProtectiveOrders(ctx context.Context, symbol string, quantity, stopPrice, targetPrice float64) error

	// QueryPositionSize returns the current position amount for the symbol.
	// A zero return means the position is flat. Read-only and idempotent,
	// safe to retry on transient failure.
	QueryPositionSize(ctx context.Context, symbol string) (float64, error)

	// ForceClose cancels open orders for the symbol and flattens any
	// remaining position at market. Closing an already-flat position is not
	// an error.
	ForceClose(ctx context.Context, symbol string) (*CloseFill, error)

	// GetMarkPrice retrieves the current mark price for a given symbol.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error
}
