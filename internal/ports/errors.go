package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// Signal / Admission Errors
	ErrNoSignal              = errors.New("message does not announce a futures listing")
	ErrNoSymbol              = errors.New("no ticker symbol found in listing message")
	ErrActiveTradeExists     = errors.New("another trade is currently active")
	ErrEntryPlacementFailed  = errors.New("failed to place entry order")
	ErrProtectiveOrderFailed = errors.New("failed to place protective orders")

	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrSymbolNotTradeable   = errors.New("symbol is unknown or not tradeable")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrPositionNotFound     = errors.New("position not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// Ledger Specific Errors
	ErrLedgerCorrupted = errors.New("trade ledger is corrupted (multiple active records)")
	ErrDBConnection    = errors.New("database connection error")
	ErrQueryFailed     = errors.New("database query failed")
	ErrUpdateFailed    = errors.New("database update failed")
)
