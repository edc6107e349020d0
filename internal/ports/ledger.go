package ports

import (
	"context"

	"github.com/krishnaAiGen/telegram-listing/internal/domain"
)

// TradeLedger defines the interface for the durable trade store. The ledger
// is the sole authority for the active-trade invariant: all reads and writes
// of the active flag go through it, never through in-process shared memory,
// so the true state survives a process restart.
type TradeLedger interface {
	// FindActive retrieves the currently active trade, if any.
	// Returns nil, nil when no trade is active. Returns ErrLedgerCorrupted
	// if more than one active record exists.
	FindActive(ctx context.Context) (*domain.Trade, error)

	// TryReserve atomically writes a new ACTIVE record, reserving the single
	// admission slot. Returns ErrActiveTradeExists when another active
	// record already holds the slot. This compare-and-set is the sole
	// serialization point for concurrent admissions.
	TryReserve(ctx context.Context, trade *domain.Trade) error

	// Release deletes a reserved record whose entry never filled, reverting
	// the admission. Releasing an unknown ID is not an error.
	Release(ctx context.Context, id string) error

	// Update overwrites an existing record keyed by its ID. Idempotent.
	Update(ctx context.Context, trade *domain.Trade) error

	// FindAll retrieves all trade records, ordered by entry time descending.
	FindAll(ctx context.Context) ([]*domain.Trade, error)
}
