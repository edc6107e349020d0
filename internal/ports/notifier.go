package ports

import (
	"context"

	"github.com/krishnaAiGen/telegram-listing/internal/domain"
)

// Notifier broadcasts human-readable status events. Delivery is best-effort:
// callers log failures and never block the trade state machine on them.
type Notifier interface {
	Notify(ctx context.Context, kind domain.EventKind, payload map[string]interface{}) error
}
