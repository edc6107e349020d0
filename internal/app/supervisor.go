// Package app contains the trade supervisor: the state machine that takes a
// listing announcement from raw text to a closed, fully recorded trade.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/krishnaAiGen/telegram-listing/internal/domain"
	"github.com/krishnaAiGen/telegram-listing/internal/extractor"
	"github.com/krishnaAiGen/telegram-listing/internal/ports"
	"github.com/krishnaAiGen/telegram-listing/internal/risk"
)

const (
	positionQueryAttempts = 3
	positionQueryBackoff  = 2 * time.Second
	closeTimeout          = 30 * time.Second
)

// Config holds static parameters for the supervisor.
type Config struct {
	QuoteAsset     string        // Suffix appended to extracted tickers
	NotionalAmount float64       // Quote-asset amount committed per trade
	Leverage       int           // Leverage requested for every position
	PollInterval   time.Duration // Position poll cadence while a trade is active
	MaxHold        time.Duration // Hard deadline on holding a position
}

// Supervisor drives the lifecycle of at most one trade at a time. Admission
// is serialized through the ledger's reservation, so concurrent signals can
// race freely; all but one will be rejected there.
type Supervisor struct {
	cfg      Config
	logger   ports.Logger
	gateway  ports.ExecutionGateway
	ledger   ports.TradeLedger
	notifier ports.Notifier
	planner  *risk.Planner

	mu     sync.Mutex
	active *activeTrade
}

// activeTrade is the in-process handle for the trade under supervision. The
// sync.Once guarantees exactly one terminal close regardless of which path
// (poll, deadline, shutdown) reaches it first.
type activeTrade struct {
	trade  *domain.Trade
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewSupervisor creates the trade supervisor.
func NewSupervisor(cfg Config, logger ports.Logger, gateway ports.ExecutionGateway, ledger ports.TradeLedger, notifier ports.Notifier, planner *risk.Planner) (*Supervisor, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if gateway == nil {
		return nil, errors.New("execution gateway is required")
	}
	if ledger == nil {
		return nil, errors.New("trade ledger is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if planner == nil {
		return nil, errors.New("risk planner is required")
	}
	if cfg.NotionalAmount <= 0 {
		return nil, errors.New("notional amount must be positive")
	}
	if cfg.Leverage <= 0 {
		return nil, errors.New("leverage must be positive")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	if cfg.MaxHold <= 0 {
		return nil, errors.New("max hold must be positive")
	}
	return &Supervisor{
		cfg:      cfg,
		logger:   logger,
		gateway:  gateway,
		ledger:   ledger,
		notifier: notifier,
		planner:  planner,
	}, nil
}

// OnSignal processes one raw announcement message end to end: extraction,
// admission, entry, protection, then hand-off to the monitoring loop. It is
// safe to call concurrently; the ledger reservation admits at most one.
func (s *Supervisor) OnSignal(ctx context.Context, rawText string) error {
	symbol, err := extractor.Extract(rawText, s.cfg.QuoteAsset)
	if err != nil {
		if errors.Is(err, ports.ErrNoSignal) {
			s.logger.Debug(ctx, "Message is not a listing announcement")
			return err
		}
		s.logger.Warn(ctx, "Listing announcement without a usable ticker", map[string]interface{}{"error": err.Error()})
		s.notify(ctx, domain.EventSignalIgnored, map[string]interface{}{
			"reason":  "no ticker symbol found",
			"message": rawText,
		})
		return err
	}

	s.logger.Info(ctx, "Listing signal detected", map[string]interface{}{"symbol": symbol})
	s.notify(ctx, domain.EventSignalDetected, map[string]interface{}{"symbol": symbol})

	now := time.Now()
	trade := &domain.Trade{
		ID:             domain.NewTradeID(symbol, now),
		Symbol:         symbol,
		Side:           domain.Buy,
		EntryTime:      now,
		Leverage:       s.cfg.Leverage,
		NotionalAmount: s.cfg.NotionalAmount,
		SourceMessage:  rawText,
		Status:         domain.StatusActive,
		MaxHoldUntil:   now.Add(s.cfg.MaxHold),
	}

	// Reserve the admission slot before touching the exchange. Losing the
	// race here costs nothing; losing it after an entry fill would.
	if err := s.ledger.TryReserve(ctx, trade); err != nil {
		if errors.Is(err, ports.ErrActiveTradeExists) {
			s.logger.Info(ctx, "Signal rejected, another trade is active", map[string]interface{}{"symbol": symbol})
			s.notify(ctx, domain.EventSignalIgnored, map[string]interface{}{
				"reason": "another trade is active",
				"symbol": symbol,
			})
			return err
		}
		return fmt.Errorf("failed to reserve admission slot for %s: %w", symbol, err)
	}

	return s.openTrade(ctx, trade)
}

// openTrade places the entry and protective orders for a reserved trade and
// starts supervision. The reservation is released or finalized on every path.
func (s *Supervisor) openTrade(ctx context.Context, trade *domain.Trade) error {
	entry, err := s.gateway.PlaceMarketEntry(ctx, trade.Symbol, trade.NotionalAmount, trade.Leverage)
	if err != nil {
		s.logger.Error(ctx, err, "Entry placement failed, releasing admission slot", map[string]interface{}{"symbol": trade.Symbol})
		if relErr := s.ledger.Release(ctx, trade.ID); relErr != nil {
			s.logger.Error(ctx, relErr, "Failed to release reservation after entry failure", map[string]interface{}{"tradeID": trade.ID})
		}
		s.notify(ctx, domain.EventTradeAborted, map[string]interface{}{
			"symbol": trade.Symbol,
			"stage":  "entry",
			"error":  err.Error(),
		})
		return fmt.Errorf("%w: %w", ports.ErrEntryPlacementFailed, err)
	}

	plan, err := s.planner.PlanEntry(entry.Price)
	if err != nil {
		return s.emergencyClose(ctx, trade, entry, fmt.Errorf("order planning failed: %w", err))
	}

	// The hold clock starts at the fill, not at admission, so the deadline is
	// re-derived from the final entry time before the record is persisted.
	trade.EntryTime = time.Now()
	trade.MaxHoldUntil = trade.EntryTime.Add(s.cfg.MaxHold)
	trade.EntryPrice = entry.Price
	trade.Quantity = entry.Quantity
	trade.Leverage = entry.Leverage
	trade.StopLossPrice = plan.StopLossPrice
	trade.TakeProfitPrice = plan.TakeProfitPrice

	if err := s.gateway.PlaceProtectiveOrders(ctx, trade.Symbol, trade.Quantity, trade.StopLossPrice, trade.TakeProfitPrice); err != nil {
		return s.emergencyClose(ctx, trade, entry, fmt.Errorf("%w: %w", ports.ErrProtectiveOrderFailed, err))
	}

	if err := s.ledger.Update(ctx, trade); err != nil {
		return s.emergencyClose(ctx, trade, entry, fmt.Errorf("failed to record opened trade: %w", err))
	}

	s.logger.Info(ctx, "Trade opened", map[string]interface{}{
		"tradeID":    trade.ID,
		"symbol":     trade.Symbol,
		"entryPrice": trade.EntryPrice,
		"quantity":   trade.Quantity,
		"stopLoss":   trade.StopLossPrice,
		"takeProfit": trade.TakeProfitPrice,
	})
	s.notify(ctx, domain.EventTradeOpened, map[string]interface{}{
		"symbol":     trade.Symbol,
		"entryPrice": trade.EntryPrice,
		"quantity":   trade.Quantity,
		"stopLoss":   trade.StopLossPrice,
		"takeProfit": trade.TakeProfitPrice,
		"maxHold":    trade.MaxHoldUntil.Format(time.RFC3339),
	})

	s.startMonitor(trade)
	return nil
}

// emergencyClose flattens a position whose setup could not be completed and
// records the trade as closed. An unprotected position must never outlive
// this call.
func (s *Supervisor) emergencyClose(ctx context.Context, trade *domain.Trade, entry *ports.EntryFill, cause error) error {
	s.logger.Error(ctx, cause, "Trade setup failed after entry fill, force-closing position", map[string]interface{}{
		"tradeID": trade.ID,
		"symbol":  trade.Symbol,
	})

	trade.EntryPrice = entry.Price
	trade.Quantity = entry.Quantity
	trade.Leverage = entry.Leverage

	fill, closeErr := s.gateway.ForceClose(ctx, trade.Symbol)
	if closeErr != nil {
		// The position may still be open and unprotected. Keep the record
		// ACTIVE so a restart resumes supervision, and escalate loudly.
		s.logger.Error(ctx, closeErr, "Emergency close failed, position may be unprotected", map[string]interface{}{
			"tradeID": trade.ID,
			"symbol":  trade.Symbol,
		})
		if updErr := s.ledger.Update(ctx, trade); updErr != nil {
			s.logger.Error(ctx, updErr, "Failed to record unprotected position", map[string]interface{}{"tradeID": trade.ID})
		}
		s.notify(ctx, domain.EventError, map[string]interface{}{
			"symbol": trade.Symbol,
			"error":  "emergency close failed, position may be unprotected: " + closeErr.Error(),
		})
		return fmt.Errorf("emergency close failed after setup error (%v): %w", cause, closeErr)
	}

	trade.Status = domain.StatusClosed
	trade.CloseReason = domain.CloseReasonProtectiveFailed
	trade.ExitTime = time.Now()
	trade.ExitPrice = fill.Price
	trade.PNL = (trade.ExitPrice - trade.EntryPrice) * trade.Quantity
	if err := s.ledger.Update(ctx, trade); err != nil {
		s.logger.Error(ctx, err, "Failed to record emergency close", map[string]interface{}{"tradeID": trade.ID})
	}

	s.notify(ctx, domain.EventTradeAborted, map[string]interface{}{
		"symbol":    trade.Symbol,
		"stage":     "protection",
		"exitPrice": trade.ExitPrice,
		"error":     cause.Error(),
	})
	return cause
}

// Resume re-attaches supervision to an active trade left in the ledger by a
// previous process. Returns ports.ErrLedgerCorrupted when the store cannot
// be trusted; the caller should treat that as fatal.
func (s *Supervisor) Resume(ctx context.Context) error {
	trade, err := s.ledger.FindActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active trade: %w", err)
	}
	if trade == nil {
		s.logger.Info(ctx, "No active trade to resume")
		return nil
	}

	// A reservation with no recorded quantity means the process died before
	// the post-entry ledger write. The entry order may still have filled, so
	// the exchange is consulted before the reservation is treated as empty.
	if trade.Quantity == 0 {
		qty, err := s.gateway.QueryPositionSize(ctx, trade.Symbol)
		if err != nil {
			return fmt.Errorf("failed to verify position for reservation %s: %w", trade.ID, err)
		}
		if qty != 0 {
			return s.recoverUnrecordedFill(ctx, trade, qty)
		}
		s.logger.Warn(ctx, "Found reservation without an entry fill, releasing", map[string]interface{}{"tradeID": trade.ID})
		if err := s.ledger.Release(ctx, trade.ID); err != nil {
			return fmt.Errorf("failed to release stale reservation %s: %w", trade.ID, err)
		}
		s.notify(ctx, domain.EventTradeAborted, map[string]interface{}{
			"symbol": trade.Symbol,
			"stage":  "recovery",
			"error":  "reservation had no entry fill",
		})
		return nil
	}

	s.logger.Info(ctx, "Resuming supervision of active trade", map[string]interface{}{
		"tradeID":      trade.ID,
		"symbol":       trade.Symbol,
		"maxHoldUntil": trade.MaxHoldUntil.Format(time.RFC3339),
	})
	s.startMonitor(trade)
	return nil
}

// recoverUnrecordedFill flattens a position whose entry filled but was never
// written back to the ledger. The position has no protective orders, so it
// is closed immediately rather than monitored.
func (s *Supervisor) recoverUnrecordedFill(ctx context.Context, trade *domain.Trade, qty float64) error {
	s.logger.Warn(ctx, "Reservation has an open position on the exchange, force-closing", map[string]interface{}{
		"tradeID":  trade.ID,
		"symbol":   trade.Symbol,
		"quantity": qty,
	})

	fill, err := s.gateway.ForceClose(ctx, trade.Symbol)
	if err != nil {
		// Record stays ACTIVE; the next start retries the recovery.
		s.notify(ctx, domain.EventError, map[string]interface{}{
			"symbol": trade.Symbol,
			"error":  "recovery close failed, position may be unprotected: " + err.Error(),
		})
		return fmt.Errorf("failed to close unrecorded position for %s: %w", trade.ID, err)
	}

	trade.Quantity = qty
	if fill.Quantity > 0 {
		trade.Quantity = fill.Quantity
	}
	s.finalize(ctx, trade, domain.CloseReasonProtectiveFailed, fill.Price)
	return nil
}

// startMonitor registers the trade as active and launches its monitoring
// goroutine.
func (s *Supervisor) startMonitor(trade *domain.Trade) {
	monitorCtx, cancel := context.WithCancel(context.Background())
	h := &activeTrade{
		trade:  trade,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.active = h
	s.mu.Unlock()

	go s.superviseLoop(monitorCtx, h)
}

// superviseLoop polls the position and races the hold deadline. An expired
// deadline found at startup (after a long outage) fires immediately.
func (s *Supervisor) superviseLoop(ctx context.Context, h *activeTrade) {
	defer close(h.done)
	defer func() {
		s.mu.Lock()
		if s.active == h {
			s.active = nil
		}
		s.mu.Unlock()
	}()

	deadline := time.NewTimer(time.Until(h.trade.MaxHoldUntil))
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Info(ctx, "Monitoring started", map[string]interface{}{
		"tradeID":      h.trade.ID,
		"symbol":       h.trade.Symbol,
		"pollInterval": s.cfg.PollInterval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Monitoring cancelled", map[string]interface{}{"tradeID": h.trade.ID})
			return

		case <-deadline.C:
			// The deadline is authoritative even when polling has been
			// failing; the position is flattened regardless.
			h.once.Do(func() {
				s.closeByDeadline(h.trade)
			})
			return

		case <-ticker.C:
			qty, err := s.queryPositionSize(ctx, h.trade.Symbol)
			if err != nil {
				s.logger.Warn(ctx, "Position poll failed, monitoring degraded", map[string]interface{}{
					"tradeID": h.trade.ID,
					"symbol":  h.trade.Symbol,
					"error":   err.Error(),
				})
				s.notify(ctx, domain.EventMonitoringDegraded, map[string]interface{}{
					"symbol": h.trade.Symbol,
					"error":  err.Error(),
				})
				continue
			}
			if qty == 0 {
				// The exchange already flattened the position through the
				// stop or the target; only the record needs finalizing.
				h.once.Do(func() {
					s.closeByProtection(h.trade)
				})
				return
			}
			s.logger.Debug(ctx, "Position still open", map[string]interface{}{
				"tradeID":  h.trade.ID,
				"symbol":   h.trade.Symbol,
				"quantity": qty,
			})
		}
	}
}

// queryPositionSize retries transient poll failures before reporting the
// interval as degraded.
func (s *Supervisor) queryPositionSize(ctx context.Context, symbol string) (float64, error) {
	var lastErr error
	for attempt := 1; attempt <= positionQueryAttempts; attempt++ {
		qty, err := s.gateway.QueryPositionSize(ctx, symbol)
		if err == nil {
			return qty, nil
		}
		lastErr = err
		if attempt < positionQueryAttempts {
			select {
			case <-time.After(positionQueryBackoff):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	}
	return 0, lastErr
}

// closeByProtection finalizes a trade whose position the exchange already
// flattened. No order is placed; the exit price is a best-effort mark-price
// read.
func (s *Supervisor) closeByProtection(trade *domain.Trade) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	exitPrice, err := s.gateway.GetMarkPrice(ctx, trade.Symbol)
	if err != nil {
		s.logger.Warn(ctx, "Could not read exit price for flattened position", map[string]interface{}{
			"tradeID": trade.ID,
			"symbol":  trade.Symbol,
			"error":   err.Error(),
		})
		exitPrice = 0
	}
	s.finalize(ctx, trade, domain.CloseReasonTargetOrStopLoss, exitPrice)
}

// closeByDeadline cancels the protective orders and flattens the position at
// market because the hold deadline expired.
func (s *Supervisor) closeByDeadline(trade *domain.Trade) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	s.logger.Info(ctx, "Hold deadline expired, closing position", map[string]interface{}{
		"tradeID": trade.ID,
		"symbol":  trade.Symbol,
	})

	fill, err := s.gateway.ForceClose(ctx, trade.Symbol)
	if err != nil {
		// Leave the record ACTIVE; a restart will resume and retry via the
		// immediately-firing deadline.
		s.logger.Error(ctx, err, "Failed to close position at deadline, record stays active", map[string]interface{}{
			"tradeID": trade.ID,
			"symbol":  trade.Symbol,
		})
		s.notify(ctx, domain.EventError, map[string]interface{}{
			"symbol": trade.Symbol,
			"error":  "deadline close failed: " + err.Error(),
		})
		return
	}
	s.finalize(ctx, trade, domain.CloseReasonMaxHoldExpired, fill.Price)
}

// finalize writes the single terminal transition to CLOSED and announces it.
func (s *Supervisor) finalize(ctx context.Context, trade *domain.Trade, reason domain.CloseReason, exitPrice float64) {
	trade.Status = domain.StatusClosed
	trade.CloseReason = reason
	trade.ExitTime = time.Now()
	trade.ExitPrice = exitPrice
	if exitPrice > 0 && trade.EntryPrice > 0 {
		trade.PNL = (exitPrice - trade.EntryPrice) * trade.Quantity
	}

	if err := s.ledger.Update(ctx, trade); err != nil {
		s.logger.Error(ctx, err, "Failed to record trade close", map[string]interface{}{
			"tradeID": trade.ID,
			"reason":  reason,
		})
		return
	}

	s.logger.Info(ctx, "Trade closed", map[string]interface{}{
		"tradeID":   trade.ID,
		"symbol":    trade.Symbol,
		"reason":    reason,
		"exitPrice": trade.ExitPrice,
		"pnl":       trade.PNL,
	})
	s.notify(ctx, domain.EventTradeClosed, map[string]interface{}{
		"symbol":    trade.Symbol,
		"reason":    string(reason),
		"exitPrice": trade.ExitPrice,
		"pnl":       trade.PNL,
	})
}

// Shutdown stops monitoring and closes any open position as a manual stop.
// The context bounds the close attempt; on timeout the record stays ACTIVE
// and the next start resumes it.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil {
		s.logger.Info(ctx, "Shutdown with no active trade")
		return nil
	}

	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for monitor to stop: %w", ctx.Err())
	}

	var closeErr error
	h.once.Do(func() {
		s.logger.Info(ctx, "Closing position for shutdown", map[string]interface{}{
			"tradeID": h.trade.ID,
			"symbol":  h.trade.Symbol,
		})
		fill, err := s.gateway.ForceClose(ctx, h.trade.Symbol)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to close position during shutdown, record stays active", map[string]interface{}{
				"tradeID": h.trade.ID,
			})
			closeErr = fmt.Errorf("shutdown close failed: %w", err)
			return
		}
		s.finalize(ctx, h.trade, domain.CloseReasonManualStop, fill.Price)
	})
	return closeErr
}

// ActiveTrade returns the trade currently under supervision, or nil.
func (s *Supervisor) ActiveTrade() *domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	return s.active.trade
}

// notify delivers an event without letting a notifier failure interfere with
// the trade lifecycle.
func (s *Supervisor) notify(ctx context.Context, kind domain.EventKind, payload map[string]interface{}) {
	if err := s.notifier.Notify(ctx, kind, payload); err != nil {
		s.logger.Warn(ctx, "Failed to deliver notification", map[string]interface{}{
			"kind":  kind,
			"error": err.Error(),
		})
	}
}
