package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishnaAiGen/telegram-listing/internal/domain"
	"github.com/krishnaAiGen/telegram-listing/internal/ports"
	"github.com/krishnaAiGen/telegram-listing/internal/risk"
)

const announcement = "$TAIKO listed on Binance futures"

// --- Mocks ---

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
func (m *mockLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockGateway lets each test script gateway behaviour via function fields
// and counts calls for exactly-once assertions.
type mockGateway struct {
	mu sync.Mutex

	entryFn      func(symbol string, notional float64, leverage int) (*ports.EntryFill, error)
	protectiveFn func(symbol string, quantity, stopPrice, targetPrice float64) error
	queryFn      func(symbol string) (float64, error)
	forceCloseFn func(symbol string) (*ports.CloseFill, error)
	markPriceFn  func(symbol string) (float64, error)

	entryCalls      int
	protectiveCalls int
	forceCloseCalls int
}

func (m *mockGateway) PlaceMarketEntry(ctx context.Context, symbol string, notional float64, leverage int) (*ports.EntryFill, error) {
	m.mu.Lock()
	m.entryCalls++
	fn := m.entryFn
	m.mu.Unlock()
	if fn != nil {
		return fn(symbol, notional, leverage)
	}
	return &ports.EntryFill{Symbol: symbol, Price: 0.1234, Quantity: 810.37, Leverage: leverage, OrderID: 1}, nil
}

func (m *mockGateway) PlaceProtectiveOrders(ctx context.Context, symbol string, quantity, stopPrice, targetPrice float64) error {
	m.mu.Lock()
	m.protectiveCalls++
	fn := m.protectiveFn
	m.mu.Unlock()
	if fn != nil {
		return fn(symbol, quantity, stopPrice, targetPrice)
	}
	return nil
}

func (m *mockGateway) QueryPositionSize(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	fn := m.queryFn
	m.mu.Unlock()
	if fn != nil {
		return fn(symbol)
	}
	return 810.37, nil
}

func (m *mockGateway) ForceClose(ctx context.Context, symbol string) (*ports.CloseFill, error) {
	m.mu.Lock()
	m.forceCloseCalls++
	fn := m.forceCloseFn
	m.mu.Unlock()
	if fn != nil {
		return fn(symbol)
	}
	return &ports.CloseFill{Price: 0.1300, Quantity: 810.37}, nil
}

func (m *mockGateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	fn := m.markPriceFn
	m.mu.Unlock()
	if fn != nil {
		return fn(symbol)
	}
	return 0.1419, nil
}

func (m *mockGateway) Ping(ctx context.Context) error { return nil }

func (m *mockGateway) counts() (entry, protective, forceClose int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entryCalls, m.protectiveCalls, m.forceCloseCalls
}

// mockLedger is an in-memory TradeLedger with the same single-active
// compare-and-set semantics as the SQLite implementation.
type mockLedger struct {
	mu          sync.Mutex
	records     map[string]domain.Trade
	findActiveE error
}

func newMockLedger() *mockLedger {
	return &mockLedger{records: make(map[string]domain.Trade)}
}

func (m *mockLedger) TryReserve(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Status == domain.StatusActive {
			return ports.ErrActiveTradeExists
		}
	}
	m.records[trade.ID] = *trade
	return nil
}

func (m *mockLedger) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *mockLedger) Update(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[trade.ID]; !ok {
		return ports.ErrNotFound
	}
	m.records[trade.ID] = *trade
	return nil
}

func (m *mockLedger) FindActive(ctx context.Context) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findActiveE != nil {
		return nil, m.findActiveE
	}
	for _, r := range m.records {
		if r.Status == domain.StatusActive {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockLedger) FindAll(ctx context.Context) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Trade, 0, len(m.records))
	for _, r := range m.records {
		cp := r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.After(out[j].EntryTime) })
	return out, nil
}

// seed inserts a record directly, bypassing the reservation.
func (m *mockLedger) seed(trade domain.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[trade.ID] = trade
}

func (m *mockLedger) get(id string) (domain.Trade, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

type notified struct {
	kind    domain.EventKind
	payload map[string]interface{}
}

type mockNotifier struct {
	mu     sync.Mutex
	events []notified
}

func (m *mockNotifier) Notify(ctx context.Context, kind domain.EventKind, payload map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, notified{kind: kind, payload: payload})
	return nil
}

func (m *mockNotifier) kinds() []domain.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventKind, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.kind)
	}
	return out
}

// --- Helpers ---

type fixture struct {
	sup      *Supervisor
	gateway  *mockGateway
	ledger   *mockLedger
	notifier *mockNotifier
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.NotionalAmount == 0 {
		cfg.NotionalAmount = 100
	}
	if cfg.Leverage == 0 {
		cfg.Leverage = 1
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour
	}
	if cfg.MaxHold == 0 {
		cfg.MaxHold = time.Hour
	}

	gateway := &mockGateway{}
	ledger := newMockLedger()
	notifier := &mockNotifier{}
	planner, err := risk.New(risk.Config{
		NotionalAmount: cfg.NotionalAmount,
		Leverage:       cfg.Leverage,
		StopLossPct:    2,
		TakeProfitPct:  15,
	})
	require.NoError(t, err)

	sup, err := NewSupervisor(cfg, &mockLogger{}, gateway, ledger, notifier, planner)
	require.NoError(t, err)

	return &fixture{sup: sup, gateway: gateway, ledger: ledger, notifier: notifier}
}

func (f *fixture) activeRecord(t *testing.T) *domain.Trade {
	t.Helper()
	trade, err := f.ledger.FindActive(context.Background())
	require.NoError(t, err)
	return trade
}

// --- Tests ---

func TestOnSignal_NotAnAnnouncement(t *testing.T) {
	f := newFixture(t, Config{})

	err := f.sup.OnSignal(context.Background(), "just chatting, no news")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNoSignal)

	entry, _, _ := f.gateway.counts()
	assert.Zero(t, entry)
	assert.Nil(t, f.activeRecord(t))
	assert.Empty(t, f.notifier.kinds())
}

func TestOnSignal_AnnouncementWithoutTicker(t *testing.T) {
	f := newFixture(t, Config{})

	err := f.sup.OnSignal(context.Background(), "Binance futures maintenance window announced")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNoSymbol)

	entry, _, _ := f.gateway.counts()
	assert.Zero(t, entry)
	assert.Contains(t, f.notifier.kinds(), domain.EventSignalIgnored)
}

func TestOnSignal_OpensTrade(t *testing.T) {
	f := newFixture(t, Config{})

	err := f.sup.OnSignal(context.Background(), announcement)
	require.NoError(t, err)

	trade := f.activeRecord(t)
	require.NotNil(t, trade)
	assert.Equal(t, "TAIKOUSDT", trade.Symbol)
	assert.Equal(t, domain.StatusActive, trade.Status)
	assert.InDelta(t, 0.1234, trade.EntryPrice, 0.00001)
	assert.InDelta(t, 810.37, trade.Quantity, 0.01)
	assert.InDelta(t, 0.1209, trade.StopLossPrice, 0.00001)
	assert.InDelta(t, 0.1419, trade.TakeProfitPrice, 0.00001)
	assert.Equal(t, announcement, trade.SourceMessage)
	// The hold deadline counts from the recorded entry time.
	assert.True(t, trade.MaxHoldUntil.Equal(trade.EntryTime.Add(time.Hour)))

	entry, protective, forceClose := f.gateway.counts()
	assert.Equal(t, 1, entry)
	assert.Equal(t, 1, protective)
	assert.Zero(t, forceClose)
	assert.Contains(t, f.notifier.kinds(), domain.EventTradeOpened)
	assert.NotNil(t, f.sup.ActiveTrade())
}

func TestOnSignal_SingleFlight(t *testing.T) {
	f := newFixture(t, Config{})

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.sup.OnSignal(context.Background(), announcement)
		}()
	}
	wg.Wait()
	close(results)

	var opened, rejected int
	for err := range results {
		switch {
		case err == nil:
			opened++
		case errors.Is(err, ports.ErrActiveTradeExists):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, opened)
	assert.Equal(t, racers-1, rejected)

	entry, _, _ := f.gateway.counts()
	assert.Equal(t, 1, entry)
}

func TestOnSignal_EntryFailureReleasesSlot(t *testing.T) {
	f := newFixture(t, Config{})
	f.gateway.entryFn = func(symbol string, notional float64, leverage int) (*ports.EntryFill, error) {
		return nil, ports.ErrOrderPlacementFailed
	}

	err := f.sup.OnSignal(context.Background(), announcement)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrEntryPlacementFailed)

	assert.Nil(t, f.activeRecord(t))
	assert.Contains(t, f.notifier.kinds(), domain.EventTradeAborted)

	// Slot must be free for the next signal.
	f.gateway.entryFn = nil
	require.NoError(t, f.sup.OnSignal(context.Background(), "$SQD listed on Binance futures"))
}

func TestOnSignal_ProtectiveFailureForcesClose(t *testing.T) {
	f := newFixture(t, Config{})
	f.gateway.protectiveFn = func(symbol string, quantity, stopPrice, targetPrice float64) error {
		return ports.ErrOrderPlacementFailed
	}

	err := f.sup.OnSignal(context.Background(), announcement)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrProtectiveOrderFailed)

	_, _, forceClose := f.gateway.counts()
	assert.Equal(t, 1, forceClose)

	all, err := f.ledger.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.StatusClosed, all[0].Status)
	assert.Equal(t, domain.CloseReasonProtectiveFailed, all[0].CloseReason)
	assert.Nil(t, f.activeRecord(t))
}

func TestMonitor_ProtectiveOrderFilled(t *testing.T) {
	f := newFixture(t, Config{PollInterval: 20 * time.Millisecond})
	f.gateway.queryFn = func(symbol string) (float64, error) { return 0, nil }

	require.NoError(t, f.sup.OnSignal(context.Background(), announcement))

	assert.Eventually(t, func() bool {
		all, _ := f.ledger.FindAll(context.Background())
		return len(all) == 1 && all[0].Status == domain.StatusClosed
	}, 2*time.Second, 10*time.Millisecond)

	all, err := f.ledger.FindAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonTargetOrStopLoss, all[0].CloseReason)
	assert.InDelta(t, 0.1419, all[0].ExitPrice, 0.00001)

	// The exchange already flattened the position; no close order is placed.
	_, _, forceClose := f.gateway.counts()
	assert.Zero(t, forceClose)
	assert.Contains(t, f.notifier.kinds(), domain.EventTradeClosed)
}

func TestMonitor_DeadlineExpires(t *testing.T) {
	f := newFixture(t, Config{PollInterval: time.Hour, MaxHold: 30 * time.Millisecond})

	require.NoError(t, f.sup.OnSignal(context.Background(), announcement))

	assert.Eventually(t, func() bool {
		all, _ := f.ledger.FindAll(context.Background())
		return len(all) == 1 && all[0].Status == domain.StatusClosed
	}, 2*time.Second, 10*time.Millisecond)

	all, err := f.ledger.FindAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonMaxHoldExpired, all[0].CloseReason)
	assert.InDelta(t, 0.1300, all[0].ExitPrice, 0.00001)

	_, _, forceClose := f.gateway.counts()
	assert.Equal(t, 1, forceClose)
}

func TestMonitor_DegradedPollKeepsTrying(t *testing.T) {
	f := newFixture(t, Config{PollInterval: 20 * time.Millisecond})

	var calls int
	var mu sync.Mutex
	f.gateway.queryFn = func(symbol string) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 3 {
			return 0, ports.ErrExchangeUnavailable
		}
		return 0, nil
	}

	require.NoError(t, f.sup.OnSignal(context.Background(), announcement))

	assert.Eventually(t, func() bool {
		all, _ := f.ledger.FindAll(context.Background())
		return len(all) == 1 && all[0].Status == domain.StatusClosed
	}, 10*time.Second, 10*time.Millisecond)

	assert.Contains(t, f.notifier.kinds(), domain.EventMonitoringDegraded)
	all, _ := f.ledger.FindAll(context.Background())
	assert.Equal(t, domain.CloseReasonTargetOrStopLoss, all[0].CloseReason)
}

func TestResume_ReattachesActiveTrade(t *testing.T) {
	f := newFixture(t, Config{PollInterval: 20 * time.Millisecond})
	f.gateway.queryFn = func(symbol string) (float64, error) { return 0, nil }

	entryTime := time.Now().Add(-time.Hour)
	f.ledger.seed(domain.Trade{
		ID:              domain.NewTradeID("TAIKOUSDT", entryTime),
		Symbol:          "TAIKOUSDT",
		Side:            domain.Buy,
		EntryTime:       entryTime,
		EntryPrice:      0.1234,
		Quantity:        810.37,
		StopLossPrice:   0.1209,
		TakeProfitPrice: 0.1419,
		Leverage:        1,
		NotionalAmount:  100,
		Status:          domain.StatusActive,
		MaxHoldUntil:    time.Now().Add(time.Hour),
	})

	require.NoError(t, f.sup.Resume(context.Background()))
	require.NotNil(t, f.sup.ActiveTrade())

	assert.Eventually(t, func() bool {
		trade, _ := f.ledger.FindActive(context.Background())
		return trade == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResume_ExpiredHoldClosesImmediately(t *testing.T) {
	f := newFixture(t, Config{PollInterval: time.Hour})

	entryTime := time.Now().Add(-3 * time.Hour)
	id := domain.NewTradeID("TAIKOUSDT", entryTime)
	f.ledger.seed(domain.Trade{
		ID:           id,
		Symbol:       "TAIKOUSDT",
		Side:         domain.Buy,
		EntryTime:    entryTime,
		EntryPrice:   0.1234,
		Quantity:     810.37,
		Status:       domain.StatusActive,
		MaxHoldUntil: entryTime.Add(2 * time.Hour), // already in the past
	})

	require.NoError(t, f.sup.Resume(context.Background()))

	assert.Eventually(t, func() bool {
		r, ok := f.ledger.get(id)
		return ok && r.Status == domain.StatusClosed
	}, 2*time.Second, 10*time.Millisecond)

	r, _ := f.ledger.get(id)
	assert.Equal(t, domain.CloseReasonMaxHoldExpired, r.CloseReason)
	_, _, forceClose := f.gateway.counts()
	assert.Equal(t, 1, forceClose)
}

func TestResume_ReleasesUnfilledReservation(t *testing.T) {
	f := newFixture(t, Config{})
	// The exchange confirms no position exists for the reservation.
	f.gateway.queryFn = func(symbol string) (float64, error) { return 0, nil }

	entryTime := time.Now()
	id := domain.NewTradeID("TAIKOUSDT", entryTime)
	f.ledger.seed(domain.Trade{
		ID:           id,
		Symbol:       "TAIKOUSDT",
		Side:         domain.Buy,
		EntryTime:    entryTime,
		Status:       domain.StatusActive, // reserved but never filled
		MaxHoldUntil: entryTime.Add(2 * time.Hour),
	})

	require.NoError(t, f.sup.Resume(context.Background()))

	_, ok := f.ledger.get(id)
	assert.False(t, ok)
	assert.Nil(t, f.sup.ActiveTrade())
	assert.Contains(t, f.notifier.kinds(), domain.EventTradeAborted)

	_, _, forceClose := f.gateway.counts()
	assert.Zero(t, forceClose)
}

func TestResume_ClosesUnrecordedFill(t *testing.T) {
	f := newFixture(t, Config{})
	// The entry filled but the crash happened before the ledger write: the
	// record still has zero quantity while the exchange holds a position.
	f.gateway.queryFn = func(symbol string) (float64, error) { return 810.37, nil }

	entryTime := time.Now()
	id := domain.NewTradeID("TAIKOUSDT", entryTime)
	f.ledger.seed(domain.Trade{
		ID:           id,
		Symbol:       "TAIKOUSDT",
		Side:         domain.Buy,
		EntryTime:    entryTime,
		Status:       domain.StatusActive,
		MaxHoldUntil: entryTime.Add(2 * time.Hour),
	})

	require.NoError(t, f.sup.Resume(context.Background()))

	// The unprotected position is flattened, never abandoned.
	_, _, forceClose := f.gateway.counts()
	assert.Equal(t, 1, forceClose)

	r, ok := f.ledger.get(id)
	require.True(t, ok)
	assert.Equal(t, domain.StatusClosed, r.Status)
	assert.Equal(t, domain.CloseReasonProtectiveFailed, r.CloseReason)
	assert.InDelta(t, 810.37, r.Quantity, 0.01)
	assert.Nil(t, f.sup.ActiveTrade())
}

func TestResume_UnverifiablePositionFails(t *testing.T) {
	f := newFixture(t, Config{})
	f.gateway.queryFn = func(symbol string) (float64, error) {
		return 0, ports.ErrExchangeUnavailable
	}

	entryTime := time.Now()
	id := domain.NewTradeID("TAIKOUSDT", entryTime)
	f.ledger.seed(domain.Trade{
		ID:           id,
		Symbol:       "TAIKOUSDT",
		Side:         domain.Buy,
		EntryTime:    entryTime,
		Status:       domain.StatusActive,
		MaxHoldUntil: entryTime.Add(2 * time.Hour),
	})

	err := f.sup.Resume(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)

	// The record must survive so the next start can retry the recovery.
	_, ok := f.ledger.get(id)
	assert.True(t, ok)
	_, _, forceClose := f.gateway.counts()
	assert.Zero(t, forceClose)
}

func TestResume_CorruptedLedgerIsFatal(t *testing.T) {
	f := newFixture(t, Config{})
	f.ledger.findActiveE = ports.ErrLedgerCorrupted

	err := f.sup.Resume(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrLedgerCorrupted)
}

func TestShutdown_ClosesAsManualStop(t *testing.T) {
	f := newFixture(t, Config{})

	require.NoError(t, f.sup.OnSignal(context.Background(), announcement))
	require.NotNil(t, f.sup.ActiveTrade())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.sup.Shutdown(ctx))

	all, err := f.ledger.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.StatusClosed, all[0].Status)
	assert.Equal(t, domain.CloseReasonManualStop, all[0].CloseReason)

	_, _, forceClose := f.gateway.counts()
	assert.Equal(t, 1, forceClose)
}

func TestShutdown_NoActiveTrade(t *testing.T) {
	f := newFixture(t, Config{})
	assert.NoError(t, f.sup.Shutdown(context.Background()))
}
