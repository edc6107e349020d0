package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/krishnaAiGen/telegram-listing/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements the ports.ExecutionGateway interface using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance futures gateway.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014: // API-key format invalid
			mappedErr = ports.ErrInvalidAPIKeys
		case -2015: // Invalid API-key, IP, or permissions for action
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019: // Margin is insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -2022: // ReduceOnly Order is rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -3005: // Insufficient balance
			mappedErr = ports.ErrInsufficientFunds
		case -3041: // Position is not sufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4003: // Qty not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4014: // Price not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4015: // Leverage is not valid
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetMarkPrice retrieves the current mark price for a given symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetMarkPrice"
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no price data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(tickers[0].MarkPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].MarkPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// getTickerPrice retrieves the last ticker price for a given symbol.
func (c *Client) getTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(tickers[0].LastPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].LastPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// getLotStepSize looks up the LOT_SIZE step for a symbol from exchange info.
// Freshly listed contracts are not cached anywhere locally, so this is
// queried per entry.
func (c *Client) getLotStepSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetLotStepSize"
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		lotFilter := s.LotSizeFilter()
		if lotFilter == nil {
			break
		}
		step, err := decimal.NewFromString(lotFilter.StepSize)
		if err != nil {
			parseErr := fmt.Errorf("could not parse step size '%s' for symbol %s: %w", lotFilter.StepSize, symbol, err)
			return decimal.Zero, c.handleError(ctx, parseErr, op)
		}
		return step, nil
	}

	err = fmt.Errorf("symbol %s not found in exchange info: %w", symbol, ports.ErrSymbolNotTradeable)
	c.logger.Error(ctx, err, op+" failed", map[string]interface{}{"symbol": symbol})
	return decimal.Zero, err
}

// PlaceMarketEntry sizes and places a market buy for the given notional and
// leverage, returning the fill.
func (c *Client) PlaceMarketEntry(ctx context.Context, symbol string, notional float64, leverage int) (*ports.EntryFill, error) {
	op := "PlaceMarketEntry"

	// Leverage change is best-effort; the exchange default still opens the
	// position, just at a different margin requirement.
	if _, err := c.futuresClient.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		c.logger.Warn(ctx, op+": failed to set leverage, continuing with exchange default", map[string]interface{}{
			"symbol": symbol, "leverage": leverage, "error": err.Error(),
		})
	}

	price, err := c.getTickerPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if price <= 0 {
		err := fmt.Errorf("ticker price %f is not positive for symbol %s", price, symbol)
		return nil, c.handleError(ctx, err, op)
	}

	step, err := c.getLotStepSize(ctx, symbol)
	if err != nil {
		return nil, err
	}

	rawQty := decimal.NewFromFloat(notional * float64(leverage) / price)
	qty := rawQty
	if step.IsPositive() {
		qty = rawQty.Div(step).Floor().Mul(step)
	}
	if !qty.IsPositive() {
		err := fmt.Errorf("computed quantity %s below lot step %s for symbol %s", rawQty.String(), step.String(), symbol)
		return nil, c.handleError(ctx, err, op)
	}

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideTypeBuy).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	fillPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	if fillPrice <= 0 {
		// Market order responses sometimes omit the average price; the last
		// ticker price is the closest available approximation.
		fillPrice = price
	}
	fillQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	if fillQty <= 0 {
		fillQty, _ = qty.Float64()
	}

	fill := &ports.EntryFill{
		Symbol:   symbol,
		Price:    fillPrice,
		Quantity: fillQty,
		Leverage: leverage,
		OrderID:  order.OrderID,
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "quantity": fill.Quantity, "avgPrice": fill.Price, "orderID": fill.OrderID,
	})
	return fill, nil
}

// PlaceProtectiveOrders places the stop-loss and take-profit orders for an
// open position. Both orders use ClosePosition so they flatten whatever size
// remains when triggered.
func (c *Client) PlaceProtectiveOrders(ctx context.Context, symbol string, quantity, stopPrice, targetPrice float64) error {
	op := "PlaceProtectiveOrders"

	qtyStr := decimal.NewFromFloat(quantity).String()
	stopStr := decimal.NewFromFloat(stopPrice).String()
	targetStr := decimal.NewFromFloat(targetPrice).String()

	_, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideTypeSell).
		Type(futures.OrderTypeStopMarket).
		Quantity(qtyStr).
		StopPrice(stopStr).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op+" (stop-loss)")
	}

	_, err = c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideTypeSell).
		Type(futures.OrderTypeTakeProfitMarket).
		Quantity(qtyStr).
		StopPrice(targetStr).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op+" (take-profit)")
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "stopPrice": stopStr, "targetPrice": targetStr,
	})
	return nil
}

// QueryPositionSize returns the current position amount for the symbol. A
// zero return means the position is flat.
func (c *Client) QueryPositionSize(ctx context.Context, symbol string) (float64, error) {
	op := "QueryPositionSize"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(positions) == 0 {
		c.logger.Debug(ctx, op+": No position found for symbol", map[string]interface{}{"symbol": symbol})
		return 0, nil
	}

	// Assuming only one position per symbol for futures
	qty, err := strconv.ParseFloat(positions[0].PositionAmt, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse position amount '%s': %w", positions[0].PositionAmt, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return qty, nil
}

// ForceClose cancels open orders for the symbol and flattens any remaining
// position at market. Closing an already-flat position is not an error.
func (c *Client) ForceClose(ctx context.Context, symbol string) (*ports.CloseFill, error) {
	op := "ForceClose"

	if err := c.futuresClient.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return nil, c.handleError(ctx, err, op+" (cancel orders)")
	}

	qty, err := c.QueryPositionSize(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if qty == 0 {
		c.logger.Info(ctx, op+": position already flat", map[string]interface{}{"symbol": symbol})
		return &ports.CloseFill{}, nil
	}

	side := futures.SideTypeSell
	if qty < 0 {
		side = futures.SideTypeBuy
		qty = -qty
	}

	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(decimal.NewFromFloat(qty).String()).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op+" (market close)")
	}

	exitPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	if exitPrice <= 0 {
		if markPrice, markErr := c.GetMarkPrice(ctx, symbol); markErr == nil {
			exitPrice = markPrice
		} else {
			c.logger.Warn(ctx, op+": no fill price available, recording zero exit price", map[string]interface{}{
				"symbol": symbol, "error": markErr.Error(),
			})
		}
	}

	fill := &ports.CloseFill{Price: exitPrice, Quantity: qty}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "quantity": fill.Quantity, "exitPrice": fill.Price, "orderID": order.OrderID,
	})
	return fill, nil
}

var _ ports.ExecutionGateway = (*Client)(nil)
