package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"github.com/krishnaAiGen/telegram-listing/config"
	"github.com/krishnaAiGen/telegram-listing/internal/adapters/binanceclient"
	"github.com/krishnaAiGen/telegram-listing/internal/adapters/logger"
	"github.com/krishnaAiGen/telegram-listing/internal/adapters/slack"
	"github.com/krishnaAiGen/telegram-listing/internal/adapters/sqlite"
	"github.com/krishnaAiGen/telegram-listing/internal/adapters/telegram"
	"github.com/krishnaAiGen/telegram-listing/internal/app"
	"github.com/krishnaAiGen/telegram-listing/internal/domain"
	"github.com/krishnaAiGen/telegram-listing/internal/ports"
	"github.com/krishnaAiGen/telegram-listing/internal/risk"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Trade Ledger (Database Adapter)
	ledger, err := sqlite.NewLedger(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Fatal(context.Background(), err, "FATAL: Failed to initialize trade ledger")
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing trade ledger")
		}
	}()
	appLogger.Info(context.Background(), "Trade ledger initialized")

	// 4. Initialize Exchange Gateway (Binance Adapter)
	gateway, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Fatal(context.Background(), err, "FATAL: Failed to initialize Binance client")
	}
	if err := gateway.Ping(context.Background()); err != nil {
		appLogger.Fatal(context.Background(), err, "FATAL: Exchange is unreachable")
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Notifier
	notifier, err := slack.New(slack.Config{
		WebhookURL: cfg.SlackWebhookURL,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Fatal(context.Background(), err, "FATAL: Failed to initialize Slack notifier")
	}

	// 6. Initialize Risk Planner
	planner, err := risk.New(risk.Config{
		NotionalAmount: cfg.TradeAmount,
		Leverage:       cfg.Leverage,
		StopLossPct:    cfg.StopLossPct,
		TakeProfitPct:  cfg.ProfitTargetPct,
	})
	if err != nil {
		appLogger.Fatal(context.Background(), err, "FATAL: Failed to initialize risk planner")
	}

	// 7. Initialize Trade Supervisor
	supervisor, err := app.NewSupervisor(app.Config{
		QuoteAsset:     cfg.QuoteAsset,
		NotionalAmount: cfg.TradeAmount,
		Leverage:       cfg.Leverage,
		PollInterval:   cfg.PollInterval,
		MaxHold:        cfg.MaxHold,
	}, appLogger, gateway, ledger, notifier, planner)
	if err != nil {
		appLogger.Fatal(context.Background(), err, "FATAL: Failed to initialize trade supervisor")
	}
	appLogger.Info(context.Background(), "Trade supervisor initialized")

	// 8. Resume any trade left active by a previous run. A corrupted ledger
	// is not something to trade through.
	if err := supervisor.Resume(context.Background()); err != nil {
		appLogger.Fatal(context.Background(), err, "FATAL: Failed to resume active trade")
	}

	// 9. Start the Telegram listener
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener, err := telegram.New(telegram.Config{
		BotToken: cfg.TelegramBotToken,
		ChatID:   cfg.TelegramChatID,
		Logger:   appLogger,
		Handler: func(ctx context.Context, text string) {
			if err := supervisor.OnSignal(ctx, text); err != nil {
				if errors.Is(err, ports.ErrNoSignal) || errors.Is(err, ports.ErrActiveTradeExists) {
					return // routine rejections, already logged
				}
				appLogger.Error(ctx, err, "Signal processing failed")
			}
		},
	})
	if err != nil {
		appLogger.Fatal(context.Background(), err, "FATAL: Failed to initialize Telegram listener")
	}

	listenerDone := make(chan error, 1)
	go func() {
		listenerDone <- listener.Start(runCtx)
	}()

	if err := notifier.Notify(runCtx, domain.EventStartup, map[string]interface{}{
		"testnet":    cfg.IsTestnet,
		"quoteAsset": cfg.QuoteAsset,
		"maxHold":    cfg.MaxHold.String(),
	}); err != nil {
		appLogger.Warn(runCtx, "Failed to deliver startup notification", map[string]interface{}{"error": err.Error()})
	}
	appLogger.Info(runCtx, "Listening for listing announcements")

	// 10. Wait for a shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		appLogger.Info(runCtx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case err := <-listenerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error(runCtx, err, "Telegram listener exited")
		}
	}
	cancel()

	// 11. Close any open position as a manual stop, bounded by the grace period.
	graceCtx, graceCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer graceCancel()
	if err := supervisor.Shutdown(graceCtx); err != nil {
		appLogger.Error(graceCtx, err, "Shutdown did not complete cleanly, active record retained for next start")
	}

	if err := notifier.Notify(graceCtx, domain.EventShutdown, nil); err != nil {
		appLogger.Warn(graceCtx, "Failed to deliver shutdown notification", map[string]interface{}{"error": err.Error()})
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}
