// Package telegram receives announcement messages from a Telegram chat or
// channel via the Bot API long-poll and hands the raw text to a handler.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/krishnaAiGen/telegram-listing/internal/ports"
)

// SignalHandler processes one raw announcement message. Handlers are invoked
// on their own goroutine so a slow trade admission never stalls the poll loop.
type SignalHandler func(ctx context.Context, text string)

// Listener long-polls the Telegram Bot API for new messages.
type Listener struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	handler SignalHandler
	logger  ports.Logger
}

// Config holds configuration for the Telegram listener.
type Config struct {
	BotToken string
	ChatID   int64 // Messages from any other chat are ignored; 0 accepts all
	Handler  SignalHandler
	Logger   ports.Logger
}

// New creates a new Telegram listener and authenticates the bot.
func New(cfg Config) (*Listener, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Telegram listener")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler is required for Telegram listener")
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required for Telegram listener")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	cfg.Logger.Info(context.Background(), "Telegram bot authorized", map[string]interface{}{"account": bot.Self.UserName})

	return &Listener{
		bot:     bot,
		chatID:  cfg.ChatID,
		handler: cfg.Handler,
		logger:  cfg.Logger,
	}, nil
}

// Start runs the long-poll loop until the context is cancelled. It blocks;
// run it on its own goroutine.
func (l *Listener) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := l.bot.GetUpdatesChan(u)
	l.logger.Info(ctx, "Telegram listener started", map[string]interface{}{"chatID": l.chatID})

	for {
		select {
		case <-ctx.Done():
			l.bot.StopReceivingUpdates()
			l.logger.Info(ctx, "Telegram listener stopped")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				l.logger.Warn(ctx, "Telegram update channel closed")
				return fmt.Errorf("telegram update channel closed: %w", ports.ErrConnectionFailed)
			}
			l.dispatch(ctx, &update)
		}
	}
}

// dispatch extracts the text from a message or channel post and hands it off.
func (l *Listener) dispatch(ctx context.Context, update *tgbotapi.Update) {
	// Announcements arrive as channel posts; direct chats deliver messages.
	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil || msg.Text == "" {
		return
	}
	if l.chatID != 0 && msg.Chat.ID != l.chatID {
		l.logger.Debug(ctx, "Ignoring message from unexpected chat", map[string]interface{}{"chatID": msg.Chat.ID})
		return
	}

	l.logger.Debug(ctx, "Received Telegram message", map[string]interface{}{"chatID": msg.Chat.ID, "length": len(msg.Text)})
	go l.handler(ctx, msg.Text)
}
