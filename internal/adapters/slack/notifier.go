// Package slack delivers status events to a Slack channel via an incoming
// webhook. Delivery is best-effort; callers decide how to react to failures.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/krishnaAiGen/telegram-listing/internal/domain"
	"github.com/krishnaAiGen/telegram-listing/internal/ports"
)

const requestTimeout = 3 * time.Second

// Notifier implements the ports.Notifier interface using a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     ports.Logger
}

// Config holds configuration for the Slack notifier.
type Config struct {
	WebhookURL string // Empty disables delivery; Notify becomes a no-op
	Logger     ports.Logger
}

// New creates a new Slack notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Slack notifier")
	}
	if cfg.WebhookURL == "" {
		cfg.Logger.Warn(context.Background(), "Slack webhook URL not configured, notifications disabled")
	}
	return &Notifier{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: requestTimeout},
		logger:     cfg.Logger,
	}, nil
}

// Notify formats the event as a plain-text message and posts it to the
// webhook. A non-200 response is reported as an error.
func (n *Notifier) Notify(ctx context.Context, kind domain.EventKind, payload map[string]interface{}) error {
	if n.webhookURL == "" {
		n.logger.Debug(ctx, "Slack notification skipped, no webhook configured", map[string]interface{}{"kind": kind})
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"text": formatMessage(kind, payload),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, n.webhookURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create Slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to Slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug(ctx, "Slack notification delivered", map[string]interface{}{"kind": kind})
	return nil
}

// formatMessage builds the webhook text: a title line for the event kind, a
// timestamp, then the payload as sorted key/value lines.
func formatMessage(kind domain.EventKind, payload map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(titleFor(kind))
	b.WriteString("\nTime: ")
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("\n%s: %v", k, payload[k]))
	}
	return b.String()
}

func titleFor(kind domain.EventKind) string {
	switch kind {
	case domain.EventSignalDetected:
		return ":mag: *Listing Signal Detected*"
	case domain.EventSignalIgnored:
		return ":no_bell: *Signal Ignored*"
	case domain.EventTradeOpened:
		return ":dart: *Trade Opened*"
	case domain.EventTradeClosed:
		return ":checkered_flag: *Trade Closed*"
	case domain.EventTradeAborted:
		return ":x: *Trade Aborted*"
	case domain.EventMonitoringDegraded:
		return ":warning: *Monitoring Degraded*"
	case domain.EventError:
		return ":rotating_light: *Error*"
	case domain.EventStartup:
		return ":rocket: *Supervisor Started*"
	case domain.EventShutdown:
		return ":stop_sign: *Supervisor Stopped*"
	default:
		return ":bell: *Notification*"
	}
}

var _ ports.Notifier = (*Notifier)(nil)
