package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishnaAiGen/telegram-listing/internal/domain"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
func (m *mockLogger) Fatal(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestNotifier_Notify(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := New(Config{WebhookURL: server.URL, Logger: &mockLogger{}})
	require.NoError(t, err)

	err = notifier.Notify(context.Background(), domain.EventTradeOpened, map[string]interface{}{
		"symbol":   "TAIKOUSDT",
		"quantity": 810.37,
	})
	require.NoError(t, err)

	require.Contains(t, received, "text")
	assert.Contains(t, received["text"], "Trade Opened")
	assert.Contains(t, received["text"], "symbol: TAIKOUSDT")
	assert.Contains(t, received["text"], "quantity: 810.37")
}

func TestNotifier_Notify_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier, err := New(Config{WebhookURL: server.URL, Logger: &mockLogger{}})
	require.NoError(t, err)

	err = notifier.Notify(context.Background(), domain.EventError, map[string]interface{}{"error": "boom"})
	assert.Error(t, err)
}

func TestNotifier_Notify_NoWebhookConfigured(t *testing.T) {
	notifier, err := New(Config{Logger: &mockLogger{}})
	require.NoError(t, err)

	err = notifier.Notify(context.Background(), domain.EventStartup, nil)
	assert.NoError(t, err)
}

func TestNew_RequiresLogger(t *testing.T) {
	notifier, err := New(Config{WebhookURL: "https://hooks.slack.com/services/x"})
	assert.Error(t, err)
	assert.Nil(t, notifier)
}
