package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishnaAiGen/telegram-listing/internal/ports"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		quoteAsset string
		want       string
		wantErr    error
	}{
		{
			name:       "single ticker",
			text:       "$LA listed on Binance futures",
			quoteAsset: "USDT",
			want:       "LAUSDT",
		},
		{
			name:       "multiple tickers - first occurrence wins",
			text:       "$TAIKO, $SQD listed on Binance futures",
			quoteAsset: "USDT",
			want:       "TAIKOUSDT",
		},
		{
			name:       "no listing keywords",
			text:       "just chatting, no news",
			quoteAsset: "USDT",
			wantErr:    ports.ErrNoSignal,
		},
		{
			name:       "market token without derivatives token",
			text:       "$LA listed on Binance spot",
			quoteAsset: "USDT",
			wantErr:    ports.ErrNoSignal,
		},
		{
			name:       "keywords but no ticker",
			text:       "Binance futures maintenance window announced",
			quoteAsset: "USDT",
			wantErr:    ports.ErrNoSymbol,
		},
		{
			name:       "keywords are case-insensitive",
			text:       "$SQD LISTED ON BINANCE FUTURES",
			quoteAsset: "USDT",
			want:       "SQDUSDT",
		},
		{
			name:       "lowercase ticker is not a marker hit",
			text:       "$la listed on Binance futures",
			quoteAsset: "USDT",
			wantErr:    ports.ErrNoSymbol,
		},
		{
			name:       "ticker longer than bound is skipped",
			text:       "$VERYLONGTICKER listed on Binance futures",
			quoteAsset: "USDT",
			wantErr:    ports.ErrNoSymbol,
		},
		{
			name:       "alphanumeric ticker",
			text:       "$1000PEPE perpetual listed on Binance Futures",
			quoteAsset: "USDT",
			want:       "1000PEPEUSDT",
		},
		{
			name:       "alternate quote asset",
			text:       "$SQD listed on Binance futures",
			quoteAsset: "USDC",
			want:       "SQDUSDC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.text, tt.quoteAsset)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	const text = "$TAIKO, $SQD listed on Binance futures"
	first, err := Extract(text, "USDT")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		got, err := Extract(text, "USDT")
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}
