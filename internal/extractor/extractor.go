// Package extractor turns free-form announcement text into a trading-pair
// identifier. It is pure and fully deterministic for a given input.
package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/krishnaAiGen/telegram-listing/internal/ports"
)

const (
	marketToken      = "binance"
	derivativesToken = "futures"
)

// tickerPattern matches a $-marked ticker of 2 to 10 uppercase alphanumerics.
var tickerPattern = regexp.MustCompile(`\$([A-Z0-9]{2,10})\b`)

// Extract scans raw text for a futures listing announcement and returns the
// trading-pair identifier formed by the first ticker plus the quote asset
// suffix (e.g., "TAIKO" + "USDT" -> "TAIKOUSDT").
//
// It fails with ErrNoSignal unless the text mentions both the market name and
// the derivatives market, case-insensitive. It fails with ErrNoSymbol when
// the gate passes but no ticker token is present. When several tickers
// appear, the first occurrence wins and the rest are discarded.
func Extract(text, quoteAsset string) (string, error) {
	lowered := strings.ToLower(text)
	if !strings.Contains(lowered, marketToken) || !strings.Contains(lowered, derivativesToken) {
		return "", fmt.Errorf("no listing keywords in message: %w", ports.ErrNoSignal)
	}

	match := tickerPattern.FindStringSubmatch(text)
	if match == nil {
		return "", fmt.Errorf("no ticker token in message: %w", ports.ErrNoSymbol)
	}

	return match[1] + quoteAsset, nil
}
