package risk

import (
	"testing"
	"time"
)

func at(weekday time.Weekday, hour, min int) time.Time {
	// 2026-08-03 is a Monday
	base := time.Date(2026, 8, 3, hour, min, 0, 0, time.UTC)
	return base.AddDate(0, 0, int(weekday-time.Monday))
}

func TestCryptoAlwaysOpen(t *testing.T) {
	times := []time.Time{
		at(time.Sunday, 3, 0),
		at(time.Saturday, 23, 59),
		at(time.Wednesday, 12, 0),
	}
	for _, ts := range times {
		if !MarketOpen(CategoryCrypto, ts) {
			t.Errorf("crypto should trade at %s", ts)
		}
	}
}

func TestForexWeekendBoundaries(t *testing.T) {
	tests := []struct {
		ts   time.Time
		open bool
	}{
		{at(time.Friday, 21, 59), true},   // last minute before the weekend
		{at(time.Friday, 22, 0), false},   // weekend gap begins
		{at(time.Saturday, 12, 0), false}, // closed all Saturday
		{at(time.Sunday, 21, 59), false},  // still closed
		{at(time.Sunday, 22, 0), true},    // week reopens
		{at(time.Tuesday, 3, 0), true},    // mid-week overnight trades
	}
	for _, tt := range tests {
		if got := MarketOpen(CategoryForex, tt.ts); got != tt.open {
			t.Errorf("forex at %s: open = %v, want %v", tt.ts, got, tt.open)
		}
	}
}

func TestEquityHours(t *testing.T) {
	tests := []struct {
		ts   time.Time
		open bool
	}{
		{at(time.Monday, 7, 59), false},
		{at(time.Monday, 8, 0), true},
		{at(time.Monday, 21, 59), true},
		{at(time.Monday, 22, 0), false},
		{at(time.Saturday, 12, 0), false},
		{at(time.Sunday, 12, 0), false},
	}
	for _, category := range []string{CategoryIndices, CategoryStocks, CategoryCommodities} {
		for _, tt := range tests {
			if got := MarketOpen(category, tt.ts); got != tt.open {
				t.Errorf("%s at %s: open = %v, want %v", category, tt.ts, got, tt.open)
			}
		}
	}
}

func TestCategorise(t *testing.T) {
	tests := []struct {
		symbol   string
		category string
	}{
		{"BTCUSD", CategoryCrypto},
		{"ETHUSDT", CategoryCrypto},
		{"EURUSD", CategoryForex},
		{"US500", CategoryIndices},
		{"GOLD", CategoryCommodities},
		{"AAPL", CategoryStocks},
		{"UNKNOWN_TICKER", CategoryStocks},
	}
	for _, tt := range tests {
		if got := Categorise(tt.symbol); got != tt.category {
			t.Errorf("Categorise(%s) = %s, want %s", tt.symbol, got, tt.category)
		}
	}
}
