package analysis

import (
	"testing"

	"trading-platform/internal/broker"
)

func risingCandles(n int, start, step float64) []broker.Candle {
	candles := make([]broker.Candle, n)
	price := start
	for i := range candles {
		candles[i] = broker.Candle{Open: price, High: price + step, Low: price - step/2, Close: price + step}
		price += step
	}
	return candles
}

func TestSummariseBullish(t *testing.T) {
	ctx := Summarise(risingCandles(4, 100, 2), "H1")
	if ctx.Trend != TrendBullish {
		t.Errorf("steadily rising closes should read bullish, got %s", ctx.Trend)
	}
	if ctx.Momentum != MomentumStrong {
		t.Errorf("8%% move over the window should read strong, got %s", ctx.Momentum)
	}
	if ctx.Confidence < 30 || ctx.Confidence > 70 {
		t.Errorf("confidence out of range: %d", ctx.Confidence)
	}
}

func TestSummariseBearish(t *testing.T) {
	candles := risingCandles(4, 100, 2)
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	ctx := Summarise(candles, "H1")
	if ctx.Trend != TrendBearish {
		t.Errorf("falling closes should read bearish, got %s", ctx.Trend)
	}
}

func TestSummariseFlatIsNeutral(t *testing.T) {
	candles := []broker.Candle{
		{Open: 100, High: 100.1, Low: 99.9, Close: 100},
		{Open: 100, High: 100.1, Low: 99.9, Close: 100},
		{Open: 100, High: 100.1, Low: 99.9, Close: 100},
	}
	ctx := Summarise(candles, "H4")
	if ctx.Trend != TrendNeutral || ctx.Momentum != MomentumNeutral {
		t.Errorf("flat closes should be neutral, got %s/%s", ctx.Trend, ctx.Momentum)
	}
}

func TestSummariseSupportResistance(t *testing.T) {
	candles := []broker.Candle{
		{Open: 100, High: 105, Low: 98, Close: 102},
		{Open: 102, High: 110, Low: 101, Close: 108},
		{Open: 108, High: 109, Low: 96, Close: 97},
	}
	ctx := Summarise(candles, "H1")
	if ctx.Support != 96 {
		t.Errorf("support should be the recent low, got %v", ctx.Support)
	}
	if ctx.Resistance != 110 {
		t.Errorf("resistance should be the recent high, got %v", ctx.Resistance)
	}
}

func TestSummariseSingleCandle(t *testing.T) {
	ctx := Summarise([]broker.Candle{{Open: 100, High: 101, Low: 99, Close: 100.5}}, "D1")
	if ctx.Candles != 1 {
		t.Errorf("candle count = %d", ctx.Candles)
	}
	if ctx.Trend != TrendNeutral {
		t.Errorf("one candle cannot establish a trend, got %s", ctx.Trend)
	}
}

func TestHigherTimeframeMapping(t *testing.T) {
	tests := []struct {
		primary string
		higher  string
	}{
		{"M1", "M5"},
		{"M15", "H1"},
		{"H1", "H4"},
		{"D1", "D1"},
	}
	for _, tt := range tests {
		htf, ok := higherTimeframe[tt.primary]
		if !ok {
			t.Fatalf("%s missing from mapping", tt.primary)
		}
		if htf.timeframe != tt.higher {
			t.Errorf("%s should map to %s, got %s", tt.primary, tt.higher, htf.timeframe)
		}
		if htf.candles > 6 {
			t.Errorf("%s lookback too deep: %d candles", tt.primary, htf.candles)
		}
	}
}
