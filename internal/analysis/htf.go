package analysis

import (
	"context"
	"fmt"
	"math"

	"trading-platform/internal/broker"
	"trading-platform/internal/logging"
	"trading-platform/internal/marketdata"
)

// Trend represents higher-timeframe direction
type Trend string

const (
	TrendBullish Trend = "BULLISH"
	TrendBearish Trend = "BEARISH"
	TrendNeutral Trend = "NEUTRAL"
)

// Momentum represents how decisively price is moving with the trend
type Momentum string

const (
	MomentumStrong  Momentum = "STRONG"
	MomentumWeak    Momentum = "WEAK"
	MomentumNeutral Momentum = "NEUTRAL"
)

// Context is the higher-timeframe summary fed into a trading decision.
// It biases the primary-timeframe decision and is never authoritative.
type Context struct {
	Timeframe  string   `json:"timeframe"`
	Trend      Trend    `json:"trend"`
	Momentum   Momentum `json:"momentum"`
	ShortSMA   float64  `json:"shortSma"`
	LongSMA    float64  `json:"longSma"`
	Support    float64  `json:"support"`
	Resistance float64  `json:"resistance"`
	Confidence int      `json:"confidence"` // 30..70
	Candles    int      `json:"candles"`
}

// higherTimeframe maps a bot's timeframe one step up. Lookbacks are kept
// very short because some brokers only serve a narrow history window.
var higherTimeframe = map[string]struct {
	timeframe string
	candles   int
}{
	"M1":  {"M5", 6},
	"M5":  {"M15", 4},
	"M15": {"H1", 3},
	"M30": {"H1", 3},
	"H1":  {"H4", 3},
	"H4":  {"D1", 2},
	"D1":  {"D1", 2},
}

// Analyser computes a higher-timeframe context from cached OHLC data
type Analyser struct {
	logger *logging.Logger
}

// NewAnalyser creates a higher-timeframe analyser
func NewAnalyser(logger *logging.Logger) *Analyser {
	return &Analyser{logger: logger.WithComponent("analysis")}
}

// Analyse returns the higher-timeframe context for a symbol. On any error
// it returns a neutral context; it never blocks the evaluation.
func (a *Analyser) Analyse(ctx context.Context, cache *marketdata.Cache, symbol, timeframe string) *Context {
	htf, ok := higherTimeframe[timeframe]
	if !ok {
		htf = higherTimeframe["M15"]
	}

	candles, err := cache.GetOHLC(ctx, symbol, htf.timeframe, htf.candles)
	if err != nil || len(candles) == 0 {
		a.logger.WithError(err).Warn("Higher-timeframe data unavailable, returning neutral context",
			"symbol", symbol, "timeframe", htf.timeframe)
		return neutralContext(htf.timeframe)
	}

	return Summarise(candles, htf.timeframe)
}

// Summarise computes trend, momentum, support/resistance and a confidence
// score from a candle series. Works with as little as one candle.
func Summarise(candles []broker.Candle, timeframe string) *Context {
	out := &Context{
		Timeframe: timeframe,
		Candles:   len(candles),
	}

	closes := make([]float64, len(candles))
	out.Support = candles[0].Low
	out.Resistance = candles[0].High
	for i, c := range candles {
		closes[i] = c.Close
		if c.Low < out.Support {
			out.Support = c.Low
		}
		if c.High > out.Resistance {
			out.Resistance = c.High
		}
	}

	// Adaptive SMA periods: shrink to whatever history we actually have
	shortPeriod := len(closes)
	if shortPeriod > 3 {
		shortPeriod = 3
	}
	longPeriod := len(closes)

	out.ShortSMA = sma(closes, shortPeriod)
	out.LongSMA = sma(closes, longPeriod)

	out.Trend, out.Momentum = classify(out.ShortSMA, out.LongSMA, closes)
	out.Confidence = confidence(out.Trend, out.Momentum, len(candles))
	return out
}

func sma(closes []float64, period int) float64 {
	if period <= 0 || period > len(closes) {
		period = len(closes)
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period)
}

func classify(shortSMA, longSMA float64, closes []float64) (Trend, Momentum) {
	if longSMA == 0 {
		return TrendNeutral, MomentumNeutral
	}
	spread := (shortSMA - longSMA) / longSMA * 100

	var trend Trend
	switch {
	case spread > 0.05:
		trend = TrendBullish
	case spread < -0.05:
		trend = TrendBearish
	default:
		trend = TrendNeutral
	}

	momentum := MomentumNeutral
	if len(closes) >= 2 && trend != TrendNeutral {
		first, last := closes[0], closes[len(closes)-1]
		if first != 0 {
			change := math.Abs((last - first) / first * 100)
			if change > 0.5 {
				momentum = MomentumStrong
			} else {
				momentum = MomentumWeak
			}
		}
	}
	return trend, momentum
}

// confidence scores the context between 30 and 70. A clear trend with
// strong momentum over more candles scores higher; a neutral read stays
// near the floor.
func confidence(trend Trend, momentum Momentum, candles int) int {
	score := 40
	if trend != TrendNeutral {
		score += 10
	}
	switch momentum {
	case MomentumStrong:
		score += 15
	case MomentumWeak:
		score += 5
	}
	if candles >= 3 {
		score += 5
	}
	if score < 30 {
		score = 30
	}
	if score > 70 {
		score = 70
	}
	return score
}

func neutralContext(timeframe string) *Context {
	return &Context{
		Timeframe:  timeframe,
		Trend:      TrendNeutral,
		Momentum:   MomentumNeutral,
		Confidence: 30,
	}
}

// Summary renders the context as one line for prompt assembly
func (c *Context) Summary() string {
	return fmt.Sprintf("%s trend %s, momentum %s, support %.5f, resistance %.5f (confidence %d%%)",
		c.Timeframe, c.Trend, c.Momentum, c.Support, c.Resistance, c.Confidence)
}
