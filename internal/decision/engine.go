package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"trading-platform/internal/logging"
)

// Decisions the chain can return
const (
	DecisionExecuteTrade = "EXECUTE_TRADE"
	DecisionHold         = "HOLD"
	DecisionClosePosition = "CLOSE_POSITION"
)

const (
	decisionTimeout       = 60 * time.Second
	fallbackMaxConfidence = 65
)

// TradeParams carries the order the model proposes
type TradeParams struct {
	Symbol    string   `json:"symbol"`
	Direction string   `json:"direction"`
	OrderType string   `json:"orderType"`
	Quantity  float64  `json:"quantity"`
	StopLoss  *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
}

// Outcome is the parsed trading decision
type Outcome struct {
	Decision    string       `json:"decision"`
	Confidence  int          `json:"confidence"`
	Reasoning   string       `json:"reasoning"`
	TradeParams *TradeParams `json:"tradeParams,omitempty"`

	// FallbackPrice is set when the decision was made without a live
	// price and a price had to be estimated.
	FallbackPrice *float64 `json:"-"`
}

// Input is everything the chain needs to make one decision
type Input struct {
	Symbol           string
	CurrentPrice     *float64 // nil when no live price is available
	RecentClose      *float64 // most recent OHLC close, fallback source
	MarketConditions string   // embeds the higher-timeframe summary
	RiskPanel        string
	TechnicalsPanel  string
	PortfolioPanel   string
	ChartPNG         []byte
	Quantity         float64
}

// staticBasePrices is the last-resort price estimate per symbol family.
// Only used when both the live price and recent OHLC are missing.
var staticBasePrices = map[string]float64{
	"BTCUSD": 60000, "ETHUSD": 3000, "SOLUSD": 150,
	"EURUSD": 1.08, "GBPUSD": 1.27, "USDJPY": 150,
	"GOLD": 2300, "US500": 5200, "AAPL": 190,
}

// Engine is the trading-decision chain: prompt assembly, one LLM call,
// strict parse of the answer.
type Engine struct {
	client *Client
	logger *logging.Logger
}

// NewEngine creates a decision engine
func NewEngine(client *Client, logger *logging.Logger) *Engine {
	return &Engine{client: client, logger: logger.WithComponent("decision")}
}

// Decide runs the chain. The call is bounded by 60 s; on timeout the
// result is HOLD with the timeout logged. When no live price exists and
// the model wants to trade, a fallback price is estimated and confidence
// is capped at 65.
func (e *Engine) Decide(ctx context.Context, in Input) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, decisionTimeout)
	defer cancel()

	raw, err := e.client.Complete(ctx, systemPrompt, buildUserPrompt(in), in.ChartPNG)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			e.logger.Warn("Decision call timed out, holding", "symbol", in.Symbol)
			return &Outcome{
				Decision:   DecisionHold,
				Confidence: 0,
				Reasoning:  "Decision timed out",
			}, nil
		}
		return nil, fmt.Errorf("decision call failed: %w", err)
	}

	out, err := parseOutcome(raw)
	if err != nil {
		return nil, fmt.Errorf("unparseable decision for %s: %w", in.Symbol, err)
	}

	if out.Decision == DecisionExecuteTrade && in.CurrentPrice == nil {
		price := e.fallbackPrice(in)
		out.FallbackPrice = &price
		if out.Confidence > fallbackMaxConfidence {
			out.Confidence = fallbackMaxConfidence
		}
		e.logger.Warn("Executing on estimated price", "symbol", in.Symbol,
			"estimatedPrice", price, "confidence", out.Confidence)
	}
	return out, nil
}

func (e *Engine) fallbackPrice(in Input) float64 {
	if in.RecentClose != nil && *in.RecentClose > 0 {
		return *in.RecentClose
	}
	if base, ok := staticBasePrices[strings.ToUpper(in.Symbol)]; ok {
		return base
	}
	return 100
}

var codeFence = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// parseOutcome extracts the JSON decision object from the model output.
// Code fences and surrounding prose are tolerated; everything else about
// the shape is strict.
func parseOutcome(raw string) (*Outcome, error) {
	text := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if start := strings.Index(text, "{"); start > 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var out Outcome
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, err
	}

	switch out.Decision {
	case DecisionExecuteTrade, DecisionHold, DecisionClosePosition:
	default:
		return nil, fmt.Errorf("unknown decision %q", out.Decision)
	}
	if out.Confidence < 0 || out.Confidence > 100 {
		return nil, fmt.Errorf("confidence %d out of range", out.Confidence)
	}
	if out.Decision == DecisionExecuteTrade {
		if out.TradeParams == nil {
			return nil, fmt.Errorf("EXECUTE_TRADE without trade params")
		}
		dir := strings.ToUpper(out.TradeParams.Direction)
		if dir != "BUY" && dir != "SELL" {
			return nil, fmt.Errorf("invalid direction %q", out.TradeParams.Direction)
		}
		out.TradeParams.Direction = dir
	}
	return &out, nil
}
