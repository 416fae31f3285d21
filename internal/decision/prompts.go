package decision

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a disciplined trading analyst. You receive market data, risk limits and portfolio state for one instrument and respond with exactly one JSON object:

{
  "decision": "EXECUTE_TRADE" | "HOLD" | "CLOSE_POSITION",
  "confidence": <0-100>,
  "reasoning": "<short explanation>",
  "tradeParams": {
    "symbol": "<symbol>",
    "direction": "BUY" | "SELL",
    "orderType": "MARKET",
    "quantity": <number>,
    "stopLoss": <number, optional>,
    "takeProfit": <number, optional>
  }
}

tradeParams is required when the decision is EXECUTE_TRADE and must be omitted otherwise. Never exceed the quantity you are given. Respond with the JSON object only, no other text.`

func buildUserPrompt(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Instrument: %s\n", in.Symbol)
	if in.CurrentPrice != nil {
		fmt.Fprintf(&b, "Current price: %.5f\n", *in.CurrentPrice)
	} else {
		b.WriteString("Current price: UNAVAILABLE (no live feed; be conservative)\n")
	}
	fmt.Fprintf(&b, "Maximum quantity: %v\n", in.Quantity)

	if in.MarketConditions != "" {
		b.WriteString("\n## Market conditions\n")
		b.WriteString(in.MarketConditions)
		b.WriteString("\n")
	}
	if in.TechnicalsPanel != "" {
		b.WriteString("\n## Technicals\n")
		b.WriteString(in.TechnicalsPanel)
		b.WriteString("\n")
	}
	if in.RiskPanel != "" {
		b.WriteString("\n## Risk limits\n")
		b.WriteString(in.RiskPanel)
		b.WriteString("\n")
	}
	if in.PortfolioPanel != "" {
		b.WriteString("\n## Portfolio\n")
		b.WriteString(in.PortfolioPanel)
		b.WriteString("\n")
	}
	if len(in.ChartPNG) > 0 {
		b.WriteString("\nA chart image of the instrument is attached.\n")
	} else {
		b.WriteString("\nNo chart image is available for this evaluation.\n")
	}

	b.WriteString("\nDecide now.")
	return b.String()
}
