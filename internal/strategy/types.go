package strategy

// ParserVersion stamps parsed rule sets so strategies can be re-parsed
// when the rule grammar changes.
const ParserVersion = "1.2"

// Rule types emitted by the parser
const (
	RuleExitAfterCandles = "EXIT_AFTER_CANDLES"
	RuleExitAfterTime    = "EXIT_AFTER_TIME"
	RuleExitOnProfit     = "EXIT_ON_PROFIT"
	RuleExitOnLoss       = "EXIT_ON_LOSS"
	RuleTrailStop        = "TRAIL_STOP"
	RuleScaleOut         = "SCALE_OUT"
)

// Comparison operators on a rule's trigger
const (
	CompareGreaterThan = "greater_than"
	CompareLessThan    = "less_than"
)

// Close types
const (
	CloseFull    = "close_full"
	ClosePartial = "close_partial"
)

// Trigger units. Percent measures against the entry price; points are
// instrument price increments.
const (
	UnitPercent = "percent"
	UnitPoints  = "points"
)

// timeframeMinutes resolves candle counts against the bot's timeframe
var timeframeMinutes = map[string]int{
	"M1":  1,
	"M5":  5,
	"M15": 15,
	"M30": 30,
	"H1":  60,
	"H4":  240,
	"D1":  1440,
}

// TimeframeMinutes returns the minutes per candle for a timeframe, 15 as
// the fallback.
func TimeframeMinutes(timeframe string) int {
	if m, ok := timeframeMinutes[timeframe]; ok {
		return m
	}
	return 15
}

// ParsedRule is one exit rule extracted from strategy text. For
// TRAIL_STOP, Value is the activation threshold (minimum profit) and
// Distance how far the stop trails the price, both in Unit.
type ParsedRule struct {
	Type       string  `json:"type"`
	Priority   int     `json:"priority"`
	Value      float64 `json:"value"` // candles, minutes, percent, or points depending on Type
	Comparison string  `json:"comparison,omitempty"`
	CloseType  string  `json:"closeType"`
	Fraction   float64 `json:"fraction,omitempty"` // SCALE_OUT portion to close, percent
	Distance   float64 `json:"distance,omitempty"` // TRAIL_STOP trail distance
	Unit       string  `json:"unit,omitempty"`     // percent (default) or points
	Source     string  `json:"source"`             // the strategy line that produced the rule
}

// RiskDefaults are extracted separately from the rule list
type RiskDefaults struct {
	RiskPerTradePercent *float64 `json:"riskPerTradePercent,omitempty"`
	StopLossPercent     *float64 `json:"stopLossPercent,omitempty"`
	TakeProfitPercent   *float64 `json:"takeProfitPercent,omitempty"`
}

// RuleSet is the full parser output for one strategy
type RuleSet struct {
	Rules         []ParsedRule `json:"rules"`
	Risk          RiskDefaults `json:"risk"`
	Timeframe     string       `json:"timeframe"`
	ParserVersion string       `json:"parserVersion"`
}

// Validation caps. Rules outside these bounds are rejected.
const (
	maxCandles       = 100
	maxProfitPercent = 50
	maxLossPercent   = 20
)

// Defaults applied when a phrase omits its value
const (
	defaultTrailPercent    = 2.0
	defaultScaleOutPercent = 50.0
)
