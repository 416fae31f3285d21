package strategy

import (
	"reflect"
	"testing"
)

func TestParseExitAfterCandles(t *testing.T) {
	set, err := Parse("Close the position after 3 candles", "M15")
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(set.Rules))
	}
	rule := set.Rules[0]
	if rule.Type != RuleExitAfterCandles || rule.Priority != 8 || rule.Value != 3 {
		t.Errorf("unexpected rule: %+v", rule)
	}
	if got := CandleRuleMinutes(rule, "M15"); got != 45 {
		t.Errorf("3 M15 candles should resolve to 45 minutes, got %v", got)
	}
}

func TestParseExitAfterTime(t *testing.T) {
	tests := []struct {
		text    string
		minutes float64
	}{
		{"close after 30 minutes", 30},
		{"Close the trade after 2 hours", 120},
		{"close after 45 mins", 45},
	}
	for _, tt := range tests {
		set, err := Parse(tt.text, "M5")
		if err != nil {
			t.Fatal(err)
		}
		if len(set.Rules) != 1 || set.Rules[0].Type != RuleExitAfterTime {
			t.Fatalf("%q: expected one EXIT_AFTER_TIME rule, got %+v", tt.text, set.Rules)
		}
		if set.Rules[0].Value != tt.minutes {
			t.Errorf("%q: expected %v minutes, got %v", tt.text, tt.minutes, set.Rules[0].Value)
		}
		if set.Rules[0].Priority != 7 {
			t.Errorf("%q: expected priority 7, got %d", tt.text, set.Rules[0].Priority)
		}
	}
}

func TestParseProfitAndLoss(t *testing.T) {
	text := "Take profit at 5%\nStop loss at 2%"
	set, err := Parse(text, "M15")
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(set.Rules))
	}

	// Loss has the higher priority and sorts first
	loss := set.Rules[0]
	if loss.Type != RuleExitOnLoss || loss.Priority != 10 {
		t.Errorf("expected EXIT_ON_LOSS first, got %+v", loss)
	}
	if loss.Value != -2 || loss.Comparison != CompareLessThan {
		t.Errorf("loss value should be negated with less_than, got %+v", loss)
	}

	profit := set.Rules[1]
	if profit.Type != RuleExitOnProfit || profit.Priority != 9 {
		t.Errorf("expected EXIT_ON_PROFIT second, got %+v", profit)
	}
	if profit.Value != 5 || profit.Comparison != CompareGreaterThan {
		t.Errorf("profit rule wrong: %+v", profit)
	}
}

func TestParseTrailStopDefault(t *testing.T) {
	set, err := Parse("Use a trailing stop", "H1")
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(set.Rules))
	}
	rule := set.Rules[0]
	if rule.Type != RuleTrailStop || rule.Priority != 6 {
		t.Errorf("unexpected rule: %+v", rule)
	}
	if rule.Value != defaultTrailPercent {
		t.Errorf("trailing stop without value should default to %v%%, got %v", defaultTrailPercent, rule.Value)
	}
}

func TestParseTrailStopExplicit(t *testing.T) {
	set, err := Parse("trailing stop at 1.5%", "H1")
	if err != nil {
		t.Fatal(err)
	}
	if set.Rules[0].Value != 1.5 {
		t.Errorf("expected 1.5, got %v", set.Rules[0].Value)
	}
	if set.Rules[0].Distance != 1.5 || set.Rules[0].Unit != UnitPercent {
		t.Errorf("percent trail should carry distance 1.5 percent, got %+v", set.Rules[0])
	}
}

func TestParseTrailStopPoints(t *testing.T) {
	set, err := Parse("Trailing stop 10 points after 20 points profit", "M15")
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(set.Rules))
	}
	rule := set.Rules[0]
	if rule.Type != RuleTrailStop || rule.Unit != UnitPoints {
		t.Fatalf("unexpected rule: %+v", rule)
	}
	if rule.Value != 20 || rule.Distance != 10 {
		t.Errorf("expected activation 20 / distance 10, got %v / %v", rule.Value, rule.Distance)
	}
}

func TestParseTrailStopPointsNoActivation(t *testing.T) {
	set, err := Parse("trail stop by 15 pts", "M15")
	if err != nil {
		t.Fatal(err)
	}
	rule := set.Rules[0]
	if rule.Unit != UnitPoints || rule.Distance != 15 || rule.Value != 15 {
		t.Errorf("distance-only points trail should activate at its distance, got %+v", rule)
	}
}

func TestParseScaleOut(t *testing.T) {
	set, err := Parse("Partial close at 3%", "M15")
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(set.Rules))
	}
	rule := set.Rules[0]
	if rule.Type != RuleScaleOut || rule.Priority != 5 {
		t.Errorf("partial-close phrasing must not match the profit pattern: %+v", rule)
	}
	if rule.CloseType != ClosePartial || rule.Fraction != defaultScaleOutPercent {
		t.Errorf("scale-out should close %v%% of the position, got %+v", defaultScaleOutPercent, rule)
	}
}

func TestParseValidationCaps(t *testing.T) {
	tests := []string{
		"close after 150 candles",
		"take profit at 80%",
		"stop loss at 35%",
	}
	for _, text := range tests {
		if _, err := Parse(text, "M15"); err == nil {
			t.Errorf("%q: expected a cap violation error", text)
		}
	}
}

func TestParseRiskDefaults(t *testing.T) {
	text := "Risk 1.5% per trade\nTrade breakouts on the hourly chart"
	set, err := Parse(text, "H1")
	if err != nil {
		t.Fatal(err)
	}
	if set.Risk.RiskPerTradePercent == nil || *set.Risk.RiskPerTradePercent != 1.5 {
		t.Errorf("risk per trade not extracted: %+v", set.Risk)
	}
	if len(set.Rules) != 0 {
		t.Errorf("narrative lines should not produce rules: %+v", set.Rules)
	}
}

func TestParseDeterministic(t *testing.T) {
	text := "Stop loss at 2%\nTake profit at 5%\nClose after 10 candles\nUse trailing stop"
	first, err := Parse(text, "M15")
	if err != nil {
		t.Fatal(err)
	}
	second, err := Parse(text, "M15")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("parsing the same text twice should yield identical rule sets")
	}
	if first.ParserVersion != ParserVersion {
		t.Errorf("rule set should be stamped with parser version %s", ParserVersion)
	}
}

func TestParsePriorityOrdering(t *testing.T) {
	text := "Partial close at 3%\nUse trailing stop\nClose after 4 candles\nTake profit at 5%\nStop loss at 2%"
	set, err := Parse(text, "M15")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{RuleExitOnLoss, RuleExitOnProfit, RuleExitAfterCandles, RuleTrailStop, RuleScaleOut}
	if len(set.Rules) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(set.Rules))
	}
	for i, typ := range want {
		if set.Rules[i].Type != typ {
			t.Errorf("position %d: expected %s, got %s", i, typ, set.Rules[i].Type)
		}
	}
}

func TestTimeframeMinutesFallback(t *testing.T) {
	if got := TimeframeMinutes("M15"); got != 15 {
		t.Errorf("M15 = %d", got)
	}
	if got := TimeframeMinutes("H4"); got != 240 {
		t.Errorf("H4 = %d", got)
	}
	if got := TimeframeMinutes("W1"); got != 15 {
		t.Errorf("unknown timeframe should fall back to 15, got %d", got)
	}
}
