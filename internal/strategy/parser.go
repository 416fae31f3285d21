package strategy

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	reCandles = regexp.MustCompile(`close\b.*\bafter\s+(\d+)\s+candles?`)
	reTime    = regexp.MustCompile(`close\b.*\bafter\s+(\d+(?:\.\d+)?)\s+(minutes?|mins?|hours?|hrs?)`)
	reProfit  = regexp.MustCompile(`(?:take\s+profit|close)\s+(?:at|reaches|when\s+profit\s+reaches)\s+(\d+(?:\.\d+)?)\s*%`)
	reLoss    = regexp.MustCompile(`(?:stop\s+loss|close)\s+(?:at|exceeds|when\s+loss\s+exceeds)\s+-?(\d+(?:\.\d+)?)\s*%`)
	reTrail   = regexp.MustCompile(`trail(?:ing)?\s+stop(?:\s+(?:at|of|by)?\s*(\d+(?:\.\d+)?)\s*%)?`)
	// Point-based form: "trailing stop 10 points after 20 points profit"
	reTrailPts = regexp.MustCompile(`trail(?:ing)?\s+stop\s+(?:of\s+|by\s+)?(\d+(?:\.\d+)?)\s*(?:points?|pts)(?:\s+after\s+(\d+(?:\.\d+)?)\s*(?:points?|pts)(?:\s+(?:of\s+)?profit)?)?`)
	reScaleOut = regexp.MustCompile(`(?:scale\s+out|partial(?:ly)?\s+close)\s+(?:at|when)\s+(\d+(?:\.\d+)?)\s*%`)

	reRiskPerTrade    = regexp.MustCompile(`risk\s+(\d+(?:\.\d+)?)\s*%\s+per\s+trade`)
	reRiskStopLoss    = regexp.MustCompile(`stop\s+loss\s+(?:of\s+)?(\d+(?:\.\d+)?)\s*%`)
	reRiskTakeProfit  = regexp.MustCompile(`take\s+profit\s+(?:of\s+)?(\d+(?:\.\d+)?)\s*%`)
	rePunctuation     = regexp.MustCompile(`[,;:!?()\[\]{}"']`)
	reCollapseSpaces  = regexp.MustCompile(`\s+`)
)

// Parse extracts exit rules and risk defaults from free-form strategy
// text. Parsing is line by line, case-folded and punctuation stripped,
// deterministic and idempotent on the same input.
func Parse(text, timeframe string) (*RuleSet, error) {
	set := &RuleSet{
		Timeframe:     timeframe,
		ParserVersion: ParserVersion,
	}

	for _, rawLine := range strings.Split(text, "\n") {
		line := normalise(rawLine)
		if line == "" {
			continue
		}

		rule, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %q: %w", strings.TrimSpace(rawLine), err)
		}
		if rule != nil {
			rule.Source = strings.TrimSpace(rawLine)
			set.Rules = append(set.Rules, *rule)
		}

		extractRisk(line, &set.Risk)
	}

	// Stable order: priority descending, original order within a priority
	sort.SliceStable(set.Rules, func(i, j int) bool {
		return set.Rules[i].Priority > set.Rules[j].Priority
	})

	return set, nil
}

func normalise(line string) string {
	line = strings.ToLower(strings.TrimSpace(line))
	line = rePunctuation.ReplaceAllString(line, " ")
	return strings.TrimSpace(reCollapseSpaces.ReplaceAllString(line, " "))
}

// parseLine emits at most one rule per line. Pattern order matters:
// scale-out and trailing phrases would otherwise be swallowed by the
// generic close/profit patterns.
func parseLine(line string) (*ParsedRule, error) {
	if m := reScaleOut.FindStringSubmatch(line); m != nil {
		value := parseNum(m[1])
		if value > maxProfitPercent {
			return nil, fmt.Errorf("scale-out trigger %.1f%% exceeds %d%% cap", value, maxProfitPercent)
		}
		return &ParsedRule{
			Type:       RuleScaleOut,
			Priority:   5,
			Value:      value,
			Comparison: CompareGreaterThan,
			CloseType:  ClosePartial,
			Fraction:   defaultScaleOutPercent,
		}, nil
	}

	if m := reTrailPts.FindStringSubmatch(line); m != nil {
		distance := parseNum(m[1])
		activation := distance
		if m[2] != "" {
			activation = parseNum(m[2])
		}
		return &ParsedRule{
			Type:      RuleTrailStop,
			Priority:  6,
			Value:     activation,
			Distance:  distance,
			Unit:      UnitPoints,
			CloseType: CloseFull,
		}, nil
	}

	if m := reTrail.FindStringSubmatch(line); m != nil {
		value := defaultTrailPercent
		if m[1] != "" {
			value = parseNum(m[1])
		}
		return &ParsedRule{
			Type:      RuleTrailStop,
			Priority:  6,
			Value:     value,
			Distance:  value,
			Unit:      UnitPercent,
			CloseType: CloseFull,
		}, nil
	}

	if m := reCandles.FindStringSubmatch(line); m != nil {
		candles := parseNum(m[1])
		if candles > maxCandles {
			return nil, fmt.Errorf("%d candles exceeds %d cap", int(candles), maxCandles)
		}
		return &ParsedRule{
			Type:      RuleExitAfterCandles,
			Priority:  8,
			Value:     candles,
			CloseType: CloseFull,
		}, nil
	}

	if m := reTime.FindStringSubmatch(line); m != nil {
		minutes := parseNum(m[1])
		if strings.HasPrefix(m[2], "h") {
			minutes *= 60
		}
		return &ParsedRule{
			Type:      RuleExitAfterTime,
			Priority:  7,
			Value:     minutes,
			CloseType: CloseFull,
		}, nil
	}

	if m := reLoss.FindStringSubmatch(line); m != nil && strings.Contains(line, "loss") {
		value := parseNum(m[1])
		if value > maxLossPercent {
			return nil, fmt.Errorf("loss limit %.1f%% exceeds %d%% cap", value, maxLossPercent)
		}
		return &ParsedRule{
			Type:       RuleExitOnLoss,
			Priority:   10,
			Value:      -value,
			Comparison: CompareLessThan,
			CloseType:  CloseFull,
		}, nil
	}

	if m := reProfit.FindStringSubmatch(line); m != nil {
		value := parseNum(m[1])
		if value > maxProfitPercent {
			return nil, fmt.Errorf("profit target %.1f%% exceeds %d%% cap", value, maxProfitPercent)
		}
		return &ParsedRule{
			Type:       RuleExitOnProfit,
			Priority:   9,
			Value:      value,
			Comparison: CompareGreaterThan,
			CloseType:  CloseFull,
		}, nil
	}

	// "close ... exceeds X%" without the word loss still means a loss exit
	if m := reLoss.FindStringSubmatch(line); m != nil && strings.Contains(line, "exceeds") {
		value := parseNum(m[1])
		if value > maxLossPercent {
			return nil, fmt.Errorf("loss limit %.1f%% exceeds %d%% cap", value, maxLossPercent)
		}
		return &ParsedRule{
			Type:       RuleExitOnLoss,
			Priority:   10,
			Value:      -value,
			Comparison: CompareLessThan,
			CloseType:  CloseFull,
		}, nil
	}

	return nil, nil
}

func extractRisk(line string, risk *RiskDefaults) {
	if m := reRiskPerTrade.FindStringSubmatch(line); m != nil {
		v := parseNum(m[1])
		risk.RiskPerTradePercent = &v
	}
	if m := reRiskStopLoss.FindStringSubmatch(line); m != nil {
		v := parseNum(m[1])
		risk.StopLossPercent = &v
	}
	if m := reRiskTakeProfit.FindStringSubmatch(line); m != nil {
		v := parseNum(m[1])
		risk.TakeProfitPercent = &v
	}
}

func parseNum(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// CandleRuleMinutes converts an EXIT_AFTER_CANDLES rule to minutes for
// the given timeframe.
func CandleRuleMinutes(rule ParsedRule, timeframe string) float64 {
	return rule.Value * float64(TimeframeMinutes(timeframe))
}
